package llm

import (
	"context"
	"strings"
	"testing"
)

func TestDummyPlanRotatesTypes(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	plan := svc.GenerateInterviewPlan(context.Background(), "Backend Engineer", "senior", "en", 6)
	if len(plan) != 6 {
		t.Fatalf("expected 6 questions, got %d", len(plan))
	}
	want := []string{"technical", "behavioral", "situational", "general", "technical", "behavioral"}
	for i, q := range plan {
		if q.Idx != i+1 || q.Type != want[i] {
			t.Fatalf("question %d = %+v, want type %s", i, q, want[i])
		}
		if strings.Contains(q.QuestionText, "%") {
			t.Fatalf("unformatted template: %q", q.QuestionText)
		}
		if q.Competency == "" {
			t.Fatalf("missing competency on %+v", q)
		}
	}
	if !strings.Contains(plan[0].QuestionText, "Backend Engineer") {
		t.Fatalf("expected job title in first question: %q", plan[0].QuestionText)
	}
}

func TestDummyEvaluationBands(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		answer string
		lo, hi float64
	}{
		{name: "very short", answer: "yes", lo: 10, hi: 25},
		{name: "short", answer: "I worked on a payments service and fixed many bugs there", lo: 25, hi: 45},
		{name: "medium", answer: strings.Repeat("word ", 20), lo: 35, hi: 70},
		{name: "long", answer: strings.Repeat("detailed ", 60), lo: 45, hi: 85},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				ev := svc.EvaluateAnswer(ctx, "Q?", "technical", tc.answer, "Engineer", "mid")
				if ev.ScoreOverall < tc.lo || ev.ScoreOverall > tc.hi {
					t.Fatalf("overall %v outside [%v,%v]", ev.ScoreOverall, tc.lo, tc.hi)
				}
				d := ev.DimensionScores
				for _, v := range []float64{d.Relevance, d.Clarity, d.Structure, d.Impact} {
					if v < tc.lo || v > tc.hi {
						t.Fatalf("dimension %v outside [%v,%v]", v, tc.lo, tc.hi)
					}
				}
				if !strings.HasSuffix(ev.CoachNotes, dummyNote) {
					t.Fatalf("fallback notes must carry the configuration hint")
				}
			}
		})
	}
}

func TestDummySummary(t *testing.T) {
	strong := Evaluation{ScoreOverall: 82, DimensionScores: DimensionScores{Relevance: 85, Clarity: 80, Structure: 78, Impact: 84}}
	weak := Evaluation{ScoreOverall: 30, DimensionScores: DimensionScores{Relevance: 30, Clarity: 30, Structure: 30, Impact: 30}}

	high := dummySummary("Data Analyst", "mid", []AnsweredQuestion{{Scores: strong}, {Scores: strong}})
	if high.OverallScore != 82 {
		t.Fatalf("overall = %v, want 82", high.OverallScore)
	}
	if len(high.Strengths) != 4 {
		t.Fatalf("expected four strengths, got %v", high.Strengths)
	}
	if high.SuggestedRoles[0] != "Mid Data Analyst" || high.SuggestedRoles[1] != "Senior Data Analyst" {
		t.Fatalf("unexpected roles %v", high.SuggestedRoles)
	}

	low := dummySummary("Data Analyst", "junior", []AnsweredQuestion{{Scores: weak}})
	if len(low.Weaknesses) != 4 {
		t.Fatalf("expected four weaknesses, got %v", low.Weaknesses)
	}
	if low.SuggestedRoles[0] != "Entry-level Data Analyst" {
		t.Fatalf("junior candidates must not be offered junior roles again: %v", low.SuggestedRoles)
	}

	empty := dummySummary("Data Analyst", "mid", nil)
	if empty.OverallScore != 0 || len(empty.Strengths) == 0 {
		t.Fatalf("empty session summary: %+v", empty)
	}
}

func TestDummyCVFlows(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	ctx := context.Background()
	cv := strings.Repeat("engineer ", 200)

	analysis := svc.AnalyzeCV(ctx, cv, "", "")
	if analysis.OverallScore != 60 || analysis.ATSScore != 55 {
		t.Fatalf("unexpected scores: %+v", analysis)
	}
	if analysis.ScoresBreakdown["keywords"] != 50 {
		t.Fatalf("keywords score = %v", analysis.ScoresBreakdown["keywords"])
	}
	if analysis.Strengths[1] != "Document contains 200 words" {
		t.Fatalf("unexpected strengths %v", analysis.Strengths)
	}
	if capped := dummyCVAnalysis(strings.Repeat("w ", 5000)); capped.OverallScore != 85 {
		t.Fatalf("score must cap at 85, got %v", capped.OverallScore)
	}

	rw := svc.RewriteCV(ctx, "Jane Doe\n\nBuilt distributed systems at scale\n- already a bullet", "minimal", "", "")
	want := "Jane Doe\n• Built distributed systems at scale\n- already a bullet"
	if rw.RewrittenText != want {
		t.Fatalf("rewritten = %q, want %q", rw.RewrittenText, want)
	}
	if rw.ATSScoreBefore != 65 || rw.ATSScoreAfter != 75 {
		t.Fatalf("unexpected ats scores %v/%v", rw.ATSScoreBefore, rw.ATSScoreAfter)
	}

	letter := svc.GenerateCoverLetter(ctx, CoverLetterInput{JobTitle: "SRE", CompanyName: "Acme", Tone: "friendly"})
	if !strings.Contains(letter.Text, "SRE position at Acme") || !strings.HasPrefix(letter.Markdown, "# Cover Letter") {
		t.Fatalf("unexpected letter %q", letter.Text)
	}

	parsed := svc.ParseCV(ctx, cv, "")
	if _, ok := parsed["contact"]; !ok {
		t.Fatalf("fallback parse must include contact")
	}
}

func TestInstructionDefaults(t *testing.T) {
	if StyleInstructions("baroque") != StyleInstructions("modern") {
		t.Fatalf("unknown style should default to modern")
	}
	if ToneInstructions("") != ToneInstructions("professional") {
		t.Fatalf("unknown tone should default to professional")
	}
	if !ValidStyle("ats_optimized") || ValidStyle("baroque") {
		t.Fatalf("ValidStyle mismatch")
	}
	if !ValidTone("smart") || ValidTone("sarcastic") {
		t.Fatalf("ValidTone mismatch")
	}
}

func TestSocialPostFallback(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	minSalary, maxSalary := 90000, 120000
	post := svc.GenerateSocialPost(context.Background(), JobPosting{
		Title:          "Site Reliability Engineer",
		CompanyName:    "Acme",
		Location:       "Remote",
		EmploymentType: "full_time",
		MinSalary:      &minSalary,
		MaxSalary:      &maxSalary,
	})
	if post.Link != "https://interviewly.com/jobs/site-reliability-engineer" {
		t.Fatalf("link = %q", post.Link)
	}
	for _, want := range []string{
		"🚀 We're hiring! Site Reliability Engineer at Acme (Remote) - full time",
		"#SiteReliabilityEngineer",
		"🔗 Apply now: " + post.Link,
		"Posted via Interviewly",
	} {
		if !strings.Contains(post.Text, want) {
			t.Fatalf("post missing %q:\n%s", want, post.Text)
		}
	}
	if got := salaryRange(&minSalary, &maxSalary, ""); got != "90,000 - 120,000 USD" {
		t.Fatalf("salary = %q", got)
	}
	if got := salaryRange(nil, &maxSalary, "EUR"); got != "Up to 120,000 EUR" {
		t.Fatalf("salary = %q", got)
	}
}
