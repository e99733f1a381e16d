package llm

import (
	"context"
	"fmt"
	"strings"

	"interviewly/internal/quota"
)

// CVAnalysis 简历分析结果。
type CVAnalysis struct {
	OverallScore    float64            `json:"overall_score"`
	ATSScore        float64            `json:"ats_score"`
	ScoresBreakdown map[string]float64 `json:"scores_breakdown"`
	Strengths       []string           `json:"strengths"`
	Weaknesses      []string           `json:"weaknesses"`
	Suggestions     []string           `json:"suggestions"`
	KeywordsFound   []string           `json:"keywords_found"`
	KeywordsMissing []string           `json:"keywords_missing"`
}

// CVRewrite is the rewritten CV and what changed.
type CVRewrite struct {
	RewrittenText     string   `json:"rewritten_cv_text"`
	RewrittenMarkdown string   `json:"rewritten_cv_markdown"`
	Improvements      []string `json:"improvements_made"`
	KeywordsAdded     []string `json:"keywords_added"`
	ATSScoreBefore    float64  `json:"ats_score_before"`
	ATSScoreAfter     float64  `json:"ats_score_after"`
}

// CoverLetter is a generated cover letter.
type CoverLetter struct {
	Text           string   `json:"cover_letter_text"`
	Markdown       string   `json:"cover_letter_markdown"`
	MatchingSkills []string `json:"matching_skills"`
	KeyHighlights  []string `json:"key_highlights"`
}

// ParseCV extracts contact, experience, education and skills as free-form JSON.
func (s *Service) ParseCV(ctx context.Context, cvText, targetJob string) map[string]any {
	jobContext := ""
	if targetJob != "" {
		jobContext = " for a " + targetJob + " position"
	}
	prompt := fmt.Sprintf("Parse this resume%s and extract:\n"+
		"1. Contact info (name, email, phone, location)\n"+
		"2. Summary/objective\n"+
		"3. Work experience (company, role, duration, responsibilities)\n"+
		"4. Education (degree, institution, year)\n"+
		"5. Skills (technical and soft skills)\n"+
		"6. Certifications\n"+
		"7. Key achievements\n\n"+
		"Resume:\n%s\n\n"+
		"Return as JSON with these fields: contact, summary, experience, education, skills, certifications, achievements.",
		jobContext, cvText)
	req := Prompt("You are an expert HR assistant and resume parser. Extract key information from resumes and structure it as JSON.", prompt)
	req.Temperature = 0.3

	var parsed map[string]any
	if s.completeJSON(ctx, quota.FeatureCVAnalyze, req, &parsed) && len(parsed) > 0 {
		return parsed
	}
	return map[string]any{
		"contact":        map[string]any{"name": "Extracted from CV"},
		"summary":        "CV text extraction successful. Configure an LLM API key for detailed parsing.",
		"experience":     []any{},
		"education":      []any{},
		"skills":         []any{},
		"certifications": []any{},
		"achievements":   []any{},
	}
}

// AnalyzeCV scores a CV and lists strengths, weaknesses and keywords.
func (s *Service) AnalyzeCV(ctx context.Context, cvText, targetJob, targetSeniority string) CVAnalysis {
	target := ""
	if targetJob != "" {
		target += "\nTarget Role: " + targetJob
	}
	if targetSeniority != "" {
		target += "\nTarget Seniority: " + targetSeniority
	}
	if target != "" {
		target = " for this target:" + target
	}
	prompt := fmt.Sprintf("Analyze this resume%s.\n\n"+
		"Resume content:\n%s\n\n"+
		"Provide analysis as JSON with:\n"+
		"1. overall_score (0-100): Overall resume quality\n"+
		"2. ats_score (0-100): ATS compatibility score\n"+
		"3. scores_breakdown: {content, formatting, keywords, experience, skills} each 0-100\n"+
		"4. strengths: List of 3-5 strong points\n"+
		"5. weaknesses: List of 3-5 areas for improvement\n"+
		"6. suggestions: List of 5-7 specific actionable improvements\n"+
		"7. keywords_found: Relevant keywords present\n"+
		"8. keywords_missing: Important keywords missing for the role\n"+
		"Be specific, constructive, and actionable in your feedback.", target, cvText)
	req := Prompt("You are an expert career coach and ATS specialist. Analyze resumes and provide detailed, actionable feedback.", prompt)
	req.Temperature = 0.5

	var out CVAnalysis
	if s.completeJSON(ctx, quota.FeatureCVAnalyze, req, &out, "overall_score", "ats_score") {
		return out
	}
	return dummyCVAnalysis(cvText)
}

// dummyCVAnalysis: base = min(85, 50 + words/20)。
func dummyCVAnalysis(cvText string) CVAnalysis {
	words := len(strings.Fields(cvText))
	base := float64(min(85, 50+words/20))
	return CVAnalysis{
		OverallScore: base,
		ATSScore:     base - 5,
		ScoresBreakdown: map[string]float64{
			"content":    base,
			"formatting": base - 5,
			"keywords":   base - 10,
			"experience": base,
			"skills":     base - 5,
		},
		Strengths: []string{
			"CV successfully uploaded and text extracted",
			fmt.Sprintf("Document contains %d words", words),
			"File format is compatible with ATS systems",
		},
		Weaknesses: []string{
			"Detailed analysis requires an LLM API configuration",
			"Keyword optimization cannot be assessed without LLM",
			"Content quality assessment needs AI analysis",
		},
		Suggestions: []string{
			"Configure an LLM API key for detailed AI-powered analysis",
			"Use action verbs to describe your accomplishments",
			"Quantify achievements with specific metrics",
			"Tailor your resume to match the job description",
			"Keep formatting clean and ATS-friendly",
		},
		KeywordsFound:   []string{"extracted", "text", "parsed"},
		KeywordsMissing: []string{"Configure API key for keyword analysis"},
	}
}

var styleInstructions = map[string]string{
	"modern": "Create a modern, visually appealing CV with:\n" +
		"- Clear section headers with subtle styling\n" +
		"- Bullet points for achievements\n" +
		"- Quantified results where possible\n" +
		"- Professional but contemporary language\n" +
		"- Skills section with categories\n" +
		"- Focus on impact and results",
	"minimal": "Create a clean, minimal CV with:\n" +
		"- Simple section headers\n" +
		"- Concise bullet points\n" +
		"- White space for readability\n" +
		"- Essential information only\n" +
		"- No unnecessary details\n" +
		"- Focus on clarity and brevity",
	"executive": "Create an executive-level CV with:\n" +
		"- Professional summary highlighting leadership\n" +
		"- Strategic achievements and business impact\n" +
		"- Board memberships and key appointments\n" +
		"- Quantified business results (revenue, growth, savings)\n" +
		"- Industry recognition and awards\n" +
		"- Focus on leadership and strategic vision",
	"ats_optimized": "Create an ATS-optimized CV with:\n" +
		"- Standard section headers (Experience, Education, Skills)\n" +
		"- Keyword-rich content matching job requirements\n" +
		"- Simple formatting (no tables, columns, or graphics)\n" +
		"- Standard fonts and bullet points\n" +
		"- Clear date formats\n" +
		"- Industry-specific keywords and skills",
}

// StyleInstructions returns the formatting brief for a rewrite style, defaulting to modern.
func StyleInstructions(style string) string {
	if v, ok := styleInstructions[style]; ok {
		return v
	}
	return styleInstructions["modern"]
}

// ValidStyle reports whether style is a known rewrite style.
func ValidStyle(style string) bool {
	_, ok := styleInstructions[style]
	return ok
}

// RewriteCV rewrites a CV in the given style, optionally targeting a job.
func (s *Service) RewriteCV(ctx context.Context, cvText, style, targetJobTitle, targetJobDescription string) CVRewrite {
	jobContext := ""
	if targetJobTitle != "" {
		jobContext = "\n\nTarget Job: " + targetJobTitle
	}
	if targetJobDescription != "" {
		jobContext += "\n\nJob Description:\n" + truncate(targetJobDescription, 500)
	}
	prompt := fmt.Sprintf("Rewrite this CV in %s style:\n\n%s\n\nStyle Requirements:\n%s%s\n\n"+
		"Return JSON with:\n"+
		"- rewritten_cv_text: The complete rewritten CV\n"+
		"- rewritten_cv_markdown: Markdown formatted version\n"+
		"- improvements_made: List of 5-7 key improvements\n"+
		"- keywords_added: List of important keywords added\n"+
		"- ats_score_before: Estimated ATS score before (0-100)\n"+
		"- ats_score_after: Estimated ATS score after (0-100)\n"+
		"\nMake the CV compelling, achievement-focused, and ATS-friendly.",
		style, cvText, StyleInstructions(style), jobContext)
	req := Prompt("You are an expert CV writer and career coach. You create compelling, ATS-friendly CVs that get results. "+
		"You use action verbs, quantify achievements, and highlight impact.", prompt)

	var out CVRewrite
	if s.completeJSON(ctx, quota.FeatureCVGenerate, req, &out, "rewritten_cv_text") {
		return out
	}
	return dummyRewrite(cvText, style)
}

func dummyRewrite(cvText, style string) CVRewrite {
	var lines []string
	for _, line := range strings.Split(cvText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "•") && !strings.HasPrefix(line, "-") && len(line) > 20 {
			line = "• " + line
		}
		lines = append(lines, line)
	}
	rewritten := strings.Join(lines, "\n")
	return CVRewrite{
		RewrittenText:     rewritten,
		RewrittenMarkdown: "# Resume\n\n" + rewritten,
		Improvements: []string{
			"Added consistent bullet points",
			"Improved formatting and structure",
			"Enhanced readability",
			fmt.Sprintf("Applied %s style formatting", style),
			"⚠️ Configure an LLM API key for AI-powered rewriting",
		},
		KeywordsAdded:  []string{"professional", "experienced", "skilled"},
		ATSScoreBefore: 65,
		ATSScoreAfter:  75,
	}
}

var toneInstructions = map[string]string{
	"formal":       "Use formal, traditional business language. Be respectful and professional. Use complete sentences and proper titles.",
	"smart":        "Use intelligent, insightful language. Show thoughtfulness and strategic thinking. Balance professionalism with personality.",
	"professional": "Use standard professional business language. Be clear, confident, and competent. Maintain appropriate formality.",
	"friendly":     "Use warm, personable language. Be approachable while remaining professional. Show enthusiasm and genuine interest.",
}

// ToneInstructions returns the writing brief for a tone, defaulting to professional.
func ToneInstructions(tone string) string {
	if v, ok := toneInstructions[tone]; ok {
		return v
	}
	return toneInstructions["professional"]
}

// ValidTone reports whether tone is a known cover letter tone.
func ValidTone(tone string) bool {
	_, ok := toneInstructions[tone]
	return ok
}

// CoverLetterInput collects what GenerateCoverLetter needs.
type CoverLetterInput struct {
	CVText         string
	JobTitle       string
	CompanyName    string
	JobDescription string
	Tone           string
	AdditionalInfo string
}

// GenerateCoverLetter writes a tailored cover letter.
func (s *Service) GenerateCoverLetter(ctx context.Context, in CoverLetterInput) CoverLetter {
	jobContext := fmt.Sprintf("Job Title: %s\nCompany: %s", in.JobTitle, in.CompanyName)
	if in.JobDescription != "" {
		jobContext += "\n\nJob Description:\n" + truncate(in.JobDescription, 800)
	}
	if in.AdditionalInfo != "" {
		jobContext += "\n\nAdditional Context:\n" + in.AdditionalInfo
	}
	prompt := fmt.Sprintf("Generate a cover letter for this application:\n\n%s\n\n"+
		"Candidate's CV:\n%s\n\n"+
		"Tone: %s - %s\n\n"+
		"Return JSON with:\n"+
		"- cover_letter_text: Complete cover letter (3-4 paragraphs)\n"+
		"- cover_letter_markdown: Markdown formatted version\n"+
		"- matching_skills: List of skills from CV matching the job\n"+
		"- key_highlights: 3-5 key points highlighted in letter\n"+
		"\nMake it compelling, specific, and show genuine interest in the role.",
		jobContext, truncate(in.CVText, 1500), in.Tone, ToneInstructions(in.Tone))
	req := Prompt("You are an expert cover letter writer. You create compelling, personalized cover letters that get interviews. "+
		"You highlight relevant experience and show genuine interest in the role.", prompt)

	var out CoverLetter
	if s.completeJSON(ctx, quota.FeatureCoverLetter, req, &out, "cover_letter_text") {
		return out
	}

	letter := fmt.Sprintf(`Dear Hiring Manager,

I am writing to express my strong interest in the %[1]s position at %[2]s. With my background and experience, I am confident I would be a valuable addition to your team.

Throughout my career, I have developed strong skills and delivered measurable results. I am particularly drawn to this opportunity at %[2]s because of your reputation for excellence and innovation.

I would welcome the opportunity to discuss how my experience and skills would benefit your team. Thank you for considering my application.

Sincerely,
[Your Name]`, in.JobTitle, in.CompanyName)
	return CoverLetter{
		Text:           letter,
		Markdown:       "# Cover Letter\n\n" + letter,
		MatchingSkills: []string{"Communication", "Problem-solving", "Teamwork"},
		KeyHighlights: []string{
			"Strong background in the field",
			"Proven track record of results",
			"Enthusiasm for the company",
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
