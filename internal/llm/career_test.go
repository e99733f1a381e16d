package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"interviewly/internal/quota"
)

func TestCareerChatParsesAdvice(t *testing.T) {
	fp := &fakeProvider{text: "Here is my advice.\n" +
		"1. Build a portfolio of backend services\n" +
		"- Short\n" +
		"• Contribute to open source Go projects\n" +
		"You should practice system design every week. Good luck."}
	var usage []Usage
	svc := NewService(fp, nil, RecorderFunc(func(_ context.Context, u Usage) { usage = append(usage, u) }), nil)

	history := make([]Message, 0, 14)
	for i := 0; i < 14; i++ {
		history = append(history, Message{Role: "system", Content: fmt.Sprintf("turn %d", i)})
	}
	reply := svc.CareerChat(WithUser(context.Background(), 3), "How do I grow?", history, &CareerContext{
		JobTitle: "Backend Engineer", ExperienceYears: 4, Skills: []string{"Go", "SQL"}, Goals: "Staff engineer",
	})

	if reply.Status != CareerStatusSuccess {
		t.Fatalf("status = %q", reply.Status)
	}
	want := []string{"Build a portfolio of backend services", "Contribute to open source Go projects"}
	if fmt.Sprint(reply.Suggestions) != fmt.Sprint(want) {
		t.Fatalf("suggestions = %q", reply.Suggestions)
	}
	if len(reply.ActionItems) == 0 || !strings.Contains(reply.ActionItems[len(reply.ActionItems)-1], "You should practice system design") {
		t.Fatalf("action items = %q", reply.ActionItems)
	}

	// 只保留最近 10 轮，再加当前消息；未知角色按 user 处理。
	msgs := fp.last.Messages
	if len(msgs) != careerHistoryLimit+1 || msgs[0].Content != "turn 4" || msgs[0].Role != RoleUser {
		t.Fatalf("history not trimmed: %d messages, first %+v", len(msgs), msgs[0])
	}
	if msgs[len(msgs)-1].Content != "How do I grow?" {
		t.Fatalf("current message must come last")
	}
	if !strings.Contains(fp.last.System, "- Current Role: Backend Engineer") || !strings.Contains(fp.last.System, "- Skills: Go, SQL") {
		t.Fatalf("user context missing from system prompt")
	}
	if fp.last.Temperature != 0.7 || fp.last.MaxTokens != 1000 {
		t.Fatalf("unexpected sampling %v/%d", fp.last.Temperature, fp.last.MaxTokens)
	}
	if len(usage) != 1 || usage[0].Feature != quota.FeatureCareerChat || usage[0].UserID == nil || *usage[0].UserID != 3 {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

func TestCareerChatFallback(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	cases := map[string]string{
		"Can you check my CV?":          careerResumeReply,
		"How should I prepare tomorrow": careerInterviewReply,
		"hello":                         careerDefaultReply,
	}
	for msg, want := range cases {
		reply := svc.CareerChat(context.Background(), msg, nil, nil)
		if reply.Message != want || reply.Status != CareerStatusLimited {
			t.Errorf("%q: got status %q message %.40q", msg, reply.Status, reply.Message)
		}
		if len(reply.Suggestions) != 3 || len(reply.ActionItems) != 1 {
			t.Errorf("%q: fallback lists have wrong size", msg)
		}
	}

	failing := NewService(&fakeProvider{err: errors.New("timeout")}, nil, nil, nil)
	if got := failing.CareerChat(context.Background(), "hi", nil, nil); got.Status != CareerStatusLimited {
		t.Fatalf("provider error should fall back, got %q", got.Status)
	}
}

func TestExtractActionItemsLimits(t *testing.T) {
	text := "Try it. Consider learning Kubernetes in depth. Research the market rates for your role. " +
		"Take an online course on distributed systems. Apply to three companies every week"
	items := extractActionItems(text)
	if len(items) != maxActionItems {
		t.Fatalf("expected %d items, got %q", maxActionItems, items)
	}
	if items[0] != "Consider learning Kubernetes in depth" {
		t.Fatalf("short sentences must be skipped, got %q", items[0])
	}
}

func TestCareerSuggestions(t *testing.T) {
	profile := CareerProfile{CurrentRole: "Data Analyst", Skills: []string{"SQL"}, ExperienceYears: 2, Interests: []string{"ML"}}

	none := NewService(nil, nil, nil, nil).CareerSuggestions(context.Background(), profile)
	if len(none.SuggestedRoles) != 1 || !strings.Contains(none.SuggestedRoles[0], "Configure") || none.GrowthPaths == nil {
		t.Fatalf("unconfigured result = %+v", none)
	}

	fp := &fakeProvider{text: "```json\n" + `{"suggested_roles":["Data Scientist"],"growth_paths":["Analyst → Scientist"],"skills_to_learn":["Python"]}` + "\n```"}
	got := NewService(fp, nil, nil, nil).CareerSuggestions(context.Background(), profile)
	if fmt.Sprint(got.SuggestedRoles) != "[Data Scientist]" || fmt.Sprint(got.SkillsToLearn) != "[Python]" {
		t.Fatalf("unexpected suggestions %+v", got)
	}
	if !fp.last.JSON || !strings.Contains(fp.last.Messages[0].Content, "with interests in ML") {
		t.Fatalf("prompt not built from the profile")
	}

	broken := NewService(&fakeProvider{text: `{"suggested_roles":[]}`}, nil, nil, nil).CareerSuggestions(context.Background(), profile)
	if fmt.Sprint(broken.SuggestedRoles) != "[Data Analyst (Senior Level) Lead Data Analyst Data Analyst Manager]" || len(broken.GrowthPaths) != 2 {
		t.Fatalf("unexpected fallback %+v", broken)
	}
}

func TestQuickTips(t *testing.T) {
	topic, tips := QuickTips(" Salary ")
	if topic != "salary" || len(tips) != 5 || tips[0] != "Research industry salary ranges beforehand" {
		t.Fatalf("salary tips = %s %q", topic, tips)
	}
	for _, in := range []string{"", "astrology"} {
		if topic, tips := QuickTips(in); topic != TipsGeneral || len(tips) != 5 {
			t.Fatalf("%q: got %s", in, topic)
		}
	}
	_, tips = QuickTips("resume")
	tips[0] = "changed"
	if _, again := QuickTips("resume"); again[0] == "changed" {
		t.Fatalf("QuickTips must not expose the shared slice")
	}
}
