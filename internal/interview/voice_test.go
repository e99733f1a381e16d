package interview

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"interviewly/internal/database"
	"interviewly/internal/database/dbtest"
)

func TestSaveTranscriptIgnoresStaleRevisions(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	user := dbtest.CreateUser(t, db, "a@example.com", database.RoleCandidate)

	session, err := svc.CreateSession(ctx, &user.ID, StartInput{JobTitle: "Engineer", Seniority: "mid", Mode: database.ModeVoice})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := Transcript{Revision: 2, QuestionsAsked: 1, Entries: []TranscriptEntry{
		{Speaker: SpeakerAgent, Text: "Tell me about yourself", Timestamp: ts},
		{Speaker: SpeakerCandidate, Text: "I build APIs", Timestamp: ts.Add(time.Second)},
	}}
	older := Transcript{Revision: 1, Entries: newer.Entries[:1]}

	applied, err := svc.SaveTranscript(ctx, session.ID, newer)
	if err != nil || !applied {
		t.Fatalf("save rev 2: applied=%v err=%v", applied, err)
	}
	for _, stale := range []Transcript{older, newer} {
		applied, err := svc.SaveTranscript(ctx, session.ID, stale)
		if err != nil || applied {
			t.Fatalf("rev %d must be ignored: applied=%v err=%v", stale.Revision, applied, err)
		}
	}

	var stored database.InterviewSession
	if err := db.First(&stored, "id = ?", session.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	var got Transcript
	if err := json.Unmarshal(stored.Transcript, &got); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if stored.TranscriptRevision != 2 || len(got.Entries) != 2 {
		t.Fatalf("expected revision 2 with 2 entries, got %d / %d", stored.TranscriptRevision, len(got.Entries))
	}

	if _, err := svc.SaveTranscript(ctx, "missing", Transcript{Revision: 5}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.SaveTranscript(ctx, session.ID, Transcript{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for revision 0, got %v", err)
	}
}

func TestFinishVoiceIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	user := dbtest.CreateUser(t, db, "a@example.com", database.RoleCandidate)

	session, err := svc.CreateSession(ctx, &user.ID, StartInput{JobTitle: "Designer", Seniority: "junior", NumQuestions: 4, Mode: database.ModeVoice})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.SaveTranscript(ctx, session.ID, Transcript{Revision: 1, QuestionsAsked: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}

	done, summary, err := svc.FinishVoice(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Status != database.SessionCompleted || summary.OverallScore != 75 {
		t.Fatalf("unexpected result: status=%s score=%v", done.Status, summary.OverallScore)
	}
	if !strings.Contains(strings.Join(summary.Strengths, " "), "Answered 2 questions") {
		t.Fatalf("questions asked should come from the transcript: %v", summary.Strengths)
	}

	_, again, err := svc.FinishVoice(ctx, session.ID, 4)
	if err != nil {
		t.Fatalf("finish again: %v", err)
	}
	if again.OverallScore != summary.OverallScore || len(again.Strengths) != len(summary.Strengths) {
		t.Fatalf("second finish must return the stored summary")
	}
}

func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript([]TranscriptEntry{
		{Speaker: SpeakerAgent, Text: "Hello"},
		{Speaker: SpeakerCandidate, Text: "  "},
		{Speaker: SpeakerCandidate, Text: "Hi there"},
	})
	want := "Interviewer: Hello\nCandidate: Hi there\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
