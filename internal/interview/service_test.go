package interview

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/database/dbtest"
	"interviewly/internal/llm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	return NewService(db, llm.NewService(nil, nil, nil, nil), nil), db
}

func TestStartValidation(t *testing.T) {
	svc, db := newTestService(t)
	user := dbtest.CreateUser(t, db, "a@example.com", database.RoleCandidate)

	cases := []struct {
		name string
		in   StartInput
	}{
		{name: "missing job", in: StartInput{Seniority: "mid"}},
		{name: "missing seniority", in: StartInput{JobTitle: "Engineer"}},
		{name: "too many questions", in: StartInput{JobTitle: "Engineer", Seniority: "mid", NumQuestions: MaxNumQuestions + 1}},
		{name: "negative questions", in: StartInput{JobTitle: "Engineer", Seniority: "mid", NumQuestions: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Start(context.Background(), user.ID, tc.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestStructuredInterviewFlow(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	user := dbtest.CreateUser(t, db, "a@example.com", database.RoleCandidate)
	other := dbtest.CreateUser(t, db, "b@example.com", database.RoleCandidate)

	session, err := svc.Start(ctx, user.ID, StartInput{JobTitle: "Backend Engineer", Seniority: "Senior", NumQuestions: 3})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(session.Questions) != 3 || session.NumQuestions != 3 {
		t.Fatalf("expected 3 questions, got %d", len(session.Questions))
	}
	if session.Seniority != "senior" || session.Mode != database.ModeStructured || session.Status != database.SessionActive {
		t.Fatalf("unexpected session %+v", session)
	}
	q1, q2, q3 := session.Questions[0], session.Questions[1], session.Questions[2]
	if q1.Idx != 1 || q1.SessionID != session.ID {
		t.Fatalf("first question not linked: %+v", q1)
	}

	if _, err := svc.Answer(ctx, other.ID, session.ID, q1.ID, "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign user must not see the session, got %v", err)
	}
	if _, err := svc.Answer(ctx, user.ID, session.ID, 9999, "hi"); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}

	res, err := svc.Answer(ctx, user.ID, session.ID, q1.ID, "I designed a sharded queue that handled ten times the traffic of the old system with fewer incidents")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.IsLast || res.NextQuestion == nil || res.NextQuestion.ID != q2.ID {
		t.Fatalf("expected q2 next, got %+v", res)
	}
	if res.Answer.ScoreOverall != res.Evaluation.ScoreOverall {
		t.Fatalf("stored score differs from evaluation")
	}
	if _, err := svc.Answer(ctx, user.ID, session.ID, q1.ID, "again"); !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}

	_, _, err = svc.Finish(ctx, user.ID, session.ID)
	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) || incomplete.Answered != 1 || incomplete.Total != 3 {
		t.Fatalf("expected IncompleteError 1/3, got %v", err)
	}

	if _, err := svc.Answer(ctx, user.ID, session.ID, q2.ID, "short answer here"); err != nil {
		t.Fatalf("answer q2: %v", err)
	}
	last, err := svc.Answer(ctx, user.ID, session.ID, q3.ID, "final answer")
	if err != nil {
		t.Fatalf("answer q3: %v", err)
	}
	if !last.IsLast || last.NextQuestion != nil {
		t.Fatalf("q3 must be last: %+v", last)
	}

	done, summary, err := svc.Finish(ctx, user.ID, session.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Status != database.SessionCompleted || done.OverallScore == nil || done.CompletedAt == nil {
		t.Fatalf("session not completed: %+v", done)
	}
	if len(summary.Strengths) == 0 || len(summary.ActionPlan) == 0 {
		t.Fatalf("summary is empty: %+v", summary)
	}

	again, summary2, err := svc.Finish(ctx, user.ID, session.ID)
	if err != nil {
		t.Fatalf("finish again: %v", err)
	}
	if summary2.OverallScore != summary.OverallScore || again.Status != database.SessionCompleted {
		t.Fatalf("second finish must return stored summary")
	}

	var reloaded database.User
	if err := db.First(&reloaded, user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if reloaded.TotalInterviews != 1 {
		t.Fatalf("total interviews = %d, want 1", reloaded.TotalInterviews)
	}

	if _, err := svc.Answer(ctx, user.ID, session.ID, q3.ID, "late"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}

	got, err := svc.Get(ctx, user.ID, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i, q := range got.Questions {
		if q.Idx != i+1 || q.Answer == nil {
			t.Fatalf("question %d not loaded with answer: %+v", i, q)
		}
	}
}

func TestListSessions(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	user := dbtest.CreateUser(t, db, "a@example.com", database.RoleCandidate)

	for i := 0; i < 3; i++ {
		if _, err := svc.Start(ctx, user.ID, StartInput{JobTitle: "Engineer", Seniority: "mid", NumQuestions: 1}); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	sessions, total, err := svc.List(ctx, user.ID, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(sessions) != 2 {
		t.Fatalf("got %d of %d sessions", len(sessions), total)
	}
	rest, _, err := svc.List(ctx, user.ID, 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 session on page 2, got %d", len(rest))
	}
}

type planProvider struct{}

func (planProvider) Name() string  { return "fake" }
func (planProvider) Model() string { return "fake-1" }
func (planProvider) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{
		Text:  `{"questions": [{"idx": 1, "type": "technical", "competency": "Problem Solving", "question_text": "How do you debug a slow query?"}]}`,
		Model: "fake-1", InputTokens: 10, OutputTokens: 20,
	}, nil
}

func TestStartAttributesPlanUsage(t *testing.T) {
	db := dbtest.Open(t)
	user := dbtest.CreateUser(t, db, "plan@example.com", database.RoleCandidate)
	var usage []llm.Usage
	recorder := llm.RecorderFunc(func(_ context.Context, u llm.Usage) { usage = append(usage, u) })
	svc := NewService(db, llm.NewService(planProvider{}, nil, recorder, nil), nil)

	session, err := svc.Start(context.Background(), user.ID, StartInput{JobTitle: "Engineer", Seniority: "mid", NumQuestions: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(session.Questions) != 1 {
		t.Fatalf("expected the generated question, got %d", len(session.Questions))
	}
	if len(usage) != 1 || usage[0].UserID == nil || *usage[0].UserID != user.ID {
		t.Fatalf("plan usage not attributed to user %d: %+v", user.ID, usage)
	}
}
