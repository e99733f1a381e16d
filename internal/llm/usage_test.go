package llm

import (
	"context"
	"testing"

	"interviewly/internal/database"
	"interviewly/internal/database/dbtest"
	"interviewly/internal/quota"
)

func TestTokenLogRecorderPersistsCalls(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	if err := quota.SeedModelPricing(ctx, db); err != nil {
		t.Fatalf("seed pricing: %v", err)
	}
	fp := &fakeProvider{text: `{"score_overall": 70, "dimension_scores": {"relevance": 70, "clarity": 70, "structure": 70, "impact": 70}, "coach_notes": "ok"}`}
	svc := NewService(fp, nil, TokenLogRecorder(quota.NewTokenUsageService(db, nil), nil), nil)

	svc.EvaluateAnswer(WithUser(ctx, 3), "Q", "technical", "answer", "Engineer", "mid")

	var rows []database.TokenUsageLog
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("load logs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one log row, got %d", len(rows))
	}
	if rows[0].UserID == nil || *rows[0].UserID != 3 || rows[0].ModelName != "fake-1" || rows[0].TotalTokens != 46 {
		t.Fatalf("unexpected log row %+v", rows[0])
	}
}
