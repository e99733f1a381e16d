package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/database/dbtest"
)

func seededDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := dbtest.Open(t)
	if err := SeedDefaultPlans(context.Background(), db); err != nil {
		t.Fatalf("seed plans: %v", err)
	}
	return db
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestCheckAndIncrementHardCap(t *testing.T) {
	db := seededDB(t)
	user := dbtest.CreateUser(t, db, "free@example.com", database.RoleCandidate)
	svc := NewService(db, nil)
	svc.now = fixedClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		d, err := svc.CheckAndIncrement(ctx, user.ID, FeatureCVAnalyze)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if d.Used != i || d.Remaining() != 2-i || !d.Counted {
			t.Fatalf("call %d: unexpected decision %+v", i, d)
		}
	}

	allowed, reason, err := svc.CanUse(ctx, user.ID, FeatureCVAnalyze)
	if err != nil || allowed || reason != "You've used 2/2 for this month. Upgrade to continue." {
		t.Fatalf("CanUse at the limit = %v, %q, %v", allowed, reason, err)
	}

	_, err = svc.CheckAndIncrement(ctx, user.ID, FeatureCVAnalyze)
	ex, ok := AsExceeded(err)
	if !ok {
		t.Fatalf("expected ExceededError, got %v", err)
	}
	if ex.Limit != 2 || ex.Used != 2 || ex.Disabled {
		t.Fatalf("unexpected error payload: %+v", ex)
	}

	var usage database.UserFeatureUsage
	if err := db.Where("user_id = ? AND feature_code = ?", user.ID, FeatureCVAnalyze).First(&usage).Error; err != nil {
		t.Fatalf("load usage: %v", err)
	}
	if usage.UsedCount != 2 {
		t.Fatalf("rejected call must not be counted, got %d", usage.UsedCount)
	}
	wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !usage.PeriodStart.Equal(wantStart) || !usage.PeriodEnd.Equal(wantStart.AddDate(0, 1, 0)) {
		t.Fatalf("unexpected period %s - %s", usage.PeriodStart, usage.PeriodEnd)
	}
}

func TestRefundReturnsUnit(t *testing.T) {
	db := seededDB(t)
	user := dbtest.CreateUser(t, db, "refund@example.com", database.RoleCandidate)
	svc := NewService(db, nil)
	svc.now = fixedClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	// 免费方案 mock_interview 硬上限为 1。
	d, err := svc.CheckAndIncrement(ctx, user.ID, FeatureMockInterview)
	if err != nil || !d.Counted || d.UsageID == 0 {
		t.Fatalf("first check: %+v, %v", d, err)
	}
	if err := svc.Refund(ctx, d); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if err := svc.Refund(ctx, d); err != nil {
		t.Fatalf("second refund: %v", err)
	}
	var usage database.UserFeatureUsage
	if err := db.First(&usage, d.UsageID).Error; err != nil {
		t.Fatalf("load usage: %v", err)
	}
	if usage.UsedCount != 0 {
		t.Fatalf("used_count = %d, want 0", usage.UsedCount)
	}
	if _, err := svc.CheckAndIncrement(ctx, user.ID, FeatureMockInterview); err != nil {
		t.Fatalf("refunded unit should be usable again: %v", err)
	}
	if err := svc.Refund(ctx, Decision{Feature: FeatureMockInterview}); err != nil {
		t.Fatalf("refund of an uncounted decision: %v", err)
	}
}

func TestCheckAndIncrementSoftCapKeepsCounting(t *testing.T) {
	db := seededDB(t)
	user := dbtest.CreateUser(t, db, "basic@example.com", database.RoleCandidate)
	plans := NewPlanService(db)
	ctx := context.Background()
	if _, err := plans.Subscribe(ctx, user.ID, "basic", database.BillingMonthly); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	svc := NewService(db, nil)
	var last Decision
	for i := 0; i < 52; i++ {
		d, err := svc.CheckAndIncrement(ctx, user.ID, FeatureJobTracking)
		if err != nil {
			t.Fatalf("soft cap must not reject (call %d): %v", i+1, err)
		}
		last = d
	}
	if !last.SoftExceeded || last.Used != 52 || last.Remaining() != 0 {
		t.Fatalf("unexpected final decision: %+v", last)
	}
}

func TestCheckAndIncrementUnlimitedAndMissing(t *testing.T) {
	db := seededDB(t)
	user := dbtest.CreateUser(t, db, "pro@example.com", database.RoleCandidate)
	ctx := context.Background()
	if _, err := NewPlanService(db).Subscribe(ctx, user.ID, "pro", database.BillingYearly); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	svc := NewService(db, nil)

	for _, feature := range []string{FeatureCareerChat, "feature_nobody_configured"} {
		d, err := svc.CheckAndIncrement(ctx, user.ID, feature)
		if err != nil {
			t.Fatalf("%s: %v", feature, err)
		}
		if d.Counted || d.Limit != nil || d.Remaining() != -1 {
			t.Fatalf("%s: expected uncounted unlimited decision, got %+v", feature, d)
		}
	}

	var count int64
	db.Model(&database.UserFeatureUsage{}).Where("user_id = ?", user.ID).Count(&count)
	if count != 0 {
		t.Fatalf("unlimited features must not create usage rows, got %d", count)
	}
}

func TestCheckAndIncrementDisabledFeature(t *testing.T) {
	db := seededDB(t)
	user := dbtest.CreateUser(t, db, "zero@example.com", database.RoleCandidate)
	var free database.PricingPlan
	if err := db.Where("code = ?", database.FreePlanCode).First(&free).Error; err != nil {
		t.Fatalf("load free plan: %v", err)
	}
	if err := db.Create(&database.PlanFeature{PlanID: free.ID, FeatureCode: FeatureMotivationLetter, MonthlyQuota: quota(0), HardCap: true}).Error; err != nil {
		t.Fatalf("create feature: %v", err)
	}

	svc := NewService(db, nil)
	_, err := svc.CheckAndIncrement(context.Background(), user.ID, FeatureMotivationLetter)
	ex, ok := AsExceeded(err)
	if !ok || !ex.Disabled || ex.Limit != 0 || ex.Used != 0 {
		t.Fatalf("expected disabled error, got %v", err)
	}
	allowed, reason, err := svc.CanUse(context.Background(), user.ID, FeatureMotivationLetter)
	if err != nil || allowed || reason != "Feature 'motivation_letter_generate' is not available on your plan" {
		t.Fatalf("CanUse on disabled feature = %v, %q, %v", allowed, reason, err)
	}
}

func TestCheckAndIncrementWithoutFreePlan(t *testing.T) {
	db := dbtest.Open(t)
	user := dbtest.CreateUser(t, db, "nobody@example.com", database.RoleCandidate)
	_, err := NewService(db, nil).CheckAndIncrement(context.Background(), user.ID, FeatureCVAnalyze)
	if !errors.Is(err, ErrFreePlanMissing) {
		t.Fatalf("expected ErrFreePlanMissing, got %v", err)
	}
}

func TestUsageStats(t *testing.T) {
	db := seededDB(t)
	user := dbtest.CreateUser(t, db, "stats@example.com", database.RoleCandidate)
	svc := NewService(db, nil)
	ctx := context.Background()
	if _, err := svc.CheckAndIncrement(ctx, user.ID, FeatureCVGenerate); err != nil {
		t.Fatalf("increment: %v", err)
	}

	stats, err := svc.UsageStats(ctx, user.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PlanCode != database.FreePlanCode {
		t.Fatalf("expected free plan, got %s", stats.PlanCode)
	}
	got := stats.Features[FeatureCVGenerate]
	if got.Used != 1 || got.Limit == nil || *got.Limit != 2 || got.Remaining == nil || *got.Remaining != 1 || got.PercentageUsed != 50 {
		t.Fatalf("unexpected usage row: %+v", got)
	}
	if _, ok := stats.Features[FeatureJobTracking]; ok {
		t.Fatalf("features outside the plan must not be listed")
	}
}

func TestResetExpired(t *testing.T) {
	db := seededDB(t)
	user := dbtest.CreateUser(t, db, "reset@example.com", database.RoleCandidate)
	svc := NewService(db, nil)
	ctx := context.Background()

	svc.now = fixedClock(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	if _, err := svc.CheckAndIncrement(ctx, user.ID, FeatureCVGenerate); err != nil {
		t.Fatalf("increment january: %v", err)
	}
	svc.now = fixedClock(time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	if _, err := svc.CheckAndIncrement(ctx, user.ID, FeatureCVGenerate); err != nil {
		t.Fatalf("increment february: %v", err)
	}

	deleted, err := svc.ResetExpired(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one expired row, got %d", deleted)
	}

	// 新周期重新计数。
	d, err := svc.CheckAndIncrement(ctx, user.ID, FeatureCVGenerate)
	if err != nil || d.Used != 2 {
		t.Fatalf("february counter should continue: %+v %v", d, err)
	}
}

func TestSubscriptionPeriodDrivesUsage(t *testing.T) {
	db := seededDB(t)
	user := dbtest.CreateUser(t, db, "period@example.com", database.RoleCandidate)
	plans := NewPlanService(db)
	start := time.Date(2026, 5, 20, 8, 0, 0, 0, time.UTC)
	plans.now = fixedClock(start)
	ctx := context.Background()

	sub, err := plans.Subscribe(ctx, user.ID, "basic", database.BillingMonthly)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !sub.CurrentPeriodEnd.Equal(start.AddDate(0, 0, 30)) || sub.TrialEndsAt == nil {
		t.Fatalf("unexpected subscription: %+v", sub)
	}

	svc := NewService(db, nil)
	svc.now = fixedClock(start.Add(48 * time.Hour))
	if _, err := svc.CheckAndIncrement(ctx, user.ID, FeatureCVAnalyze); err != nil {
		t.Fatalf("increment: %v", err)
	}
	stats, err := svc.UsageStats(ctx, user.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !stats.PeriodStart.Equal(start) || stats.Features[FeatureCVAnalyze].Used != 1 {
		t.Fatalf("usage should follow the subscription period: %+v", stats)
	}
}
