package admin

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/database/dbtest"
	"interviewly/internal/quota"
)

type fixture struct {
	db    *gorm.DB
	svc   *Service
	users []database.User
}

// newFixture: basic 月付、pro 年付、enterprise 试用，外加一个免费用户。
func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	ctx := context.Background()
	if err := quota.SeedDefaultPlans(ctx, db); err != nil {
		t.Fatalf("seed plans: %v", err)
	}
	if err := quota.SeedModelPricing(ctx, db); err != nil {
		t.Fatalf("seed pricing: %v", err)
	}
	users := []database.User{
		dbtest.CreateUser(t, db, "basic@example.com", database.RoleCandidate),
		dbtest.CreateUser(t, db, "pro@example.com", database.RoleCandidate),
		dbtest.CreateUser(t, db, "trial@example.com", database.RoleCandidate),
		dbtest.CreateUser(t, db, "free@example.com", database.RoleCandidate),
	}
	plans := quota.NewPlanService(db)
	if _, err := plans.Subscribe(ctx, users[0].ID, "basic", database.BillingMonthly); err != nil {
		t.Fatalf("subscribe basic: %v", err)
	}
	if _, err := plans.Subscribe(ctx, users[1].ID, "pro", database.BillingYearly); err != nil {
		t.Fatalf("subscribe pro: %v", err)
	}
	trial, err := plans.Subscribe(ctx, users[2].ID, "enterprise", database.BillingMonthly)
	if err != nil {
		t.Fatalf("subscribe enterprise: %v", err)
	}
	if err := db.Model(&database.Subscription{}).Where("id = ?", trial.ID).Update("status", database.SubscriptionTrial).Error; err != nil {
		t.Fatalf("mark trial: %v", err)
	}

	tokens := quota.NewTokenUsageService(db, nil)
	uid := users[0].ID
	if _, err := tokens.Log(ctx, quota.UsageEntry{UserID: &uid, FeatureCode: quota.FeatureCVAnalyze, ModelName: "gpt-4o", InputTokens: 1000, OutputTokens: 1000}); err != nil {
		t.Fatalf("log usage: %v", err)
	}
	return fixture{db: db, svc: NewService(db, tokens), users: users}
}

func TestRevenueVsCost(t *testing.T) {
	f := newFixture(t)
	got, err := f.svc.RevenueVsCost(context.Background(), 30)
	if err != nil {
		t.Fatalf("revenue vs cost: %v", err)
	}
	// 9.99 + 299/12，试用不计收入。
	if got.RevenueUSD != 34.91 {
		t.Fatalf("expected revenue 34.91, got %v", got.RevenueUSD)
	}
	if got.CostUSD != 0.0125 {
		t.Fatalf("expected cost 0.0125, got %v", got.CostUSD)
	}
	if got.ActiveSubscriptions != 3 || len(got.ByPlan) != 3 {
		t.Fatalf("unexpected subscriptions: %+v", got)
	}
	if got.ByPlan[0].PlanCode != "basic" || got.ByPlan[0].RevenueUSD != 9.99 {
		t.Fatalf("unexpected basic revenue: %+v", got.ByPlan[0])
	}
	if got.ByPlan[1].PlanCode != "enterprise" || got.ByPlan[1].RevenueUSD != 0 {
		t.Fatalf("trial should not bring revenue: %+v", got.ByPlan[1])
	}
	if got.GrossMarginUSD != 34.9 || got.MarginPercent <= 99 {
		t.Fatalf("unexpected margin: %+v", got)
	}

	week, err := f.svc.RevenueVsCost(context.Background(), 15)
	if err != nil {
		t.Fatalf("revenue vs cost: %v", err)
	}
	if week.RevenueUSD != 17.45 {
		t.Fatalf("expected half-month revenue 17.45, got %v", week.RevenueUSD)
	}
}

func TestPlanStatsCountsFreeUsers(t *testing.T) {
	f := newFixture(t)
	stats, err := f.svc.PlanStats(context.Background())
	if err != nil {
		t.Fatalf("plan stats: %v", err)
	}
	want := map[string][2]int64{
		"free":       {1, 0},
		"basic":      {1, 0},
		"pro":        {1, 0},
		"enterprise": {1, 1},
	}
	if len(stats) != len(want) {
		t.Fatalf("expected %d plans, got %+v", len(want), stats)
	}
	for _, st := range stats {
		w := want[st.PlanCode]
		if st.Subscribers != w[0] || st.Trialing != w[1] {
			t.Fatalf("plan %s: expected %v, got %+v", st.PlanCode, w, st)
		}
	}
	if stats[0].PlanCode != "free" {
		t.Fatalf("plans should follow sort order, got %s first", stats[0].PlanCode)
	}
}

func TestFeatureStatsOnlyCountsOpenPeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	rows := []database.UserFeatureUsage{
		{UserID: f.users[0].ID, PlanID: 1, FeatureCode: quota.FeatureCVAnalyze, PeriodStart: now.AddDate(0, 0, -1), PeriodEnd: now.AddDate(0, 1, 0), UsedCount: 3},
		{UserID: f.users[1].ID, PlanID: 1, FeatureCode: quota.FeatureCVAnalyze, PeriodStart: now.AddDate(0, 0, -2), PeriodEnd: now.AddDate(0, 1, 0), UsedCount: 2},
		{UserID: f.users[1].ID, PlanID: 1, FeatureCode: quota.FeatureCVAnalyze, PeriodStart: now.AddDate(0, -2, 0), PeriodEnd: now.AddDate(0, -1, 0), UsedCount: 9},
	}
	if err := f.db.Create(&rows).Error; err != nil {
		t.Fatalf("create usage: %v", err)
	}

	stats, err := f.svc.FeatureStats(ctx)
	if err != nil {
		t.Fatalf("feature stats: %v", err)
	}
	if len(stats) != len(quota.Catalog()) {
		t.Fatalf("expected every catalog feature, got %d", len(stats))
	}
	for _, st := range stats {
		if st.FeatureCode != quota.FeatureCVAnalyze {
			if st.TotalUsed != 0 {
				t.Fatalf("unexpected usage for %s: %+v", st.FeatureCode, st)
			}
			continue
		}
		if st.TotalUsed != 5 || st.Users != 2 {
			t.Fatalf("unexpected cv analyze stats: %+v", st)
		}
	}
}

func TestDatabaseHealth(t *testing.T) {
	f := newFixture(t)
	h := f.svc.DatabaseHealth(context.Background())
	if h.Status != "healthy" {
		t.Fatalf("expected healthy, got %+v", h)
	}
	if h.Tables["users"] != 4 || h.Tables["subscriptions"] != 3 || h.Tables["token_usage_logs"] != 1 {
		t.Fatalf("unexpected table counts: %+v", h.Tables)
	}
}

func TestCostReportWorkbook(t *testing.T) {
	f := newFixture(t)
	data, name, err := f.svc.CostReport(context.Background(), 30)
	if err != nil {
		t.Fatalf("cost report: %v", err)
	}
	if name != "cost-report-"+time.Now().UTC().Format("2006-01-02")+".xlsx" {
		t.Fatalf("unexpected filename %s", name)
	}
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) != 4 || sheets[0] != "Summary" || sheets[3] != "Daily" {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	model, err := book.GetCellValue("By Model", "A2")
	if err != nil || model != "gpt-4o" {
		t.Fatalf("expected gpt-4o in By Model, got %q (%v)", model, err)
	}
	metric, _ := book.GetCellValue("Summary", "A4")
	if metric != "Revenue (USD)" {
		t.Fatalf("unexpected summary row %q", metric)
	}
}
