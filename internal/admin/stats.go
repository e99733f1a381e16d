// Package admin computes the operator dashboards: revenue against LLM spend,
// plan and feature adoption, database health and the cost report workbook.
package admin

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/quota"
)

// Service 管理后台统计。
type Service struct {
	db     *gorm.DB
	tokens *quota.TokenUsageService
	now    func() time.Time
}

func NewService(db *gorm.DB, tokens *quota.TokenUsageService) *Service {
	return &Service{db: db, tokens: tokens, now: func() time.Time { return time.Now().UTC() }}
}

// PlanRevenue is the revenue attributed to one plan over the period.
type PlanRevenue struct {
	PlanCode    string  `json:"plan_code"`
	Subscribers int     `json:"subscribers"`
	RevenueUSD  float64 `json:"revenue_usd"`
}

// RevenueVsCost 对比订阅收入与 LLM 成本。
type RevenueVsCost struct {
	PeriodDays          int           `json:"period_days"`
	PeriodStart         time.Time     `json:"period_start"`
	PeriodEnd           time.Time     `json:"period_end"`
	RevenueUSD          float64       `json:"revenue_usd"`
	CostUSD             float64       `json:"cost_usd"`
	GrossMarginUSD      float64       `json:"gross_margin_usd"`
	MarginPercent       float64       `json:"margin_percent"`
	ActiveSubscriptions int           `json:"active_subscriptions"`
	ByPlan              []PlanRevenue `json:"by_plan"`
	TotalRequests       int64         `json:"total_requests"`
}

// RevenueVsCost prorates the live subscriptions' prices over the last days
// (yearly prices count as one twelfth per month) and sets them against the
// token spend of the same window. Trialing subscriptions bring no revenue.
func (s *Service) RevenueVsCost(ctx context.Context, days int) (RevenueVsCost, error) {
	if days <= 0 {
		days = 30
	}
	cost, err := s.tokens.TotalSummary(ctx, days)
	if err != nil {
		return RevenueVsCost{}, err
	}

	var subs []database.Subscription
	err = s.db.WithContext(ctx).
		Preload("Plan").Preload("Plan.Prices").
		Where("status IN ?", []string{database.SubscriptionActive, database.SubscriptionTrial}).
		Find(&subs).Error
	if err != nil {
		return RevenueVsCost{}, fmt.Errorf("load subscriptions: %w", err)
	}

	byPlan := map[string]*PlanRevenue{}
	out := RevenueVsCost{
		PeriodDays:    days,
		PeriodStart:   cost.PeriodStart,
		PeriodEnd:     cost.PeriodEnd,
		CostUSD:       cost.TotalCostUSD,
		TotalRequests: cost.TotalRequests,
	}
	for _, sub := range subs {
		if sub.Plan == nil {
			continue
		}
		out.ActiveSubscriptions++
		pr, ok := byPlan[sub.Plan.Code]
		if !ok {
			pr = &PlanRevenue{PlanCode: sub.Plan.Code}
			byPlan[sub.Plan.Code] = pr
		}
		pr.Subscribers++
		if sub.Status == database.SubscriptionTrial {
			continue
		}
		revenue := proratedRevenue(sub.Plan.Prices, sub.BillingPeriod, days)
		pr.RevenueUSD += revenue
		out.RevenueUSD += revenue
	}
	for _, pr := range byPlan {
		pr.RevenueUSD = round2(pr.RevenueUSD)
		out.ByPlan = append(out.ByPlan, *pr)
	}
	sort.Slice(out.ByPlan, func(i, j int) bool { return out.ByPlan[i].PlanCode < out.ByPlan[j].PlanCode })

	out.RevenueUSD = round2(out.RevenueUSD)
	out.GrossMarginUSD = round2(out.RevenueUSD - out.CostUSD)
	if out.RevenueUSD > 0 {
		out.MarginPercent = round2(out.GrossMarginUSD / out.RevenueUSD * 100)
	}
	return out, nil
}

// proratedRevenue 按 30 天一个月折算。
func proratedRevenue(prices []database.PlanPrice, period string, days int) float64 {
	for _, p := range prices {
		if p.BillingPeriod != period {
			continue
		}
		monthly := float64(p.PriceCents) / 100
		if period == database.BillingYearly {
			monthly /= 12
		}
		return monthly * float64(days) / 30
	}
	return 0
}

// UserCosts returns one user's LLM spend over the last days.
func (s *Service) UserCosts(ctx context.Context, userID uint, days int) (quota.CostSummary, error) {
	return s.tokens.UserCostSummary(ctx, userID, days)
}

// PlanStat counts the users governed by one plan.
type PlanStat struct {
	PlanCode    string `json:"plan_code"`
	PlanName    string `json:"plan_name"`
	Subscribers int64  `json:"subscribers"`
	Trialing    int64  `json:"trialing"`
}

// PlanStats 各方案的订阅人数；没有有效订阅的用户计入免费方案。
func (s *Service) PlanStats(ctx context.Context) ([]PlanStat, error) {
	db := s.db.WithContext(ctx)
	var plans []database.PricingPlan
	if err := db.Order("sort_order ASC").Order("id ASC").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}

	var rows []struct {
		PlanID uint
		Status string
		Count  int64
	}
	err := db.Model(&database.Subscription{}).
		Select("plan_id, status, COUNT(id) AS count").
		Where("status IN ?", []string{database.SubscriptionActive, database.SubscriptionTrial}).
		Group("plan_id, status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}

	var users int64
	if err := db.Model(&database.User{}).Count(&users).Error; err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	index := make(map[uint]int, len(plans))
	out := make([]PlanStat, len(plans))
	for i, p := range plans {
		index[p.ID] = i
		out[i] = PlanStat{PlanCode: p.Code, PlanName: p.Name}
	}
	var subscribed int64
	for _, r := range rows {
		i, ok := index[r.PlanID]
		if !ok {
			continue
		}
		out[i].Subscribers += r.Count
		if r.Status == database.SubscriptionTrial {
			out[i].Trialing += r.Count
		}
		subscribed += r.Count
	}
	for i := range out {
		if out[i].PlanCode == database.FreePlanCode {
			out[i].Subscribers += max(users-subscribed, 0)
		}
	}
	return out, nil
}

// FeatureStat is the usage of one feature in the current billing periods.
type FeatureStat struct {
	FeatureCode string `json:"feature_code"`
	Name        string `json:"name"`
	TotalUsed   int64  `json:"total_used"`
	Users       int64  `json:"users"`
}

// FeatureStats sums the usage counters whose period has not ended yet.
func (s *Service) FeatureStats(ctx context.Context) ([]FeatureStat, error) {
	var rows []struct {
		FeatureCode string
		TotalUsed   int64
		Users       int64
	}
	err := s.db.WithContext(ctx).Model(&database.UserFeatureUsage{}).
		Select("feature_code, COALESCE(SUM(used_count), 0) AS total_used, COUNT(DISTINCT user_id) AS users").
		Where("period_end > ?", s.now()).
		Group("feature_code").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum feature usage: %w", err)
	}
	used := make(map[string]FeatureStat, len(rows))
	for _, r := range rows {
		used[r.FeatureCode] = FeatureStat{FeatureCode: r.FeatureCode, TotalUsed: r.TotalUsed, Users: r.Users}
	}

	catalog := quota.Catalog()
	out := make([]FeatureStat, 0, len(catalog))
	for _, f := range catalog {
		st := used[f.Code]
		st.FeatureCode = f.Code
		st.Name = f.Name
		out = append(out, st)
		delete(used, f.Code)
	}
	// 目录之外的历史功能代码也展示出来。
	for _, st := range used {
		out = append(out, st)
	}
	return out, nil
}

// DatabaseHealth 连接池状态与主要表的行数。
type DatabaseHealth struct {
	Status          string           `json:"status"`
	LatencyMS       float64          `json:"latency_ms"`
	OpenConnections int              `json:"open_connections"`
	InUse           int              `json:"in_use"`
	Idle            int              `json:"idle"`
	Tables          map[string]int64 `json:"tables"`
	Error           string           `json:"error,omitempty"`
}

var countedTables = []struct {
	name  string
	model any
}{
	{"users", &database.User{}},
	{"subscriptions", &database.Subscription{}},
	{"interview_sessions", &database.InterviewSession{}},
	{"cv_analyses", &database.CVAnalysis{}},
	{"cv_rewrites", &database.CVRewrite{}},
	{"cover_letters", &database.CoverLetter{}},
	{"jobs", &database.Job{}},
	{"applications", &database.Application{}},
	{"token_usage_logs", &database.TokenUsageLog{}},
}

// DatabaseHealth pings the database and reports pool statistics. A failed ping
// is reported in the result rather than as an error.
func (s *Service) DatabaseHealth(ctx context.Context) DatabaseHealth {
	out := DatabaseHealth{Status: "healthy", Tables: map[string]int64{}}
	sqlDB, err := s.db.DB()
	if err != nil {
		return DatabaseHealth{Status: "unhealthy", Error: err.Error()}
	}
	start := time.Now()
	if err := sqlDB.PingContext(ctx); err != nil {
		return DatabaseHealth{Status: "unhealthy", Error: err.Error()}
	}
	out.LatencyMS = math.Round(float64(time.Since(start).Microseconds())) / 1000

	stats := sqlDB.Stats()
	out.OpenConnections = stats.OpenConnections
	out.InUse = stats.InUse
	out.Idle = stats.Idle

	for _, t := range countedTables {
		var n int64
		if err := s.db.WithContext(ctx).Model(t.model).Count(&n).Error; err != nil {
			out.Status = "degraded"
			out.Error = fmt.Sprintf("count %s: %v", t.name, err)
			continue
		}
		out.Tables[t.name] = n
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
