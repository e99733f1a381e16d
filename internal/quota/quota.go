package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"interviewly/internal/database"
	"interviewly/internal/metrics"
)

// Decision 是一次额度检查的结果。Limit 为 nil 表示不限量。
type Decision struct {
	Feature      string
	PlanCode     string
	Limit        *int
	Used         int
	SoftExceeded bool
	Counted      bool
	// UsageID 是被计数的 user_feature_usage 行，Refund 按它回退。
	UsageID uint
}

// Remaining returns the calls left in the period, or -1 when unlimited.
func (d Decision) Remaining() int {
	if d.Limit == nil {
		return -1
	}
	return max(*d.Limit-d.Used, 0)
}

// Service enforces per-plan monthly feature quotas.
type Service struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger, now: time.Now}
}

// CheckAndIncrement 在同一事务内检查并占用一次额度。
//
// 方案未配置该功能或额度为 nil 时直接放行且不计数；额度为 0 时拒绝。
// 达到上限后硬限制返回 *ExceededError，软限制记录告警后继续计数。
func (s *Service) CheckAndIncrement(ctx context.Context, userID uint, feature string) (Decision, error) {
	now := s.now().UTC()
	var decision Decision

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, sub, err := userPlan(tx, userID)
		if err != nil {
			return err
		}
		decision = Decision{Feature: feature, PlanCode: plan.Code}

		pf, ok := findFeature(plan, feature)
		if !ok || pf.MonthlyQuota == nil {
			return nil
		}
		limit := *pf.MonthlyQuota
		decision.Limit = &limit
		if limit == 0 {
			return &ExceededError{Feature: feature, Disabled: true}
		}

		start, end := periodFor(sub, now)
		usage, err := lockUsage(tx, userID, plan.ID, feature, start, end)
		if err != nil {
			return err
		}
		decision.Used = usage.UsedCount
		if usage.UsedCount >= limit {
			if pf.HardCap {
				return &ExceededError{Feature: feature, Limit: limit, Used: usage.UsedCount}
			}
			decision.SoftExceeded = true
		}

		res := tx.Model(&database.UserFeatureUsage{}).
			Where("id = ?", usage.ID).
			UpdateColumn("used_count", gorm.Expr("used_count + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("increment usage: %w", res.Error)
		}
		decision.Used++
		decision.Counted = true
		decision.UsageID = usage.ID
		return nil
	})

	switch ex, exceeded := AsExceeded(err); {
	case exceeded && ex.Disabled:
		metrics.ObserveQuotaDecision(feature, "disabled")
	case exceeded:
		metrics.ObserveQuotaDecision(feature, "exceeded")
	case err != nil:
		return Decision{}, err
	case decision.SoftExceeded:
		metrics.ObserveQuotaDecision(feature, "soft_exceeded")
		s.logger.Warn("soft quota exceeded",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("feature", feature),
			slog.Int("used", decision.Used),
			slog.Int("limit", *decision.Limit),
		)
	default:
		metrics.ObserveQuotaDecision(feature, "allowed")
	}
	return decision, err
}

// Refund gives back the unit taken by d, for requests that were rejected after
// the check. The count never drops below zero.
func (s *Service) Refund(ctx context.Context, d Decision) error {
	if !d.Counted || d.UsageID == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&database.UserFeatureUsage{}).
		Where("id = ? AND used_count > 0", d.UsageID).
		UpdateColumn("used_count", gorm.Expr("used_count - ?", 1))
	if res.Error != nil {
		return fmt.Errorf("refund usage: %w", res.Error)
	}
	metrics.ObserveQuotaDecision(d.Feature, "refunded")
	return nil
}

// lockUsage 确保计数行存在并加行锁读取。
func lockUsage(tx *gorm.DB, userID, planID uint, feature string, start, end time.Time) (database.UserFeatureUsage, error) {
	seed := database.UserFeatureUsage{
		UserID:      userID,
		PlanID:      planID,
		FeatureCode: feature,
		PeriodStart: start,
		PeriodEnd:   end,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return database.UserFeatureUsage{}, fmt.Errorf("init usage: %w", err)
	}
	var usage database.UserFeatureUsage
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND plan_id = ? AND feature_code = ? AND period_start = ?", userID, planID, feature, start).
		First(&usage).Error
	if err != nil {
		return database.UserFeatureUsage{}, fmt.Errorf("lock usage: %w", err)
	}
	return usage, nil
}

// CanUse reports whether a call would currently be allowed, without consuming
// quota. When it is not, reason is a user-facing explanation.
func (s *Service) CanUse(ctx context.Context, userID uint, feature string) (bool, string, error) {
	db := s.db.WithContext(ctx)
	plan, sub, err := userPlan(db, userID)
	if err != nil {
		return false, "", err
	}
	pf, ok := findFeature(plan, feature)
	if !ok || pf.MonthlyQuota == nil {
		return true, "", nil
	}
	limit := *pf.MonthlyQuota
	if limit == 0 {
		return false, fmt.Sprintf("Feature '%s' is not available on your plan", feature), nil
	}
	start, _ := periodFor(sub, s.now().UTC())
	used, err := usedCount(db, userID, plan.ID, feature, start)
	if err != nil {
		return false, "", err
	}
	if used >= limit && pf.HardCap {
		return false, fmt.Sprintf("You've used %d/%d for this month. Upgrade to continue.", used, limit), nil
	}
	return true, "", nil
}

func usedCount(db *gorm.DB, userID, planID uint, feature string, start time.Time) (int, error) {
	var usage database.UserFeatureUsage
	err := db.Where("user_id = ? AND plan_id = ? AND feature_code = ? AND period_start = ?", userID, planID, feature, start).
		First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load usage: %w", err)
	}
	return usage.UsedCount, nil
}

// FeatureUsage is one row of the usage dashboard.
type FeatureUsage struct {
	Used           int     `json:"used"`
	Limit          *int    `json:"limit"`
	Remaining      *int    `json:"remaining"`
	Unlimited      bool    `json:"unlimited"`
	PercentageUsed float64 `json:"percentage_used"`
}

// UsageStats 用户当前计费周期的用量汇总。
type UsageStats struct {
	PlanCode    string                  `json:"plan_code"`
	PlanName    string                  `json:"plan_name"`
	PeriodStart time.Time               `json:"period_start"`
	PeriodEnd   time.Time               `json:"period_end"`
	Features    map[string]FeatureUsage `json:"features"`
}

// UsageStats reports used/limit/remaining for every feature of the user's plan.
func (s *Service) UsageStats(ctx context.Context, userID uint) (UsageStats, error) {
	db := s.db.WithContext(ctx)
	plan, sub, err := userPlan(db, userID)
	if err != nil {
		return UsageStats{}, err
	}
	start, end := periodFor(sub, s.now().UTC())

	var rows []database.UserFeatureUsage
	if err := db.Where("user_id = ? AND plan_id = ? AND period_start = ?", userID, plan.ID, start).Find(&rows).Error; err != nil {
		return UsageStats{}, fmt.Errorf("load usage: %w", err)
	}
	used := make(map[string]int, len(rows))
	for _, r := range rows {
		used[r.FeatureCode] = r.UsedCount
	}

	stats := UsageStats{
		PlanCode:    plan.Code,
		PlanName:    plan.Name,
		PeriodStart: start,
		PeriodEnd:   end,
		Features:    make(map[string]FeatureUsage, len(plan.Features)),
	}
	for _, pf := range plan.Features {
		fu := FeatureUsage{Used: used[pf.FeatureCode], Limit: pf.MonthlyQuota}
		if pf.MonthlyQuota == nil {
			fu.Unlimited = true
		} else {
			remaining := max(*pf.MonthlyQuota-fu.Used, 0)
			fu.Remaining = &remaining
			if *pf.MonthlyQuota > 0 {
				fu.PercentageUsed = math.Round(float64(fu.Used)/float64(*pf.MonthlyQuota)*1000) / 10
			}
		}
		stats.Features[pf.FeatureCode] = fu
	}
	return stats, nil
}

// ResetExpired 删除周期已结束的计数行，返回删除条数。
func (s *Service) ResetExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Unscoped().
		Where("period_end <= ?", s.now().UTC()).
		Delete(&database.UserFeatureUsage{})
	if res.Error != nil {
		return 0, fmt.Errorf("reset usage: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// periodFor uses the live subscription's billing period while it covers now,
// otherwise the calendar month in UTC.
func periodFor(sub *database.Subscription, now time.Time) (time.Time, time.Time) {
	if sub != nil && !sub.CurrentPeriodStart.IsZero() {
		start, end := sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC()
		if !now.Before(start) && now.Before(end) {
			return start, end
		}
	}
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
