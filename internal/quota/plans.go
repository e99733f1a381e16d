package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"interviewly/internal/database"
)

// PlanService 读取价格方案并管理用户订阅。
type PlanService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPlanService(db *gorm.DB) *PlanService {
	return &PlanService{db: db, now: time.Now}
}

// ActivePlans returns every active plan with its prices and features, ordered for display.
func (s *PlanService) ActivePlans(ctx context.Context) ([]database.PricingPlan, error) {
	var plans []database.PricingPlan
	err := s.db.WithContext(ctx).
		Preload("Prices").
		Preload("Features").
		Where("is_active = ?", true).
		Order("sort_order ASC").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// PlanByCode 只返回启用中的方案。
func (s *PlanService) PlanByCode(ctx context.Context, code string) (*database.PricingPlan, error) {
	return planByCode(s.db.WithContext(ctx), code)
}

func planByCode(db *gorm.DB, code string) (*database.PricingPlan, error) {
	var plan database.PricingPlan
	err := db.Preload("Prices").Preload("Features").
		Where("code = ? AND is_active = ?", code, true).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("load plan %s: %w", code, err)
	}
	return &plan, nil
}

// ActiveSubscription returns the user's live subscription, or nil when none exists.
func (s *PlanService) ActiveSubscription(ctx context.Context, userID uint) (*database.Subscription, error) {
	return activeSubscription(s.db.WithContext(ctx), userID)
}

func activeSubscription(db *gorm.DB, userID uint) (*database.Subscription, error) {
	var sub database.Subscription
	err := db.Preload("Plan").Preload("Plan.Prices").Preload("Plan.Features").
		Where("user_id = ? AND status IN ?", userID, []string{database.SubscriptionActive, database.SubscriptionTrial}).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return &sub, nil
}

// UserPlan resolves the plan that governs the user: the live subscription's plan,
// otherwise the free plan.
func (s *PlanService) UserPlan(ctx context.Context, userID uint) (*database.PricingPlan, *database.Subscription, error) {
	return userPlan(s.db.WithContext(ctx), userID)
}

func userPlan(db *gorm.DB, userID uint) (*database.PricingPlan, *database.Subscription, error) {
	sub, err := activeSubscription(db, userID)
	if err != nil {
		return nil, nil, err
	}
	if sub != nil && sub.Plan != nil {
		return sub.Plan, sub, nil
	}
	plan, err := planByCode(db, database.FreePlanCode)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, nil, ErrFreePlanMissing
		}
		return nil, nil, err
	}
	return plan, nil, nil
}

// Subscribe 按用户 upsert 订阅，周期从当前时间开始。
func (s *PlanService) Subscribe(ctx context.Context, userID uint, planCode, billingPeriod string) (*database.Subscription, error) {
	periodDays, ok := billingPeriodDays[billingPeriod]
	if !ok {
		return nil, ErrInvalidBillingPeriod
	}

	var result database.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := planByCode(tx, planCode)
		if err != nil {
			return err
		}
		price, ok := findPrice(plan, billingPeriod)
		if !ok {
			return ErrPriceNotFound
		}

		now := s.now().UTC()
		var sub database.Subscription
		err = tx.Unscoped().Where("user_id = ?", userID).First(&sub).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sub = database.Subscription{UserID: userID}
		case err != nil:
			return fmt.Errorf("load subscription: %w", err)
		}

		sub.DeletedAt = gorm.DeletedAt{}
		sub.PlanID = plan.ID
		sub.BillingPeriod = billingPeriod
		sub.Status = database.SubscriptionActive
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = now.AddDate(0, 0, periodDays)
		sub.CanceledAt = nil
		sub.TrialEndsAt = nil
		if price.TrialDays > 0 && price.PriceCents > 0 {
			trialEnd := now.AddDate(0, 0, price.TrialDays)
			sub.TrialEndsAt = &trialEnd
			sub.Status = database.SubscriptionTrial
		}
		if err := tx.Unscoped().Save(&sub).Error; err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}
		sub.Plan = plan
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel marks the user's live subscription as canceled; the user falls back to the free plan.
func (s *PlanService) Cancel(ctx context.Context, userID uint) error {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&database.Subscription{}).
		Where("user_id = ? AND status IN ?", userID, []string{database.SubscriptionActive, database.SubscriptionTrial}).
		Updates(map[string]any{"status": database.SubscriptionCanceled, "canceled_at": now})
	if res.Error != nil {
		return fmt.Errorf("cancel subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoSubscription
	}
	return nil
}

var billingPeriodDays = map[string]int{
	database.BillingMonthly: 30,
	database.BillingYearly:  365,
}

func findPrice(plan *database.PricingPlan, period string) (database.PlanPrice, bool) {
	for _, p := range plan.Prices {
		if p.BillingPeriod == period {
			return p, true
		}
	}
	return database.PlanPrice{}, false
}

func findFeature(plan *database.PricingPlan, code string) (database.PlanFeature, bool) {
	for _, f := range plan.Features {
		if f.FeatureCode == code {
			return f, true
		}
	}
	return database.PlanFeature{}, false
}

// CurrentPlan 是 /user/current-plan 的响应体。
type CurrentPlan struct {
	PlanCode         string     `json:"plan_code"`
	PlanName         string     `json:"plan_name"`
	PlanDescription  string     `json:"plan_description"`
	BillingPeriod    string     `json:"billing_period"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
	IsTrial          bool       `json:"is_trial"`
	PriceCents       int        `json:"price_cents"`
	Currency         string     `json:"currency"`
}

// CurrentPlan describes the user's governing plan. Users without a subscription get
// the free plan with monthly/active defaults.
func (s *PlanService) CurrentPlan(ctx context.Context, userID uint) (CurrentPlan, error) {
	plan, sub, err := s.UserPlan(ctx, userID)
	if err != nil {
		return CurrentPlan{}, err
	}
	out := CurrentPlan{
		PlanCode:        plan.Code,
		PlanName:        plan.Name,
		PlanDescription: plan.Description,
		BillingPeriod:   database.BillingMonthly,
		Status:          database.SubscriptionActive,
		Currency:        "USD",
	}
	if sub == nil {
		return out, nil
	}
	out.BillingPeriod = sub.BillingPeriod
	out.Status = sub.Status
	end := sub.CurrentPeriodEnd
	out.CurrentPeriodEnd = &end
	out.IsTrial = sub.TrialEndsAt != nil && sub.TrialEndsAt.After(s.now())
	if out.Status == database.SubscriptionTrial && !out.IsTrial {
		// 试用期已过，订阅按正常付费状态展示。
		out.Status = database.SubscriptionActive
	}
	if price, ok := findPrice(plan, sub.BillingPeriod); ok {
		out.PriceCents = price.PriceCents
		out.Currency = price.Currency
	}
	return out, nil
}

// PlanView is the API representation of a plan.
type PlanView struct {
	Code        string        `json:"code"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	SortOrder   int           `json:"sort_order"`
	Prices      []PriceView   `json:"prices"`
	Features    []FeatureView `json:"features"`
}

type PriceView struct {
	BillingPeriod string `json:"billing_period"`
	PriceCents    int    `json:"price_cents"`
	Currency      string `json:"currency"`
	TrialDays     int    `json:"trial_days"`
	DisplayPrice  string `json:"display_price"`
}

type FeatureView struct {
	FeatureCode  string `json:"feature_code"`
	MonthlyQuota *int   `json:"monthly_quota"`
	HardCap      bool   `json:"hard_cap"`
	DisplayQuota string `json:"display_quota"`
}

// FormatPlan 转换为对外展示结构。
func FormatPlan(plan database.PricingPlan) PlanView {
	view := PlanView{
		Code:        plan.Code,
		Name:        plan.Name,
		Description: plan.Description,
		SortOrder:   plan.SortOrder,
		Prices:      make([]PriceView, 0, len(plan.Prices)),
		Features:    make([]FeatureView, 0, len(plan.Features)),
	}
	for _, p := range plan.Prices {
		view.Prices = append(view.Prices, PriceView{
			BillingPeriod: p.BillingPeriod,
			PriceCents:    p.PriceCents,
			Currency:      p.Currency,
			TrialDays:     p.TrialDays,
			DisplayPrice:  FormatPrice(p.PriceCents, p.Currency),
		})
	}
	for _, f := range plan.Features {
		view.Features = append(view.Features, FeatureView{
			FeatureCode:  f.FeatureCode,
			MonthlyQuota: f.MonthlyQuota,
			HardCap:      f.HardCap,
			DisplayQuota: FormatQuota(f.MonthlyQuota),
		})
	}
	return view
}

// FormatPrice renders cents as "Free", "$9.99" or "9.99 EUR".
func FormatPrice(cents int, currency string) string {
	if cents == 0 {
		return "Free"
	}
	amount := float64(cents) / 100
	if currency == "" || currency == "USD" {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("%.2f %s", amount, currency)
}

// FormatQuota: nil 为不限，0 为不可用。
func FormatQuota(quota *int) string {
	switch {
	case quota == nil:
		return "Unlimited"
	case *quota == 0:
		return "Not available"
	default:
		return fmt.Sprintf("%d", *quota)
	}
}

// Comparison is the feature-by-plan matrix shown on the pricing page.
type Comparison struct {
	Plans    []PlanView                   `json:"plans"`
	Features map[string]FeatureComparison `json:"features"`
}

type FeatureComparison struct {
	FeatureCode string               `json:"feature_code"`
	Name        string               `json:"name"`
	ByPlan      map[string]PlanQuota `json:"by_plan"`
}

type PlanQuota struct {
	Quota     *int   `json:"quota"`
	Unlimited bool   `json:"unlimited"`
	Available bool   `json:"available"`
	Display   string `json:"display"`
}

// Compare 构建全部功能 × 全部方案的对比矩阵，方案未配置的功能视为不可用。
func (s *PlanService) Compare(ctx context.Context) (Comparison, error) {
	plans, err := s.ActivePlans(ctx)
	if err != nil {
		return Comparison{}, err
	}
	out := Comparison{
		Plans:    make([]PlanView, 0, len(plans)),
		Features: make(map[string]FeatureComparison, len(catalog)),
	}
	for _, p := range plans {
		out.Plans = append(out.Plans, FormatPlan(p))
	}
	for _, f := range catalog {
		fc := FeatureComparison{FeatureCode: f.Code, Name: f.Name, ByPlan: make(map[string]PlanQuota, len(plans))}
		for i := range plans {
			pf, ok := findFeature(&plans[i], f.Code)
			if !ok {
				zero := 0
				fc.ByPlan[plans[i].Code] = PlanQuota{Quota: &zero, Display: FormatQuota(&zero)}
				continue
			}
			fc.ByPlan[plans[i].Code] = PlanQuota{
				Quota:     pf.MonthlyQuota,
				Unlimited: pf.MonthlyQuota == nil,
				Available: pf.MonthlyQuota == nil || *pf.MonthlyQuota != 0,
				Display:   FormatQuota(pf.MonthlyQuota),
			}
		}
		out.Features[f.Code] = fc
	}
	return out, nil
}
