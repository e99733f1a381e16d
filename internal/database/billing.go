package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	BillingMonthly = "monthly"
	BillingYearly  = "yearly"
)

const (
	SubscriptionActive   = "active"
	SubscriptionTrial    = "trial"
	SubscriptionCanceled = "canceled"
	SubscriptionExpired  = "expired"
)

// FreePlanCode is the plan every user without a live subscription falls back to.
const FreePlanCode = "free"

// PricingPlan 价格方案。
type PricingPlan struct {
	gorm.Model
	Code        string        `gorm:"uniqueIndex;size:32"`
	Name        string        `gorm:"size:100"`
	Description string        `gorm:"type:text"`
	IsActive    bool          `gorm:"default:true;index"`
	SortOrder   int           `gorm:"default:0"`
	Prices      []PlanPrice   `gorm:"foreignKey:PlanID;constraint:OnDelete:CASCADE"`
	Features    []PlanFeature `gorm:"foreignKey:PlanID;constraint:OnDelete:CASCADE"`
}

// PlanPrice is one billing-period price of a plan.
type PlanPrice struct {
	gorm.Model
	PlanID        uint   `gorm:"index;uniqueIndex:idx_plan_price_period,priority:1"`
	BillingPeriod string `gorm:"size:16;uniqueIndex:idx_plan_price_period,priority:2"`
	PriceCents    int
	Currency      string `gorm:"size:3;default:USD"`
	TrialDays     int    `gorm:"default:0"`
}

// PlanFeature 方案下某个功能的额度。MonthlyQuota 为 nil 表示不限，0 表示不可用。
type PlanFeature struct {
	gorm.Model
	PlanID       uint   `gorm:"index;uniqueIndex:idx_plan_feature,priority:1"`
	FeatureCode  string `gorm:"size:64;uniqueIndex:idx_plan_feature,priority:2"`
	MonthlyQuota *int
	HardCap      bool
	Rollover     bool
}

// Subscription links a user to a plan for a billing period.
type Subscription struct {
	gorm.Model
	UserID                 uint         `gorm:"uniqueIndex"`
	PlanID                 uint         `gorm:"index"`
	Plan                   *PricingPlan `gorm:"constraint:OnDelete:RESTRICT"`
	BillingPeriod          string       `gorm:"size:16"`
	Status                 string       `gorm:"size:16;index"`
	ProviderCustomerID     string       `gorm:"size:255"`
	ProviderSubscriptionID string       `gorm:"size:255"`
	TrialEndsAt            *time.Time
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	CanceledAt             *time.Time
}

// Live reports whether the subscription currently grants its plan.
func (s Subscription) Live() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrial
}

// UserFeatureUsage 计数器：用户 + 方案 + 功能 + 计费周期。
type UserFeatureUsage struct {
	gorm.Model
	UserID      uint      `gorm:"uniqueIndex:idx_usage_period,priority:1"`
	PlanID      uint      `gorm:"index;uniqueIndex:idx_usage_period,priority:2"`
	FeatureCode string    `gorm:"size:64;uniqueIndex:idx_usage_period,priority:3"`
	PeriodStart time.Time `gorm:"uniqueIndex:idx_usage_period,priority:4"`
	PeriodEnd   time.Time `gorm:"index"`
	UsedCount   int       `gorm:"default:0"`
}

// ModelPricing is the per-1k-token price of an LLM model in USD.
type ModelPricing struct {
	gorm.Model
	ModelName       string  `gorm:"uniqueIndex;size:100"`
	Provider        string  `gorm:"size:32"`
	InputCostPer1K  float64 `gorm:"column:input_cost_per_1k"`
	OutputCostPer1K float64 `gorm:"column:output_cost_per_1k"`
}

// TokenUsageLog records one LLM call.
type TokenUsageLog struct {
	gorm.Model
	UserID       *uint  `gorm:"index"`
	PlanID       *uint  `gorm:"index"`
	FeatureCode  string `gorm:"size:64;index"`
	ModelName    string `gorm:"size:100;index"`
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	RequestID    string         `gorm:"size:64"`
	Metadata     datatypes.JSON `gorm:"type:jsonb"`
}
