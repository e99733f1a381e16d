package quota

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"interviewly/internal/database"
)

type seedPlan struct {
	Code        string
	Name        string
	Description string
	SortOrder   int
	Prices      []database.PlanPrice
	Features    []database.PlanFeature
}

func quota(n int) *int { return &n }

func capped(code string, n int) database.PlanFeature {
	return database.PlanFeature{FeatureCode: code, MonthlyQuota: quota(n), HardCap: true}
}

func unlimited(code string) database.PlanFeature {
	return database.PlanFeature{FeatureCode: code}
}

func prices(monthly, yearly, monthlyTrial, yearlyTrial int) []database.PlanPrice {
	return []database.PlanPrice{
		{BillingPeriod: database.BillingMonthly, PriceCents: monthly, Currency: "USD", TrialDays: monthlyTrial},
		{BillingPeriod: database.BillingYearly, PriceCents: yearly, Currency: "USD", TrialDays: yearlyTrial},
	}
}

// defaultPlans 初始方案：free / basic / pro / enterprise。
var defaultPlans = []seedPlan{
	{
		Code:        database.FreePlanCode,
		Name:        "Free",
		Description: "Try the app and get a taste of AI-powered career tools",
		SortOrder:   1,
		Prices:      prices(0, 0, 0, 0),
		Features: []database.PlanFeature{
			capped(FeatureCVGenerate, 2),
			capped(FeatureCVAnalyze, 2),
			capped(FeatureCoverLetter, 1),
			capped(FeatureMockInterview, 1),
			capped(FeatureCareerChat, 10),
		},
	},
	{
		Code:        "basic",
		Name:        "Basic",
		Description: "Essential tools for active job seekers",
		SortOrder:   2,
		Prices:      prices(999, 9900, 7, 14),
		Features: []database.PlanFeature{
			capped(FeatureCVGenerate, 10),
			capped(FeatureCVAnalyze, 10),
			capped(FeatureCoverLetter, 20),
			capped(FeatureMotivationLetter, 10),
			capped(FeatureMockInterview, 5),
			capped(FeatureCareerChat, 100),
			{FeatureCode: FeatureJobTracking, MonthlyQuota: quota(50), HardCap: false},
		},
	},
	{
		Code:        "pro",
		Name:        "Pro",
		Description: "Advanced features for serious career advancement",
		SortOrder:   3,
		Prices:      prices(2999, 29900, 7, 14),
		Features: []database.PlanFeature{
			capped(FeatureCVGenerate, 30),
			capped(FeatureCVAnalyze, 30),
			unlimited(FeatureCoverLetter),
			unlimited(FeatureMotivationLetter),
			capped(FeatureMockInterview, 20),
			unlimited(FeatureCareerChat),
			unlimited(FeatureJobTracking),
		},
	},
	{
		Code:        "enterprise",
		Name:        "Enterprise",
		Description: "Unlimited access for teams and organizations",
		SortOrder:   4,
		Prices:      prices(9999, 99900, 14, 30),
		Features: []database.PlanFeature{
			unlimited(FeatureCVGenerate),
			unlimited(FeatureCVAnalyze),
			unlimited(FeatureCoverLetter),
			unlimited(FeatureMotivationLetter),
			unlimited(FeatureMockInterview),
			unlimited(FeatureCareerChat),
			unlimited(FeatureJobTracking),
		},
	},
}

// SeedDefaultPlans creates or refreshes the default plans, their prices and
// feature quotas. It is safe to run repeatedly.
func SeedDefaultPlans(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sp := range defaultPlans {
			plan := database.PricingPlan{Code: sp.Code}
			if err := tx.Where("code = ?", sp.Code).FirstOrCreate(&plan).Error; err != nil {
				return fmt.Errorf("upsert plan %s: %w", sp.Code, err)
			}
			err := tx.Model(&plan).Updates(map[string]any{
				"name":        sp.Name,
				"description": sp.Description,
				"sort_order":  sp.SortOrder,
				"is_active":   true,
			}).Error
			if err != nil {
				return fmt.Errorf("update plan %s: %w", sp.Code, err)
			}

			for _, p := range sp.Prices {
				row := p
				row.PlanID = plan.ID
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "plan_id"}, {Name: "billing_period"}},
					DoUpdates: clause.AssignmentColumns([]string{"price_cents", "currency", "trial_days", "updated_at"}),
				}).Create(&row).Error
				if err != nil {
					return fmt.Errorf("upsert price %s/%s: %w", sp.Code, p.BillingPeriod, err)
				}
			}
			for _, f := range sp.Features {
				row := f
				row.PlanID = plan.ID
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "plan_id"}, {Name: "feature_code"}},
					DoUpdates: clause.AssignmentColumns([]string{"monthly_quota", "hard_cap", "updated_at"}),
				}).Create(&row).Error
				if err != nil {
					return fmt.Errorf("upsert feature %s/%s: %w", sp.Code, f.FeatureCode, err)
				}
			}
		}
		return nil
	})
}
