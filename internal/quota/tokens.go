package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"interviewly/internal/database"
)

// 未登记模型的默认单价（每 1K token，美元）。
const defaultCostPer1K = 0.0001

// TokenUsageService 记录 LLM 调用的 token 消耗与成本。
type TokenUsageService struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewTokenUsageService(db *gorm.DB, logger *slog.Logger) *TokenUsageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenUsageService{db: db, logger: logger, now: time.Now}
}

// CalculateCost prices a call from per-1k-token rates, rounded to 6 decimals.
func CalculateCost(inputTokens, outputTokens int, inputPer1K, outputPer1K float64) float64 {
	cost := float64(inputTokens)/1000*inputPer1K + float64(outputTokens)/1000*outputPer1K
	return math.Round(cost*1e6) / 1e6
}

// UsageEntry 描述一次待记录的 LLM 调用。
type UsageEntry struct {
	UserID       *uint
	PlanID       *uint
	FeatureCode  string
	ModelName    string
	InputTokens  int
	OutputTokens int
	RequestID    string
	Metadata     map[string]any
}

// Log prices and persists one call. Unknown models are priced at a conservative default.
func (s *TokenUsageService) Log(ctx context.Context, entry UsageEntry) (*database.TokenUsageLog, error) {
	db := s.db.WithContext(ctx)
	inRate, outRate := defaultCostPer1K, defaultCostPer1K

	var pricing database.ModelPricing
	err := db.Where("model_name = ?", entry.ModelName).First(&pricing).Error
	switch {
	case err == nil:
		inRate, outRate = pricing.InputCostPer1K, pricing.OutputCostPer1K
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.logger.Warn("model missing from pricing table, using default rates", slog.String("model", entry.ModelName))
	default:
		return nil, fmt.Errorf("load model pricing: %w", err)
	}

	row := database.TokenUsageLog{
		UserID:       entry.UserID,
		PlanID:       entry.PlanID,
		FeatureCode:  entry.FeatureCode,
		ModelName:    entry.ModelName,
		InputTokens:  entry.InputTokens,
		OutputTokens: entry.OutputTokens,
		TotalTokens:  entry.InputTokens + entry.OutputTokens,
		CostUSD:      CalculateCost(entry.InputTokens, entry.OutputTokens, inRate, outRate),
		RequestID:    entry.RequestID,
	}
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode usage metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(raw)
	}
	if err := db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert token usage: %w", err)
	}
	return &row, nil
}

// ModelCost aggregates usage of one model.
type ModelCost struct {
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Requests     int64   `json:"requests"`
}

// FeatureCost aggregates usage of one feature.
type FeatureCost struct {
	FeatureCode string  `json:"feature_code"`
	CostUSD     float64 `json:"cost_usd"`
	Requests    int64   `json:"requests"`
}

// DailyCost is one day of the admin cost timeline.
type DailyCost struct {
	Date     string  `json:"date"`
	CostUSD  float64 `json:"cost_usd"`
	Requests int64   `json:"requests"`
}

// CostSummary 成本汇总；UserID 为 nil 时表示全站。
type CostSummary struct {
	UserID            *uint         `json:"user_id,omitempty"`
	PeriodDays        int           `json:"period_days"`
	PeriodStart       time.Time     `json:"period_start"`
	PeriodEnd         time.Time     `json:"period_end"`
	TotalCostUSD      float64       `json:"total_cost_usd"`
	TotalInputTokens  int64         `json:"total_input_tokens"`
	TotalOutputTokens int64         `json:"total_output_tokens"`
	TotalTokens       int64         `json:"total_tokens"`
	TotalRequests     int64         `json:"total_requests"`
	UniqueUsers       int64         `json:"unique_users"`
	AvgCostPerRequest float64       `json:"avg_cost_per_request"`
	ByModel           []ModelCost   `json:"by_model"`
	ByFeature         []FeatureCost `json:"by_feature"`
	Daily             []DailyCost   `json:"daily,omitempty"`
}

// UserCostSummary summarises one user's spend over the last days.
func (s *TokenUsageService) UserCostSummary(ctx context.Context, userID uint, days int) (CostSummary, error) {
	summary, err := s.summary(ctx, &userID, days)
	if err != nil {
		return CostSummary{}, err
	}
	summary.UserID = &userID
	return summary, nil
}

// TotalSummary summarises spend across all users, including a daily breakdown.
func (s *TokenUsageService) TotalSummary(ctx context.Context, days int) (CostSummary, error) {
	summary, err := s.summary(ctx, nil, days)
	if err != nil {
		return CostSummary{}, err
	}

	var rows []database.TokenUsageLog
	if err := s.scope(ctx, nil, summary.PeriodStart).Select("created_at", "cost_usd").Order("created_at ASC").Find(&rows).Error; err != nil {
		return CostSummary{}, fmt.Errorf("load daily usage: %w", err)
	}
	// 按 UTC 日期在内存中分桶，避免依赖各数据库的日期函数。
	index := map[string]int{}
	for _, r := range rows {
		day := r.CreatedAt.UTC().Format(time.DateOnly)
		i, ok := index[day]
		if !ok {
			i = len(summary.Daily)
			index[day] = i
			summary.Daily = append(summary.Daily, DailyCost{Date: day})
		}
		summary.Daily[i].CostUSD += r.CostUSD
		summary.Daily[i].Requests++
	}
	for i := range summary.Daily {
		summary.Daily[i].CostUSD = round4(summary.Daily[i].CostUSD)
	}
	return summary, nil
}

func (s *TokenUsageService) scope(ctx context.Context, userID *uint, since time.Time) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&database.TokenUsageLog{}).Where("created_at >= ?", since)
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	return q
}

func (s *TokenUsageService) summary(ctx context.Context, userID *uint, days int) (CostSummary, error) {
	if days <= 0 {
		days = 30
	}
	end := s.now().UTC()
	start := end.AddDate(0, 0, -days)
	out := CostSummary{PeriodDays: days, PeriodStart: start, PeriodEnd: end}

	var totals struct {
		Cost     float64
		Input    int64
		Output   int64
		Requests int64
		Users    int64
	}
	err := s.scope(ctx, userID, start).
		Select("COALESCE(SUM(cost_usd), 0) AS cost, COALESCE(SUM(input_tokens), 0) AS input, COALESCE(SUM(output_tokens), 0) AS output, COUNT(id) AS requests, COUNT(DISTINCT user_id) AS users").
		Scan(&totals).Error
	if err != nil {
		return CostSummary{}, fmt.Errorf("sum token usage: %w", err)
	}
	out.TotalCostUSD = round4(totals.Cost)
	out.TotalInputTokens = totals.Input
	out.TotalOutputTokens = totals.Output
	out.TotalTokens = totals.Input + totals.Output
	out.TotalRequests = totals.Requests
	out.UniqueUsers = totals.Users
	if totals.Requests > 0 {
		out.AvgCostPerRequest = math.Round(totals.Cost/float64(totals.Requests)*1e6) / 1e6
	}

	err = s.scope(ctx, userID, start).
		Select("model_name AS model, SUM(input_tokens) AS input_tokens, SUM(output_tokens) AS output_tokens, SUM(cost_usd) AS cost_usd, COUNT(id) AS requests").
		Group("model_name").
		Order("model_name").
		Scan(&out.ByModel).Error
	if err != nil {
		return CostSummary{}, fmt.Errorf("group usage by model: %w", err)
	}
	err = s.scope(ctx, userID, start).
		Where("feature_code <> ''").
		Select("feature_code, SUM(cost_usd) AS cost_usd, COUNT(id) AS requests").
		Group("feature_code").
		Order("feature_code").
		Scan(&out.ByFeature).Error
	if err != nil {
		return CostSummary{}, fmt.Errorf("group usage by feature: %w", err)
	}
	for i := range out.ByModel {
		out.ByModel[i].CostUSD = round4(out.ByModel[i].CostUSD)
	}
	for i := range out.ByFeature {
		out.ByFeature[i].CostUSD = round4(out.ByFeature[i].CostUSD)
	}
	return out, nil
}

// DefaultModelPricing is the price list written by SeedModelPricing.
var DefaultModelPricing = []database.ModelPricing{
	{ModelName: "gpt-4o", Provider: "openai", InputCostPer1K: 0.0025, OutputCostPer1K: 0.010},
	{ModelName: "gpt-4o-mini", Provider: "openai", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
	{ModelName: "gpt-4-turbo", Provider: "openai", InputCostPer1K: 0.010, OutputCostPer1K: 0.030},
	{ModelName: "gpt-3.5-turbo", Provider: "openai", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015},
	{ModelName: "claude-3-5-sonnet-latest", Provider: "anthropic", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
	{ModelName: "claude-3-5-haiku-latest", Provider: "anthropic", InputCostPer1K: 0.0008, OutputCostPer1K: 0.004},
	{ModelName: "gemini-2.0-flash", Provider: "gemini", InputCostPer1K: 0.0001, OutputCostPer1K: 0.0004},
}

// SeedModelPricing upserts DefaultModelPricing by model name.
func SeedModelPricing(ctx context.Context, db *gorm.DB) error {
	for _, m := range DefaultModelPricing {
		row := m
		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "model_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"provider", "input_cost_per_1k", "output_cost_per_1k", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("seed pricing %s: %w", m.ModelName, err)
		}
	}
	return nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
