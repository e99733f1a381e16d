package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"interviewly/internal/quota"
)

// PricingHandler serves plans, usage and subscription changes.
type PricingHandler struct {
	plans  *quota.PlanService
	quota  *quota.Service
	logger *slog.Logger
}

func NewPricingHandler(plans *quota.PlanService, quotaService *quota.Service, logger *slog.Logger) *PricingHandler {
	return &PricingHandler{plans: plans, quota: quotaService, logger: logger}
}

func (h *PricingHandler) Plans(c *gin.Context) {
	plans, err := h.plans.ActivePlans(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	views := make([]quota.PlanView, 0, len(plans))
	for _, p := range plans {
		views = append(views, quota.FormatPlan(p))
	}
	c.JSON(http.StatusOK, gin.H{"plans": views})
}

func (h *PricingHandler) Plan(c *gin.Context) {
	code := c.Param("code")
	plan, err := h.plans.PlanByCode(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, quota.ErrPlanNotFound) {
			NotFound(c, fmt.Sprintf("Plan with code '%s' not found", code))
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quota.FormatPlan(*plan))
}

func (h *PricingHandler) Features(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"features": quota.Catalog()})
}

func (h *PricingHandler) Compare(c *gin.Context) {
	cmp, err := h.plans.Compare(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

// Usage 当前计费周期内各功能的用量。
func (h *PricingHandler) Usage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	stats, err := h.quota.UsageStats(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *PricingHandler) CurrentPlan(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	current, err := h.plans.CurrentPlan(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, current)
}

type subscribeRequest struct {
	PlanCode      string `json:"plan_code" binding:"required"`
	BillingPeriod string `json:"billing_period"`
}

// Subscribe switches the caller to a plan. Payment collection happens outside
// this service; the subscription is activated immediately.
func (h *PricingHandler) Subscribe(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req subscribeRequest
	if !bindJSON(c, &req) {
		return
	}
	period := strings.ToLower(strings.TrimSpace(req.BillingPeriod))
	if period == "" {
		period = "monthly"
	}
	code := strings.ToLower(strings.TrimSpace(req.PlanCode))
	logger := loggerFor(c, h.logger).With(slog.Uint64("user_id", uint64(userID)), slog.String("plan_code", code))

	sub, err := h.plans.Subscribe(c.Request.Context(), userID, code, period)
	switch {
	case errors.Is(err, quota.ErrInvalidBillingPeriod):
		BadRequest(c, "Billing period must be 'monthly' or 'yearly'")
		return
	case errors.Is(err, quota.ErrPlanNotFound):
		NotFound(c, fmt.Sprintf("Plan with code '%s' not found", code))
		return
	case errors.Is(err, quota.ErrPriceNotFound):
		NotFound(c, fmt.Sprintf("Price not found for plan '%s' with billing period '%s'", code, period))
		return
	case err != nil:
		logger.Error("subscribe failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	logger.Info("subscription updated", slog.String("billing_period", period), slog.Bool("trial", sub.TrialEndsAt != nil))

	c.JSON(http.StatusOK, gin.H{
		"message":            "Subscription updated",
		"plan_code":          code,
		"billing_period":     sub.BillingPeriod,
		"status":             sub.Status,
		"current_period_end": sub.CurrentPeriodEnd,
		"trial_ends_at":      sub.TrialEndsAt,
	})
}

func (h *PricingHandler) Cancel(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	err := h.plans.Cancel(c.Request.Context(), userID)
	switch {
	case errors.Is(err, quota.ErrNoSubscription):
		NotFound(c, "No active subscription")
	case err != nil:
		h.writeError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Subscription canceled"})
	}
}

func (h *PricingHandler) writeError(c *gin.Context, err error) {
	if errors.Is(err, quota.ErrFreePlanMissing) {
		Error(c, http.StatusServiceUnavailable, "Pricing plans are not configured")
		return
	}
	loggerFor(c, h.logger).Error("pricing request failed", slog.Any("error", err))
	Internal(c, "internal error")
}
