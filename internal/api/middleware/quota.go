package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"interviewly/internal/errcode"
	"interviewly/internal/quota"
)

const quotaDecisionKey = "quotaDecision"

// QuotaChecker is satisfied by *quota.Service.
type QuotaChecker interface {
	CheckAndIncrement(ctx context.Context, userID uint, feature string) (quota.Decision, error)
	Refund(ctx context.Context, d quota.Decision) error
}

// RequireQuota 在进入处理函数前占用一次功能额度。
// 额度用尽返回 429，方案未开通该功能返回 403。
// 处理函数以 4xx/5xx 拒绝请求时退还这次占用。
func RequireQuota(checker QuotaChecker, feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			abortUnauthorized(c)
			return
		}
		decision, err := checker.CheckAndIncrement(c.Request.Context(), userID, feature)
		if ex, exceeded := quota.AsExceeded(err); exceeded {
			status, code := http.StatusTooManyRequests, errcode.QuotaExceeded
			if ex.Disabled {
				status, code = http.StatusForbidden, errcode.FeatureDisabled
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error":   ex.Error(),
				"code":    code,
				"feature": ex.Feature,
				"limit":   ex.Limit,
				"used":    ex.Used,
			})
			return
		}
		if err != nil {
			LoggerFromContext(c).Error("quota check failed", "feature", feature, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quota check failed"})
			return
		}
		c.Set(quotaDecisionKey, decision)
		c.Next()

		if !decision.Counted || c.Writer.Status() < http.StatusBadRequest {
			return
		}
		if err := checker.Refund(context.WithoutCancel(c.Request.Context()), decision); err != nil {
			LoggerFromContext(c).Error("quota refund failed", "feature", feature, "error", err)
		}
	}
}

// QuotaDecision returns the decision recorded by RequireQuota.
func QuotaDecision(c *gin.Context) (quota.Decision, bool) {
	value, ok := c.Get(quotaDecisionKey)
	if !ok {
		return quota.Decision{}, false
	}
	d, ok := value.(quota.Decision)
	return d, ok
}
