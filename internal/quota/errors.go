package quota

import (
	"errors"
	"fmt"
)

var (
	ErrPlanNotFound         = errors.New("quota: plan not found")
	ErrPriceNotFound        = errors.New("quota: price not found for billing period")
	ErrInvalidBillingPeriod = errors.New("quota: billing period must be monthly or yearly")
	ErrFreePlanMissing      = errors.New("quota: free plan is not seeded")
	ErrNoSubscription       = errors.New("quota: no active subscription")
)

// ExceededError 表示额度用尽或功能在当前方案中不可用。
type ExceededError struct {
	Feature  string
	Limit    int
	Used     int
	Disabled bool
}

func (e *ExceededError) Error() string {
	if e.Disabled {
		return fmt.Sprintf("feature %s is not available on the current plan", e.Feature)
	}
	return fmt.Sprintf("monthly quota exceeded for %s (%d/%d)", e.Feature, e.Used, e.Limit)
}

// AsExceeded unwraps an ExceededError from err.
func AsExceeded(err error) (*ExceededError, bool) {
	var ex *ExceededError
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}
