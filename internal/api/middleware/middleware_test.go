package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"interviewly/internal/auth/authtest"
	"interviewly/internal/errcode"
	"interviewly/internal/quota"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChecker struct {
	decision quota.Decision
	err      error
	calls    int
	refunded []quota.Decision
}

func (f *fakeChecker) CheckAndIncrement(_ context.Context, _ uint, feature string) (quota.Decision, error) {
	f.calls++
	d := f.decision
	d.Feature = feature
	return d, f.err
}

func (f *fakeChecker) Refund(_ context.Context, d quota.Decision) error {
	f.refunded = append(f.refunded, d)
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestAuthMiddlewareAndRequireRole(t *testing.T) {
	svc := authtest.New(t)
	router := gin.New()
	router.GET("/me", AuthMiddleware(svc), func(c *gin.Context) {
		id, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"id": id, "role": UserRole(c)})
	})
	router.GET("/recruiter", AuthMiddleware(svc), RequireRole("RECRUITER", "ADMIN"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	pair, err := svc.GenerateTokenPair(9, "CANDIDATE")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/me", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic abc", http.StatusUnauthorized},
		{"refresh token", "/me", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"access token", "/me", "Bearer " + pair.AccessToken, http.StatusOK},
		{"candidate on recruiter route", "/recruiter", "Bearer " + pair.AccessToken, http.StatusForbidden},
		{"recruiter", "/recruiter", authtest.Bearer(t, svc, 3, "RECRUITER"), http.StatusNoContent},
		{"admin", "/recruiter", authtest.Bearer(t, svc, 1, "ADMIN"), http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/recruiter", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := decode(t, rec)["error"]; got != "This endpoint requires RECRUITER or ADMIN role" {
		t.Fatalf("unexpected role error %v", got)
	}
}

func quotaRouter(checker QuotaChecker, seen *quota.Decision) *gin.Engine {
	router := gin.New()
	router.POST("/start", func(c *gin.Context) {
		if c.GetHeader("X-User") != "" {
			c.Set(userIDKey, uint(5))
		}
		c.Next()
	}, RequireQuota(checker, quota.FeatureMockInterview), func(c *gin.Context) {
		*seen, _ = QuotaDecision(c)
		c.Status(http.StatusCreated)
	})
	return router
}

func TestRequireQuota(t *testing.T) {
	limit := 3
	cases := []struct {
		name     string
		user     bool
		checker  *fakeChecker
		want     int
		wantCode float64
	}{
		{"no user", false, &fakeChecker{}, http.StatusUnauthorized, 0},
		{"allowed", true, &fakeChecker{decision: quota.Decision{Limit: &limit, Used: 1}}, http.StatusCreated, 0},
		{"exceeded", true, &fakeChecker{err: &quota.ExceededError{Feature: quota.FeatureMockInterview, Limit: 3, Used: 3}}, http.StatusTooManyRequests, float64(errcode.QuotaExceeded)},
		{"disabled", true, &fakeChecker{err: &quota.ExceededError{Feature: quota.FeatureMockInterview, Disabled: true}}, http.StatusForbidden, float64(errcode.FeatureDisabled)},
		{"store failure", true, &fakeChecker{err: errors.New("db down")}, http.StatusInternalServerError, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen quota.Decision
			router := quotaRouter(tc.checker, &seen)
			req := httptest.NewRequest(http.MethodPost, "/start", nil)
			if tc.user {
				req.Header.Set("X-User", "1")
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if tc.wantCode != 0 {
				body := decode(t, rec)
				if body["code"] != tc.wantCode || body["feature"] != quota.FeatureMockInterview {
					t.Fatalf("unexpected quota body %v", body)
				}
			}
			if tc.want == http.StatusCreated && (seen.Feature != quota.FeatureMockInterview || seen.Used != 1) {
				t.Fatalf("decision not passed to handler: %+v", seen)
			}
		})
	}
}

func TestRequireQuotaRefundsRejectedRequests(t *testing.T) {
	limit := 1
	cases := []struct {
		name       string
		counted    bool
		status     int
		wantRefund bool
	}{
		{"validation error", true, http.StatusBadRequest, true},
		{"not found", true, http.StatusNotFound, true},
		{"server error", true, http.StatusInternalServerError, true},
		{"accepted", true, http.StatusCreated, false},
		{"unlimited feature", false, http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checker := &fakeChecker{decision: quota.Decision{Limit: &limit, Used: 1, Counted: tc.counted, UsageID: 9}}
			router := gin.New()
			router.POST("/start", func(c *gin.Context) {
				c.Set(userIDKey, uint(5))
				c.Next()
			}, RequireQuota(checker, quota.FeatureMockInterview), func(c *gin.Context) {
				c.JSON(tc.status, gin.H{})
			})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/start", nil))
			if rec.Code != tc.status {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := len(checker.refunded) == 1; got != tc.wantRefund {
				t.Fatalf("refunded = %v, want %v", checker.refunded, tc.wantRefund)
			}
			if tc.wantRefund && checker.refunded[0].UsageID != 9 {
				t.Fatalf("refund should target the counted row: %+v", checker.refunded[0])
			}
		})
	}
}

func TestInternalSecretMiddleware(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"unconfigured", "", "anything", http.StatusInternalServerError},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"wrong secret", "s3cret", "nope", http.StatusUnauthorized},
		{"match", "s3cret", "s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.PUT("/internal", InternalSecretMiddleware(tc.secret), func(c *gin.Context) { c.Status(http.StatusOK) })
			req := httptest.NewRequest(http.MethodPut, "/internal", nil)
			if tc.header != "" {
				req.Header.Set(InternalSecretHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	router := gin.New()
	router.GET("/", CorrelationIDMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, GetCorrelationID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Body.String() != "req-123" || rec.Header().Get(CorrelationIDHeader) != "req-123" {
		t.Fatalf("expected incoming id to be kept, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Body.String()) != 36 {
		t.Fatalf("expected generated uuid, got %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "bad id\r\nX-Evil: 1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Body.String(); len(got) != 36 || strings.Contains(got, " ") {
		t.Fatalf("unsafe id should be replaced, got %q", got)
	}
}

func TestRequestLevel(t *testing.T) {
	cases := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/health", http.StatusOK, slog.LevelDebug},
		{"/api/cv", http.StatusOK, slog.LevelInfo},
		{"/api/cv", http.StatusTooManyRequests, slog.LevelInfo},
		{"/api/cv", http.StatusNotFound, slog.LevelWarn},
		{"/health/db", http.StatusServiceUnavailable, slog.LevelError},
	}
	for _, tc := range cases {
		if got := requestLevel(tc.path, tc.status); got != tc.want {
			t.Errorf("requestLevel(%q, %d) = %v, want %v", tc.path, tc.status, got, tc.want)
		}
	}
}
