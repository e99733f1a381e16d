package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"interviewly/internal/admin"
	"interviewly/internal/api/middleware"
	"interviewly/internal/auth"
	"interviewly/internal/auth/authtest"
	"interviewly/internal/config"
	"interviewly/internal/database"
	"interviewly/internal/database/dbtest"
	"interviewly/internal/interview"
	"interviewly/internal/llm"
	"interviewly/internal/quota"
)

const testInternalSecret = "sidecar-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	auth   *auth.AuthService
}

// newTestEnv 组装真实路由；CV、ATS 与 LiveKit 处理器不参与这些用例。
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.Open(t)
	ctx := context.Background()
	if err := quota.SeedDefaultPlans(ctx, db); err != nil {
		t.Fatalf("seed plans: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authService := authtest.New(t)
	llmService := llm.NewService(nil, nil, nil, logger)
	sessions := interview.NewService(db, llmService, logger)
	quotaService := quota.NewService(db, logger)

	router := NewRouter(&config.Config{}, logger)
	RegisterRoutes(router, Handlers{
		Auth:      NewAuthHandler(db, authService, nil, logger, config.AuthConfig{}),
		Interview: NewInterviewHandler(sessions, interview.NewConversationService(sessions, llmService, interview.NewMemoryStore(), logger), logger),
		Career:    NewCareerHandler(llmService, logger),
		Pricing:   NewPricingHandler(quota.NewPlanService(db), quotaService, logger),
		Admin:     NewAdminHandler(admin.NewService(db, quota.NewTokenUsageService(db, logger)), logger),
		Health:    NewHealthHandler(db, nil, nil, "test"),
	}, authService, quotaService, testInternalSecret)
	return &testEnv{router: router, db: db, auth: authService}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	out := map[string]any{}
	if ct := rec.Header().Get("Content-Type"); rec.Body.Len() > 0 && bytes.HasPrefix([]byte(ct), []byte("application/json")) {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, out
}

func (e *testEnv) user(t *testing.T, email, role string) (database.User, string) {
	t.Helper()
	u := dbtest.CreateUser(t, e.db, email, role)
	return u, authtest.Bearer(t, e.auth, u.ID, role)
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestRegisterMeAndSetRole(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "Jane@Example.com", "password": "correct-horse", "full_name": "Jane",
	})
	expectStatus(t, rec, http.StatusCreated)
	token := "Bearer " + body["access_token"].(string)
	if user := body["user"].(map[string]any); user["email"] != "jane@example.com" || user["role"] != database.RoleCandidate {
		t.Fatalf("unexpected user %v", user)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"email": "jane@example.com", "password": "another-pass"})
	expectStatus(t, rec, http.StatusConflict)

	rec, _ = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "jane@example.com", "password": "wrong-horse"})
	expectStatus(t, rec, http.StatusUnauthorized)
	rec, body = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": " JANE@example.com", "password": "correct-horse"})
	expectStatus(t, rec, http.StatusOK)
	if body["access_token"] == "" {
		t.Fatalf("login returned no token: %v", body)
	}

	rec, body = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	expectStatus(t, rec, http.StatusOK)
	if body["full_name"] != "Jane" {
		t.Fatalf("unexpected me %v", body)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/ats/v1/jobs", token, nil)
	expectStatus(t, rec, http.StatusForbidden)

	rec, body = env.do(t, http.MethodPost, "/api/auth/set-role", token, gin.H{"role": "ADMIN"})
	expectStatus(t, rec, http.StatusBadRequest)
	if body["error"] != "Invalid role. Must be 'RECRUITER' or 'CANDIDATE'" {
		t.Fatalf("unexpected error %v", body["error"])
	}

	rec, body = env.do(t, http.MethodPost, "/api/auth/set-role", token, gin.H{"role": "recruiter"})
	expectStatus(t, rec, http.StatusOK)
	claims, err := env.auth.ValidateToken(body["access_token"].(string))
	if err != nil || claims.Role != database.RoleRecruiter {
		t.Fatalf("expected recruiter token, got %+v (%v)", claims, err)
	}
}

func TestStructuredInterviewRoutesAndQuota(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "candidate@example.com", database.RoleCandidate)

	// 被拒绝的请求会退还额度，免费方案的唯一一次模拟面试仍然可用。
	rec, body := env.do(t, http.MethodPost, "/api/interview/start", token, nil)
	expectStatus(t, rec, http.StatusBadRequest)
	if body["error"] != "request body is required" {
		t.Fatalf("unexpected error %v", body["error"])
	}
	rec, body = env.do(t, http.MethodPost, "/api/interview/start", token, gin.H{"job_title": "Backend Engineer", "seniority": "principal"})
	expectStatus(t, rec, http.StatusBadRequest)
	if body["error"] != "seniority must be one of: junior, mid, senior" {
		t.Fatalf("validator text should be mapped to a stable message, got %v", body["error"])
	}

	rec, body = env.do(t, http.MethodPost, "/api/interview/start", token, gin.H{"job_title": "Backend Engineer", "seniority": "mid", "num_questions": 2})
	expectStatus(t, rec, http.StatusOK)
	sessionID := body["session_id"].(string)
	first := body["first_question"].(map[string]any)

	rec, body = env.do(t, http.MethodPost, "/api/interview/answer", token, gin.H{
		"session_id":       sessionID,
		"question_id":      first["id"],
		"user_answer_text": "I split the monolith into services behind a gateway and measured latency before and after each step.",
	})
	expectStatus(t, rec, http.StatusOK)
	if body["is_last_question"] != false || body["next_question"] == nil {
		t.Fatalf("unexpected answer response %v", body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/interview/finish", token, gin.H{"session_id": sessionID})
	expectStatus(t, rec, http.StatusBadRequest)
	if body["error"] != "Not all questions have been answered. Answered: 1/2" {
		t.Fatalf("unexpected finish error %v", body["error"])
	}

	rec, body = env.do(t, http.MethodGet, "/api/interview/sessions", token, nil)
	expectStatus(t, rec, http.StatusOK)
	if body["total"] != float64(1) {
		t.Fatalf("expected one session, got %v", body)
	}

	// 免费方案每月一次模拟面试。
	rec, body = env.do(t, http.MethodPost, "/api/interview/start", token, gin.H{"job_title": "Backend Engineer", "seniority": "mid"})
	expectStatus(t, rec, http.StatusTooManyRequests)
	if body["feature"] != quota.FeatureMockInterview || body["limit"] != float64(1) {
		t.Fatalf("unexpected quota body %v", body)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/interview/session/does-not-exist", token, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestConversationalRoutes(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "talker@example.com", database.RoleCandidate)

	rec, body := env.do(t, http.MethodGet, "/api/interview/conversational/health", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if body["llm_configured"] != false || body["active_sessions"] != float64(0) {
		t.Fatalf("unexpected health %v", body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/interview/conversational/start", token, gin.H{"job_title": "Data Analyst", "seniority": "junior", "num_questions": 2})
	expectStatus(t, rec, http.StatusOK)
	sessionID := body["session_id"].(string)
	if body["message"] == "" || body["is_complete"] != false {
		t.Fatalf("unexpected greeting %v", body)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/interview/conversational/answer", token, gin.H{"session_id": "missing", "answer": "hello"})
	expectStatus(t, rec, http.StatusNotFound)

	rec, body = env.do(t, http.MethodPost, "/api/interview/conversational/end", token, gin.H{"session_id": sessionID})
	expectStatus(t, rec, http.StatusOK)
	if body["is_complete"] != true {
		t.Fatalf("unexpected end response %v", body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/interview/conversational/answer", token, gin.H{"session_id": sessionID, "answer": "too late"})
	expectStatus(t, rec, http.StatusNotFound)
	if body["error"] != "Interview session not found or expired" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

func TestVoiceTranscriptRoutes(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "voice@example.com", database.RoleCandidate)

	rec, body := env.do(t, http.MethodPost, "/api/interview/voice/start", token, gin.H{"job_title": "Support Lead", "seniority": "senior", "num_questions": 3})
	expectStatus(t, rec, http.StatusCreated)
	sessionID := body["session_id"].(string)
	if body["mode"] != database.ModeVoice || body["room_name"] == "" {
		t.Fatalf("unexpected voice start %v", body)
	}

	path := "/internal/interview/" + sessionID + "/transcript"
	transcript := func(rev int) gin.H {
		return gin.H{"revision": rev, "questions_asked": 2, "entries": []gin.H{
			{"speaker": interview.SpeakerAgent, "text": "Tell me about a hard escalation."},
			{"speaker": "user", "text": "A customer lost data, so I ran the incident bridge and wrote the postmortem."},
		}}
	}

	rec, _ = env.do(t, http.MethodPut, path, "", transcript(1))
	expectStatus(t, rec, http.StatusUnauthorized)

	rec, body = env.do(t, http.MethodPut, path, "", transcript(2), middleware.InternalSecretHeader, testInternalSecret)
	expectStatus(t, rec, http.StatusOK)
	if body["applied"] != true {
		t.Fatalf("expected revision 2 to apply, got %v", body)
	}
	rec, body = env.do(t, http.MethodPut, path, "", transcript(1), middleware.InternalSecretHeader, testInternalSecret)
	expectStatus(t, rec, http.StatusOK)
	if body["applied"] != false {
		t.Fatalf("stale revision must be ignored, got %v", body)
	}

	finish := "/internal/interview/" + sessionID + "/voice-finish"
	rec, first := env.do(t, http.MethodPost, finish, "", nil, middleware.InternalSecretHeader, testInternalSecret)
	expectStatus(t, rec, http.StatusOK)
	rec, second := env.do(t, http.MethodPost, finish, "", nil, middleware.InternalSecretHeader, testInternalSecret)
	expectStatus(t, rec, http.StatusOK)
	a, _ := json.Marshal(first["summary"])
	b, _ := json.Marshal(second["summary"])
	if !bytes.Equal(a, b) {
		t.Fatalf("finishing twice should return the first summary")
	}

	rec, _ = env.do(t, http.MethodPut, "/internal/interview/unknown/transcript", "", transcript(5), middleware.InternalSecretHeader, testInternalSecret)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestPricingRoutes(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "buyer@example.com", database.RoleCandidate)

	rec, body := env.do(t, http.MethodGet, "/api/pricing/plans", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if plans := body["plans"].([]any); len(plans) != 4 {
		t.Fatalf("expected 4 plans, got %d", len(plans))
	}

	rec, body = env.do(t, http.MethodGet, "/api/pricing/plans/platinum", "", nil)
	expectStatus(t, rec, http.StatusNotFound)
	if body["error"] != "Plan with code 'platinum' not found" {
		t.Fatalf("unexpected error %v", body["error"])
	}

	rec, _ = env.do(t, http.MethodGet, "/api/pricing/user/usage", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)

	rec, body = env.do(t, http.MethodPost, "/api/pricing/user/subscribe", token, gin.H{"plan_code": "pro", "billing_period": "weekly"})
	expectStatus(t, rec, http.StatusBadRequest)
	if body["error"] != "Billing period must be 'monthly' or 'yearly'" {
		t.Fatalf("unexpected error %v", body["error"])
	}

	rec, body = env.do(t, http.MethodPost, "/api/pricing/user/subscribe", token, gin.H{"plan_code": "pro"})
	expectStatus(t, rec, http.StatusOK)
	if body["plan_code"] != "pro" || body["billing_period"] != database.BillingMonthly {
		t.Fatalf("unexpected subscribe response %v", body)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/pricing/user/cancel", token, nil)
	expectStatus(t, rec, http.StatusOK)
	rec, _ = env.do(t, http.MethodPost, "/api/pricing/user/cancel", token, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestAdminAndHealthRoutes(t *testing.T) {
	env := newTestEnv(t)
	_, candidate := env.user(t, "someone@example.com", database.RoleCandidate)
	_, adminToken := env.user(t, "root@example.com", database.RoleAdmin)

	rec, _ := env.do(t, http.MethodGet, "/api/admin/stats/plans", candidate, nil)
	expectStatus(t, rec, http.StatusForbidden)

	rec, body := env.do(t, http.MethodGet, "/api/admin/stats/plans", adminToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if plans := body["plans"].([]any); len(plans) != 4 {
		t.Fatalf("expected 4 plan rows, got %v", plans)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/admin/stats/revenue-vs-cost?days=0", adminToken, nil)
	expectStatus(t, rec, http.StatusBadRequest)
	rec, body = env.do(t, http.MethodGet, "/api/admin/stats/revenue-vs-cost?days=7", adminToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if body["period_days"] != float64(7) {
		t.Fatalf("unexpected revenue body %v", body)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/admin/reports/costs.xlsx", adminToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("unexpected content type %s", rec.Header().Get("Content-Type"))
	}

	rec, _ = env.do(t, http.MethodGet, "/health", "", nil)
	expectStatus(t, rec, http.StatusOK)
	rec, body = env.do(t, http.MethodGet, "/health/db", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if checks := body["checks"].(map[string]any); checks["database"] != "ok" {
		t.Fatalf("unexpected checks %v", checks)
	}
}

func TestCareerRoutes(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "coach@example.com", database.RoleCandidate)

	rec, body := env.do(t, http.MethodGet, "/api/career/quick-tips?topic=networking", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if body["topic"] != "networking" || len(body["tips"].([]any)) != 5 {
		t.Fatalf("unexpected tips %v", body)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/career/chat", "", gin.H{"message": "hi"})
	expectStatus(t, rec, http.StatusUnauthorized)

	// 免费方案每期 10 条；校验失败的请求不占额度。
	for i := 0; i < 10; i++ {
		rec, body = env.do(t, http.MethodPost, "/api/career/chat", token, gin.H{"conversation_history": []gin.H{}})
		expectStatus(t, rec, http.StatusBadRequest)
		if body["error"] != "message is required" {
			t.Fatalf("unexpected error %v", body["error"])
		}
		rec, body = env.do(t, http.MethodPost, "/api/career/chat", token, gin.H{
			"message":      "How do I prepare for an interview?",
			"user_context": gin.H{"job_title": "Engineer", "experience_years": 3},
		})
		expectStatus(t, rec, http.StatusOK)
		if body["status"] != llm.CareerStatusLimited || len(body["suggestions"].([]any)) != 3 {
			t.Fatalf("unexpected reply %v", body)
		}
	}
	rec, _ = env.do(t, http.MethodPost, "/api/career/chat", token, gin.H{"message": "one more"})
	expectStatus(t, rec, http.StatusTooManyRequests)

	rec, body = env.do(t, http.MethodPost, "/api/career/suggestions", token, gin.H{
		"current_role": "QA Engineer", "skills": []string{"Selenium"}, "experience_years": 5,
	})
	expectStatus(t, rec, http.StatusOK)
	if roles := body["suggested_roles"].([]any); len(roles) != 1 || body["growth_paths"] == nil {
		t.Fatalf("unexpected suggestions %v", body)
	}
	rec, body = env.do(t, http.MethodPost, "/api/career/suggestions", token, gin.H{"skills": []string{"Go"}})
	expectStatus(t, rec, http.StatusBadRequest)
	if body["error"] != "current_role is required" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}
