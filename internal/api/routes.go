package api

import (
	"github.com/gin-gonic/gin"

	"interviewly/internal/api/middleware"
	"interviewly/internal/auth"
	"interviewly/internal/database"
	"interviewly/internal/quota"
)

// Handlers bundles everything RegisterRoutes mounts.
type Handlers struct {
	Auth      *AuthHandler
	Interview *InterviewHandler
	LiveKit   *LiveKitHandler
	CV        *CVHandler
	ATS       *ATSHandler
	Career    *CareerHandler
	Pricing   *PricingHandler
	Admin     *AdminHandler
	Health    *HealthHandler
	Ws        *WsHandler
}

// RegisterRoutes 注册全部路由。quota 为 nil 时不做额度检查。
func RegisterRoutes(
	router *gin.Engine,
	h Handlers,
	authService *auth.AuthService,
	quotaChecker middleware.QuotaChecker,
	internalSecret string,
) {
	authMiddleware := middleware.AuthMiddleware(authService)
	requireQuota := func(feature string) gin.HandlerFunc {
		if quotaChecker == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RequireQuota(quotaChecker, feature)
	}

	router.GET("/health", h.Health.Live)
	router.GET("/health/db", h.Health.Ready)

	apiGroup := router.Group("/api")
	apiGroup.GET("/v1/ws", h.Ws.HandleConnection)

	authGroup := apiGroup.Group("/auth")
	{
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/refresh", h.Auth.Refresh)
		authGroup.POST("/logout", authMiddleware, h.Auth.Logout)
		authGroup.GET("/me", authMiddleware, h.Auth.Me)
		authGroup.POST("/set-role", authMiddleware, h.Auth.SetRole)
	}

	interviewGroup := apiGroup.Group("/interview")
	interviewGroup.GET("/conversational/health", h.Interview.ConversationHealth)
	interviewGroup.Use(authMiddleware)
	{
		interviewGroup.POST("/start", requireQuota(quota.FeatureMockInterview), h.Interview.Start)
		interviewGroup.POST("/answer", h.Interview.Answer)
		interviewGroup.POST("/finish", h.Interview.Finish)
		interviewGroup.GET("/session/:id", h.Interview.GetSession)
		interviewGroup.GET("/sessions", h.Interview.ListSessions)
		interviewGroup.POST("/voice/start", requireQuota(quota.FeatureMockInterview), h.Interview.StartVoice)

		conv := interviewGroup.Group("/conversational")
		conv.POST("/start", requireQuota(quota.FeatureMockInterview), h.Interview.StartConversation)
		conv.POST("/answer", h.Interview.AnswerConversation)
		conv.POST("/end", h.Interview.EndConversation)
		conv.GET("/summary/:id", h.Interview.ConversationSummary)
	}

	livekitGroup := apiGroup.Group("/livekit")
	{
		livekitGroup.GET("/health", h.LiveKit.Health)
		livekitGroup.POST("/token", authMiddleware, h.LiveKit.Token)
	}

	cvGroup := apiGroup.Group("/cv")
	cvGroup.Use(authMiddleware)
	{
		cvGroup.POST("/upload", requireQuota(quota.FeatureCVAnalyze), h.CV.Upload)
		cvGroup.GET("", h.CV.List)
		cvGroup.GET("/export-formats", h.CV.ExportFormats)
		cvGroup.GET("/export/:rewrite_id/:format", h.CV.Export)
		cvGroup.POST("/improve/:id", requireQuota(quota.FeatureCVGenerate), h.CV.Improve)
		cvGroup.GET("/:id", h.CV.Get)
		cvGroup.DELETE("/:id", h.CV.Delete)
	}

	rewriterGroup := apiGroup.Group("/rewriter")
	rewriterGroup.Use(authMiddleware)
	{
		rewriterGroup.POST("/cv", requireQuota(quota.FeatureCVGenerate), h.CV.Rewrite)
		rewriterGroup.GET("/cv/:id", h.CV.GetRewrite)
		rewriterGroup.POST("/cover-letter", requireQuota(quota.FeatureCoverLetter), h.CV.CreateCoverLetter)
		rewriterGroup.GET("/cover-letter/:id", h.CV.GetCoverLetter)
	}

	atsGroup := apiGroup.Group("/ats/v1")
	atsGroup.GET("/jobs/:id/public", h.ATS.PublicJob)
	atsGroup.POST("/jobs/:id/apply", h.ATS.Apply)
	recruiter := atsGroup.Group("")
	recruiter.Use(authMiddleware, middleware.RequireRole(database.RoleRecruiter, database.RoleAdmin))
	{
		recruiter.POST("/jobs", h.ATS.CreateJob)
		recruiter.GET("/jobs", h.ATS.ListJobs)
		recruiter.GET("/jobs/:id", h.ATS.GetJob)
		recruiter.PATCH("/jobs/:id/toggle-active", h.ATS.ToggleActive)
		recruiter.GET("/jobs/:id/applications", h.ATS.ListApplications)
		recruiter.GET("/jobs/:id/applications/export", h.ATS.ExportApplications)
		recruiter.POST("/jobs/:id/social-post", h.ATS.SocialPost)
		recruiter.PATCH("/applications/:id/status", h.ATS.UpdateApplicationStatus)
		recruiter.GET("/applications/:id/cv", h.ATS.ApplicationCV)
		recruiter.POST("/applications/:id/screenings", h.ATS.AddScreening)
		recruiter.GET("/applications/:id/screenings", h.ATS.ListScreenings)
		recruiter.POST("/applications/:id/interviews", h.ATS.ScheduleInterview)
		recruiter.GET("/applications/:id/interviews", h.ATS.ListInterviews)
		recruiter.POST("/interviews/:id/feedback", h.ATS.AddFeedback)
	}

	careerGroup := apiGroup.Group("/career")
	careerGroup.GET("/quick-tips", h.Career.QuickTips)
	careerGroup.Use(authMiddleware)
	{
		careerGroup.POST("/chat", requireQuota(quota.FeatureCareerChat), h.Career.Chat)
		careerGroup.POST("/suggestions", h.Career.Suggestions)
	}

	pricingGroup := apiGroup.Group("/pricing")
	{
		pricingGroup.GET("/plans", h.Pricing.Plans)
		pricingGroup.GET("/plans/:code", h.Pricing.Plan)
		pricingGroup.GET("/features", h.Pricing.Features)
		pricingGroup.GET("/compare", h.Pricing.Compare)

		user := pricingGroup.Group("/user", authMiddleware)
		user.GET("/usage", h.Pricing.Usage)
		user.GET("/current-plan", h.Pricing.CurrentPlan)
		user.POST("/subscribe", h.Pricing.Subscribe)
		user.POST("/cancel", h.Pricing.Cancel)
	}

	adminGroup := apiGroup.Group("/admin")
	adminGroup.Use(authMiddleware, middleware.RequireRole(database.RoleAdmin))
	{
		adminGroup.GET("/stats/revenue-vs-cost", h.Admin.RevenueVsCost)
		adminGroup.GET("/stats/user-costs/:user_id", h.Admin.UserCosts)
		adminGroup.GET("/stats/plans", h.Admin.PlanStats)
		adminGroup.GET("/stats/features", h.Admin.FeatureStats)
		adminGroup.GET("/health/database", h.Admin.DatabaseHealth)
		adminGroup.GET("/reports/costs.xlsx", h.Admin.CostReport)
	}

	// 语音 sidecar 回调，使用共享密钥而非用户令牌。
	internalGroup := router.Group("/internal")
	internalGroup.Use(middleware.InternalSecretMiddleware(internalSecret))
	{
		internalGroup.PUT("/interview/:id/transcript", h.Interview.SaveTranscript)
		internalGroup.POST("/interview/:id/voice-finish", h.Interview.FinishVoice)
	}
}
