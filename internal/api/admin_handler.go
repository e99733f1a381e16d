package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"interviewly/internal/admin"
)

const maxStatsDays = 365

// AdminHandler exposes cost and adoption dashboards to administrators.
type AdminHandler struct {
	stats  *admin.Service
	logger *slog.Logger
}

func NewAdminHandler(stats *admin.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{stats: stats, logger: logger}
}

// statsDays 解析 ?days=，范围 1..365。
func statsDays(c *gin.Context) (int, bool) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 1 || days > maxStatsDays {
		BadRequest(c, "days must be between 1 and 365")
		return 0, false
	}
	return days, true
}

func (h *AdminHandler) RevenueVsCost(c *gin.Context) {
	days, ok := statsDays(c)
	if !ok {
		return
	}
	out, err := h.stats.RevenueVsCost(c.Request.Context(), days)
	if err != nil {
		h.internal(c, "revenue vs cost failed", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) UserCosts(c *gin.Context) {
	userID, ok := uintParam(c, "user_id")
	if !ok {
		return
	}
	days, ok := statsDays(c)
	if !ok {
		return
	}
	out, err := h.stats.UserCosts(c.Request.Context(), userID, days)
	if err != nil {
		h.internal(c, "user cost summary failed", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) PlanStats(c *gin.Context) {
	out, err := h.stats.PlanStats(c.Request.Context())
	if err != nil {
		h.internal(c, "plan stats failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}

func (h *AdminHandler) FeatureStats(c *gin.Context) {
	out, err := h.stats.FeatureStats(c.Request.Context())
	if err != nil {
		h.internal(c, "feature stats failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": out})
}

func (h *AdminHandler) DatabaseHealth(c *gin.Context) {
	out := h.stats.DatabaseHealth(c.Request.Context())
	status := http.StatusOK
	if out.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, out)
}

// CostReport 下载成本报表 xlsx。
func (h *AdminHandler) CostReport(c *gin.Context) {
	days, ok := statsDays(c)
	if !ok {
		return
	}
	data, filename, err := h.stats.CostReport(c.Request.Context(), days)
	if err != nil {
		h.internal(c, "cost report failed", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

func (h *AdminHandler) internal(c *gin.Context, msg string, err error) {
	loggerFor(c, h.logger).Error(msg, slog.Any("error", err))
	Internal(c, "internal error")
}
