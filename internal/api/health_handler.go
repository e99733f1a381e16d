package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Pinger 对象存储等外部依赖的探活接口。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and dependency checks.
type HealthHandler struct {
	db      *gorm.DB
	redis   redis.UniversalClient
	storage Pinger
	version string
}

func NewHealthHandler(db *gorm.DB, redisClient redis.UniversalClient, storage Pinger, version string) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, storage: storage, version: version}
}

func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": h.version})
}

// Ready checks the database, Redis and object storage; any failure gives 503.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	record := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}

	if sqlDB, err := h.db.DB(); err != nil {
		record("database", err)
	} else {
		record("database", sqlDB.PingContext(ctx))
	}
	if h.redis != nil {
		record("redis", h.redis.Ping(ctx).Err())
	}
	if h.storage != nil {
		record("storage", h.storage.Ping(ctx))
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}
