package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db  *gorm.DB
	rdb *goredis.Client
}

func NewHealthHandler(db *gorm.DB, rdb *goredis.Client) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb}
}

func (hh *HealthHandler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{"postgres": "ok", "redis": "ok"}
	healthy := true

	sqlDB, err := hh.db.WithContext(ctx).DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	}
	if err := hh.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "time": time.Now().UTC(), "checks": checks})
}
