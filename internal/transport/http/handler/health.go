package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gopherai-cochat/internal/bootstrap"
	"gopherai-cochat/internal/config"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

// Check reports dependency health. The broker is informational only: a
// broken fan-out degrades real-time delivery but never the write path, so
// it does not flip the status code.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	mysqlStatus := h.checkMySQL(ctx)
	redisStatus := h.checkRedis(ctx)
	brokerStatus := h.checkBroker(ctx)

	statusCode := http.StatusOK
	if !mysqlStatus.OK || !redisStatus.OK {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"app":        h.app.Config.App.Name,
		"env":        h.app.Config.App.Env,
		"uptime_sec": int(time.Since(h.app.StartedAt).Seconds()),
		"dependencies": gin.H{
			"mysql":  mysqlStatus,
			"redis":  redisStatus,
			"broker": brokerStatus,
		},
	})
}

func (h *HealthHandler) checkMySQL(ctx context.Context) dependencyStatus {
	if h.app.MySQL == nil {
		return dependencyStatus{OK: false, Message: "not configured"}
	}
	sqlDB, err := h.app.MySQL.DB()
	if err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkRedis(ctx context.Context) dependencyStatus {
	if h.app.Redis == nil {
		return dependencyStatus{OK: true, Message: "disabled"}
	}
	if err := h.app.Redis.Ping(ctx).Err(); err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkBroker(ctx context.Context) dependencyStatus {
	backend := h.app.Config.Broker.Backend
	switch {
	case h.app.Broker == nil:
		return dependencyStatus{OK: false, Message: "not configured"}
	case backend == config.BrokerRabbitMQ:
		if h.app.MQConn == nil || h.app.MQConn.IsClosed() {
			return dependencyStatus{OK: false, Message: "rabbitmq connection closed"}
		}
	case backend == config.BrokerRedis && h.app.Redis != nil:
		if err := h.app.Redis.Ping(ctx).Err(); err != nil {
			return dependencyStatus{OK: false, Message: err.Error()}
		}
	}
	return dependencyStatus{OK: true, Message: backend}
}
