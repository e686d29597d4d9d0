package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ReadinessFunc сообщает, запущен ли цикл обработки обновлений
type ReadinessFunc func() bool

// HealthHandler отвечает на проверки живости
type HealthHandler struct {
	ready ReadinessFunc
}

// NewHealthHandler создает новый обработчик. При nil ready сервис всегда готов.
func NewHealthHandler(ready ReadinessFunc) *HealthHandler {
	return &HealthHandler{ready: ready}
}

// HealthCheck возвращает 200, пока приложение готово, иначе 503
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status, text := http.StatusOK, "OK"
	if h.ready != nil && !h.ready() {
		status, text = http.StatusServiceUnavailable, "STARTING"
	}
	c.JSON(status, gin.H{
		"status": text,
		"time":   time.Now().Format(time.RFC3339),
	})
}
