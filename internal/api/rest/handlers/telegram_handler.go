package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/Dhoini/numgate/internal/integration/telegram"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/Dhoini/numgate/pkg/res"
	"github.com/gin-gonic/gin"
)

// SecretHeader передает токен, зарегистрированный через setWebhook
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateHandler обрабатывает одно обновление чата
type UpdateHandler interface {
	Handle(ctx context.Context, update telegram.Update)
}

// TelegramHandler принимает обновления чата в режиме webhook
type TelegramHandler struct {
	updates UpdateHandler
	secret  []byte
	log     *logger.Logger
}

// NewTelegramHandler создает новый обработчик
func NewTelegramHandler(updates UpdateHandler, secret string, log *logger.Logger) *TelegramHandler {
	return &TelegramHandler{
		updates: updates,
		secret:  []byte(secret),
		log:     log,
	}
}

// HandleUpdate проверяет секретный заголовок и передает обновление дальше
func (h *TelegramHandler) HandleUpdate(c *gin.Context) {
	got := []byte(c.GetHeader(SecretHeader))
	if len(h.secret) == 0 || subtle.ConstantTimeCompare(got, h.secret) != 1 {
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "forbidden"}, http.StatusForbidden, h.log)
		return
	}

	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "malformed update"}, http.StatusBadRequest, h.log)
		return
	}

	// Отключение отправителя не должно прерывать обработчик на полпути
	h.updates.Handle(context.WithoutCancel(c.Request.Context()), update)
	c.Status(http.StatusOK)
}
