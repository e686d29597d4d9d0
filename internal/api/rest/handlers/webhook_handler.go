package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/service"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/Dhoini/numgate/pkg/req"
	"github.com/Dhoini/numgate/pkg/res"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// EmptyTwiML подтверждает callback провайдера без дальнейших инструкций
const EmptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// SignatureHeader содержит HMAC подпись callback от провайдера
const SignatureHeader = "X-Twilio-Signature"

// WebhookHandler принимает callback провайдера для купленных номеров
type WebhookHandler struct {
	router        service.InboundRouter
	publicBaseURL string
	log           *logger.Logger
}

// NewWebhookHandler создает новый обработчик. publicBaseURL это адрес,
// переданный провайдеру, именно его покрывают подписи.
func NewWebhookHandler(router service.InboundRouter, publicBaseURL string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		router:        router,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		log:           log,
	}
}

// HandleSMS пересылает входящее сообщение владельцу номера. Ответ 200 с пустым
// TwiML даже для отброшенного сообщения, иначе провайдер будет повторять
// недоставляемые сообщения. 403 получает только неверная подпись.
func (h *WebhookHandler) HandleSMS(c *gin.Context) {
	var msg domain.InboundMessage
	if err := c.ShouldBindWith(&msg, binding.Form); err != nil {
		h.log.Warnw("Unreadable inbound webhook", "error", err)
		res.XMLResponse(c.Writer, EmptyTwiML, http.StatusOK)
		return
	}
	if err := req.IsValid(msg); err != nil {
		h.log.Warnw("Inbound webhook missing fields", "error", err)
		res.XMLResponse(c.Writer, EmptyTwiML, http.StatusOK)
		return
	}
	if hint := c.Param("userID"); hint != "" {
		if id, err := strconv.ParseInt(hint, 10, 64); err == nil {
			msg.OwnerHint = id
		}
	}

	msg.Signature = domain.CallbackSignature{
		Value: c.GetHeader(SignatureHeader),
		URL:   h.publicBaseURL + c.Request.URL.RequestURI(),
		Form:  c.Request.PostForm,
	}

	err := h.router.Route(c.Request.Context(), msg)
	switch {
	case err == nil, errors.Is(err, domain.ErrNotFound):
	case errors.Is(err, domain.ErrUnauthorized):
		res.XMLResponse(c.Writer, EmptyTwiML, http.StatusForbidden)
		return
	default:
		h.log.Errorw("Inbound message not delivered", "to", msg.To, "error", err)
	}
	res.XMLResponse(c.Writer, EmptyTwiML, http.StatusOK)
}

// HandleStatus фиксирует статусные callback для купленного номера
func (h *WebhookHandler) HandleStatus(c *gin.Context) {
	h.log.Infow("Number status callback",
		"user_id", c.Param("userID"),
		"sid", c.PostForm("MessageSid"),
		"status", c.PostForm("MessageStatus"),
		"error_code", c.PostForm("ErrorCode"),
	)
	res.XMLResponse(c.Writer, EmptyTwiML, http.StatusOK)
}
