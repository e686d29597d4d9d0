package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/middleware"
	"github.com/Dhoini/numgate/internal/service"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/Dhoini/numgate/pkg/req"
	"github.com/Dhoini/numgate/pkg/res"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DecisionRequest тело запроса с решением
type DecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve cancel"`
}

// AdminHandler открывает операторам ожидающие заявки. Решения принимаются от
// имени администратора, поэтому действует то же правило единственного решения,
// что и для кнопок в чате.
type AdminHandler struct {
	approvals service.ApprovalService
	adminID   int64
	log       *logger.Logger
}

// NewAdminHandler создает новый обработчик
func NewAdminHandler(approvals service.ApprovalService, adminID int64, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		approvals: approvals,
		adminID:   adminID,
		log:       log,
	}
}

// ListPending возвращает заявки, ожидающие решения
func (h *AdminHandler) ListPending(c *gin.Context) {
	pending, err := h.approvals.Pending(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": pending, "count": len(pending)})
}

// Decide применяет approve или cancel к одной заявке
func (h *AdminHandler) Decide(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "invalid request id"}, http.StatusBadRequest, h.log)
		return
	}

	body, err := req.HandleBody[DecisionRequest](c.Writer, c.Request, h.log)
	if err != nil {
		return
	}

	decided, err := h.approvals.Decide(c.Request.Context(), h.adminID, id, domain.Decision(body.Decision))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Infow("Request decided through admin API", "request_id", id, "decision", body.Decision,
		"operator", c.GetString(string(middleware.ContextSubjectKey)))
	c.JSON(http.StatusOK, decided)
}

func (h *AdminHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyDecided):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	}
	res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: err.Error()}, status, h.log)
}
