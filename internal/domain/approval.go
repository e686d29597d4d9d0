package domain

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus статус заявки на платный тариф
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
)

// Decision ответ администратора на ожидающую заявку.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionCancel  Decision = "cancel"
)

// Status возвращает конечный статус, в который решение переводит заявку.
func (d Decision) Status() ApprovalStatus {
	if d == DecisionApprove {
		return ApprovalStatusApproved
	}
	return ApprovalStatusCancelled
}

// Valid сообщает, известно ли решение d.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionCancel
}

// ApprovalRequest заявка пользователя на платный тариф, ожидающая решения
// администратора
type ApprovalRequest struct {
	ID        uuid.UUID      `json:"id"`
	UserID    int64          `json:"user_id"`
	Username  string         `json:"username,omitempty"`
	FullName  string         `json:"full_name,omitempty"`
	PlanKey   string         `json:"plan_key"`
	Status    ApprovalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`

	// AdminMessageID сообщение с кнопками решения, чтобы отредактировать его после
	// решения.
	AdminMessageID int `json:"-"`
}

// Pending сообщает, ожидает ли заявка решения.
func (r ApprovalRequest) Pending() bool {
	return r.Status == ApprovalStatusPending
}

// Requester описывает пользователя заявки для отображения.
type Requester struct {
	UserID   int64
	Username string
	FullName string
}
