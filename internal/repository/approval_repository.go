package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/google/uuid"
)

// InMemoryApprovalRepository хранит заявки на платные тарифы в памяти
type InMemoryApprovalRepository struct {
	requests map[uuid.UUID]domain.ApprovalRequest
	mutex    sync.RWMutex
	log      *logger.Logger
}

// NewInMemoryApprovalRepository создает пустой репозиторий заявок
func NewInMemoryApprovalRepository(log *logger.Logger) *InMemoryApprovalRepository {
	return &InMemoryApprovalRepository{
		requests: make(map[uuid.UUID]domain.ApprovalRequest),
		log:      log,
	}
}

// Create сохраняет новую заявку
func (r *InMemoryApprovalRepository) Create(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalRequest, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	r.requests[req.ID] = req

	return req, nil
}

// GetByID возвращает заявку по id
func (r *InMemoryApprovalRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ApprovalRequest, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	req, exists := r.requests[id]
	if !exists {
		return domain.ApprovalRequest{}, domain.NewNotFoundError("approval request", id.String())
	}

	return req, nil
}

// Transition переводит ожидающую заявку в статус решения. Это защита
// идемпотентности протокола: успешен только первый вызов для id заявки, все
// последующие получают ErrAlreadyDecided вместе с сохраненной заявкой.
func (r *InMemoryApprovalRepository) Transition(ctx context.Context, id uuid.UUID, decision domain.Decision, at time.Time) (domain.ApprovalRequest, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	req, exists := r.requests[id]
	if !exists {
		return domain.ApprovalRequest{}, domain.NewNotFoundError("approval request", id.String())
	}
	if !req.Pending() {
		return req, ErrAlreadyDecided
	}

	req.Status = decision.Status()
	req.DecidedAt = &at
	r.requests[id] = req

	return req, nil
}

// SetAdminMessage запоминает сообщение администратора с кнопками решения
func (r *InMemoryApprovalRepository) SetAdminMessage(ctx context.Context, id uuid.UUID, messageID int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	req, exists := r.requests[id]
	if !exists {
		return domain.NewNotFoundError("approval request", id.String())
	}
	req.AdminMessageID = messageID
	r.requests[id] = req

	return nil
}

// LatestPending возвращает самую новую ожидающую заявку пользователя. Пустой
// planKey подходит под любой тариф.
func (r *InMemoryApprovalRepository) LatestPending(ctx context.Context, userID int64, planKey string) (domain.ApprovalRequest, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var (
		latest domain.ApprovalRequest
		found  bool
	)
	for _, req := range r.requests {
		if req.UserID != userID || !req.Pending() {
			continue
		}
		if planKey != "" && req.PlanKey != planKey {
			continue
		}
		if !found || req.CreatedAt.After(latest.CreatedAt) {
			latest = req
			found = true
		}
	}
	if !found {
		return domain.ApprovalRequest{}, ErrNotFound
	}

	return latest, nil
}

// ListPending возвращает все ожидающие заявки, от старых к новым
func (r *InMemoryApprovalRepository) ListPending(ctx context.Context) ([]domain.ApprovalRequest, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	pending := make([]domain.ApprovalRequest, 0)
	for _, req := range r.requests {
		if req.Pending() {
			pending = append(pending, req)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	return pending, nil
}
