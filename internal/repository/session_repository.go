package repository

import (
	"context"
	"sync"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
)

// InMemorySessionRepository хранит сессии провайдера и флаг ожидания учетных
// данных для каждого пользователя
type InMemorySessionRepository struct {
	sessions map[int64]domain.ProvisioningSession
	awaiting map[int64]bool
	mutex    sync.RWMutex
	log      *logger.Logger
}

// NewInMemorySessionRepository создает пустой репозиторий сессий
func NewInMemorySessionRepository(log *logger.Logger) *InMemorySessionRepository {
	return &InMemorySessionRepository{
		sessions: make(map[int64]domain.ProvisioningSession),
		awaiting: make(map[int64]bool),
		log:      log,
	}
}

// Put заменяет сессию пользователя целиком
func (r *InMemorySessionRepository) Put(ctx context.Context, session domain.ProvisioningSession) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.sessions[session.UserID] = session
	delete(r.awaiting, session.UserID)

	return nil
}

// Get возвращает сессию пользователя
func (r *InMemorySessionRepository) Get(ctx context.Context, userID int64) (domain.ProvisioningSession, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	session, exists := r.sessions[userID]
	if !exists {
		return domain.ProvisioningSession{}, ErrNotFound
	}

	return session, nil
}

// Delete удаляет сессию пользователя
func (r *InMemorySessionRepository) Delete(ctx context.Context, userID int64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.sessions, userID)
	delete(r.awaiting, userID)
	return nil
}

// SetAwaitingCredential отмечает, является ли следующий текст пользователя
// учетными данными
func (r *InMemorySessionRepository) SetAwaitingCredential(ctx context.Context, userID int64, awaiting bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if awaiting {
		r.awaiting[userID] = true
		return
	}
	delete(r.awaiting, userID)
}

// AwaitingCredential возвращает флаг, выставленный SetAwaitingCredential
func (r *InMemorySessionRepository) AwaitingCredential(ctx context.Context, userID int64) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.awaiting[userID]
}
