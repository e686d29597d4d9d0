package service

import (
	"context"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/google/uuid"
)

// Clock источник времени сервисов
type Clock interface {
	Now() time.Time
}

// SystemClock читает системные часы
type SystemClock struct{}

// Now возвращает time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// Button одна inline кнопка: видимый текст и нагрузка callback
type Button struct {
	Text string
	Data string
}

// Notifier доставляет сообщения чата пользователям и администратору
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
	SendWithButtons(ctx context.Context, chatID int64, text string, rows [][]Button) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// ProvisioningBackend удаленный API аккаунта связи
type ProvisioningBackend interface {
	FetchAccount(ctx context.Context, cred domain.Credential) (domain.AccountInfo, error)
	FetchBalance(ctx context.Context, cred domain.Credential) (domain.Money, error)
	SearchAvailable(ctx context.Context, cred domain.Credential, country, areaCode string) ([]domain.CandidateNumber, error)
	Purchase(ctx context.Context, cred domain.Credential, order domain.PurchaseOrder) (domain.PurchasedNumber, error)
	ListOwned(ctx context.Context, cred domain.Credential) ([]domain.OwnedNumber, error)
	Release(ctx context.Context, cred domain.Credential, sid string) error
	ListMessages(ctx context.Context, cred domain.Credential, to string) ([]domain.Message, error)
}

// RateProvider возвращает, сколько единиц `to` стоит одна единица `from`
type RateProvider interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// EventPublisher публикует доменные события в шину
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// ExpiryWatcher получает каждое открытое окно, чтобы среагировать на его
// закрытие
type ExpiryWatcher interface {
	Watch(userID int64, expiresAt time.Time)
}

// EntitlementRepository хранит окна доступа с атомарными изменениями на
// пользователя
type EntitlementRepository interface {
	Get(ctx context.Context, userID int64) (domain.Entitlement, error)
	Update(ctx context.Context, userID int64, fn func(e *domain.Entitlement) error) (domain.Entitlement, error)
	ListWithWindow(ctx context.Context) ([]domain.Entitlement, error)
}

// ApprovalRepository хранит заявки на платные тарифы
type ApprovalRepository interface {
	Create(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ApprovalRequest, error)
	Transition(ctx context.Context, id uuid.UUID, decision domain.Decision, at time.Time) (domain.ApprovalRequest, error)
	SetAdminMessage(ctx context.Context, id uuid.UUID, messageID int) error
	LatestPending(ctx context.Context, userID int64, planKey string) (domain.ApprovalRequest, error)
	ListPending(ctx context.Context) ([]domain.ApprovalRequest, error)
}

// SessionRepository хранит сессии провайдера
type SessionRepository interface {
	Put(ctx context.Context, session domain.ProvisioningSession) error
	Get(ctx context.Context, userID int64) (domain.ProvisioningSession, error)
	Delete(ctx context.Context, userID int64) error
	SetAwaitingCredential(ctx context.Context, userID int64, awaiting bool)
	AwaitingCredential(ctx context.Context, userID int64) bool
}

// ResourceRepository хранит купленные номера и резервы текущих покупок
type ResourceRepository interface {
	Claim(ctx context.Context, number string, owner int64) error
	ReleaseClaim(ctx context.Context, number string)
	Commit(ctx context.Context, res domain.Resource) (domain.Resource, error)
	GetActiveByNumber(ctx context.Context, number string) (domain.Resource, error)
	ListActiveByOwner(ctx context.Context, owner int64) ([]domain.Resource, error)
	MarkReleased(ctx context.Context, number string, at time.Time) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) error { return nil }

// NopPublisher отбрасывает все события
func NopPublisher() EventPublisher { return nopPublisher{} }

// publishEvent проставляет время и публикует событие. Ошибки публикации пишутся
// в лог и не ломают операцию, породившую событие.
func publishEvent(ctx context.Context, events EventPublisher, clock Clock, log *logger.Logger, event domain.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = clock.Now()
	}
	if err := events.Publish(ctx, event); err != nil {
		log.Warnw("Failed to publish event", "type", event.Type, "user_id", event.UserID, "error", err)
	}
}
