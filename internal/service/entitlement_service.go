package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/metrics"
	"github.com/Dhoini/numgate/pkg/logger"
)

// EntitlementService управляет окнами доступа и правилом одного пробного
// периода
type EntitlementService interface {
	HasAccess(ctx context.Context, userID int64) bool
	Get(ctx context.Context, userID int64) (domain.Entitlement, error)
	GrantTrial(ctx context.Context, userID int64) (domain.Entitlement, error)
	GrantPaid(ctx context.Context, userID int64, plan domain.Plan) (domain.Entitlement, error)
	RevokeIfExpired(ctx context.Context, userID int64) (bool, error)
	Entitled(ctx context.Context) ([]domain.Entitlement, error)
	SetExpiryWatcher(w ExpiryWatcher)
}

type entitlementService struct {
	repo    EntitlementRepository
	catalog *domain.Catalog
	clock   Clock
	events  EventPublisher
	metrics metrics.ProvisioningMetrics
	log     *logger.Logger

	watcherMu sync.RWMutex
	watcher   ExpiryWatcher
}

// NewEntitlementService создает сервис доступа
func NewEntitlementService(
	repo EntitlementRepository,
	catalog *domain.Catalog,
	clock Clock,
	events EventPublisher,
	m metrics.ProvisioningMetrics,
	log *logger.Logger,
) EntitlementService {
	return &entitlementService{
		repo:    repo,
		catalog: catalog,
		clock:   clock,
		events:  events,
		metrics: m,
		log:     log,
	}
}

// SetExpiryWatcher регистрирует компонент, которому сообщается о каждом
// открытом окне
func (s *entitlementService) SetExpiryWatcher(w ExpiryWatcher) {
	s.watcherMu.Lock()
	s.watcher = w
	s.watcherMu.Unlock()
}

// HasAccess проверяет окно по текущему времени при каждом вызове
func (s *entitlementService) HasAccess(ctx context.Context, userID int64) bool {
	ent, err := s.repo.Get(ctx, userID)
	if err != nil {
		return false
	}
	return ent.ActiveAt(s.clock.Now())
}

func (s *entitlementService) Get(ctx context.Context, userID int64) (domain.Entitlement, error) {
	return s.repo.Get(ctx, userID)
}

// GrantTrial открывает пробное окно один раз на пользователя. Проверка
// использования и выдача идут под одной блокировкой пользователя.
func (s *entitlementService) GrantTrial(ctx context.Context, userID int64) (domain.Entitlement, error) {
	trial, ok := s.catalog.Trial()
	if !ok {
		return domain.Entitlement{}, domain.ErrPlanNotFound
	}

	ent, err := s.repo.Update(ctx, userID, func(e *domain.Entitlement) error {
		if e.TrialUsed {
			return domain.ErrAlreadyUsed
		}
		expires := s.clock.Now().Add(trial.Duration.Std())
		e.TrialUsed = true
		e.ExpiresAt = &expires
		e.PlanKey = trial.Key
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyUsed) {
			s.log.Infow("Trial rejected, already used", "user_id", userID)
			s.metrics.IncTrial(metrics.OutcomeRejected)
		} else {
			s.log.Errorw("Trial grant failed", "user_id", userID, "error", err)
			s.metrics.IncTrial(metrics.OutcomeFailed)
		}
		return domain.Entitlement{}, err
	}

	s.log.Infow("Trial granted", "user_id", userID, "expires_at", ent.ExpiresAt)
	s.metrics.IncTrial(metrics.OutcomeSuccess)
	s.opened(ctx, ent)

	return ent, nil
}

// GrantPaid выставляет окно now + длительность тарифа
func (s *entitlementService) GrantPaid(ctx context.Context, userID int64, plan domain.Plan) (domain.Entitlement, error) {
	ent, err := s.repo.Update(ctx, userID, func(e *domain.Entitlement) error {
		expires := s.clock.Now().Add(plan.Duration.Std())
		e.ExpiresAt = &expires
		e.PlanKey = plan.Key
		return nil
	})
	if err != nil {
		s.log.Errorw("Paid grant failed", "user_id", userID, "plan", plan.Key, "error", err)
		return domain.Entitlement{}, err
	}

	s.log.Infow("Paid plan granted", "user_id", userID, "plan", plan.Key, "expires_at", ent.ExpiresAt)
	s.opened(ctx, ent)

	return ent, nil
}

// RevokeIfExpired очищает истекшее окно и сообщает, было ли это сделано. Флаг
// пробного периода не трогается.
func (s *entitlementService) RevokeIfExpired(ctx context.Context, userID int64) (bool, error) {
	revoked := false
	_, err := s.repo.Update(ctx, userID, func(e *domain.Entitlement) error {
		if e.LapsedAt(s.clock.Now()) {
			e.ExpiresAt = nil
			revoked = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if revoked {
		s.log.Infow("Entitlement revoked", "user_id", userID)
		s.metrics.IncRevocation()
		publishEvent(ctx, s.events, s.clock, s.log, domain.Event{Type: domain.EventEntitlementRevoked, UserID: userID})
	}
	return revoked, nil
}

// Entitled перечисляет всех пользователей с выставленным окном, истекшим или
// нет
func (s *entitlementService) Entitled(ctx context.Context) ([]domain.Entitlement, error) {
	return s.repo.ListWithWindow(ctx)
}

func (s *entitlementService) opened(ctx context.Context, ent domain.Entitlement) {
	publishEvent(ctx, s.events, s.clock, s.log, domain.Event{
		Type:   domain.EventEntitlementGranted,
		UserID: ent.UserID,
		Attributes: map[string]string{
			"plan":       ent.PlanKey,
			"expires_at": ent.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})

	s.watcherMu.RLock()
	w := s.watcher
	s.watcherMu.RUnlock()
	if w != nil {
		w.Watch(ent.UserID, *ent.ExpiresAt)
	}
}
