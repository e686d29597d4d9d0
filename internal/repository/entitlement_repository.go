package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
)

// InMemoryEntitlementRepository хранит доступы в памяти. У каждого пользователя
// своя блокировка, изменения одного пользователя не ждут другого.
type InMemoryEntitlementRepository struct {
	mutex   sync.RWMutex
	records map[int64]*entitlementRecord
	log     *logger.Logger
}

type entitlementRecord struct {
	mu      sync.Mutex
	ent     domain.Entitlement
	created bool
}

// NewInMemoryEntitlementRepository создает пустой репозиторий доступов
func NewInMemoryEntitlementRepository(log *logger.Logger) *InMemoryEntitlementRepository {
	return &InMemoryEntitlementRepository{
		records: make(map[int64]*entitlementRecord),
		log:     log,
	}
}

func (r *InMemoryEntitlementRepository) record(userID int64) *entitlementRecord {
	r.mutex.RLock()
	rec, ok := r.records[userID]
	r.mutex.RUnlock()
	if ok {
		return rec
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if rec, ok = r.records[userID]; ok {
		return rec
	}
	rec = &entitlementRecord{ent: domain.Entitlement{UserID: userID}}
	r.records[userID] = rec
	return rec
}

// Get возвращает доступ пользователя или ErrNotFound, если он не создавался
func (r *InMemoryEntitlementRepository) Get(ctx context.Context, userID int64) (domain.Entitlement, error) {
	r.mutex.RLock()
	rec, ok := r.records[userID]
	r.mutex.RUnlock()
	if !ok {
		return domain.Entitlement{}, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.created {
		return domain.Entitlement{}, ErrNotFound
	}
	return copyEntitlement(rec.ent), nil
}

// Update выполняет fn над доступом пользователя под его блокировкой. fn
// работает с копией, копия сохраняется только если fn вернула nil, поэтому
// проверка с записью внутри fn атомарна относительно других изменений того же
// пользователя.
func (r *InMemoryEntitlementRepository) Update(ctx context.Context, userID int64, fn func(e *domain.Entitlement) error) (domain.Entitlement, error) {
	rec := r.record(userID)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	next := copyEntitlement(rec.ent)
	if err := fn(&next); err != nil {
		return copyEntitlement(rec.ent), err
	}

	next.UserID = userID
	next.UpdatedAt = time.Now()
	rec.ent = next
	rec.created = true

	return copyEntitlement(next), nil
}

// ListWithWindow возвращает все доступы с выставленным сроком
func (r *InMemoryEntitlementRepository) ListWithWindow(ctx context.Context) ([]domain.Entitlement, error) {
	r.mutex.RLock()
	recs := make([]*entitlementRecord, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mutex.RUnlock()

	out := make([]domain.Entitlement, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.created && rec.ent.ExpiresAt != nil {
			out = append(out, copyEntitlement(rec.ent))
		}
		rec.mu.Unlock()
	}

	return out, nil
}

func copyEntitlement(e domain.Entitlement) domain.Entitlement {
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		e.ExpiresAt = &t
	}
	return e
}
