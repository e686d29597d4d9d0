package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/google/uuid"
)

// InMemoryResourceRepository таблица маршрутизации купленных номеров. Номер
// свободен, зарезервирован одной текущей покупкой или принадлежит одному
// активному ресурсу; состояния переключаются под одной блокировкой.
type InMemoryResourceRepository struct {
	resources map[uuid.UUID]domain.Resource
	active    map[string]uuid.UUID
	claims    map[string]int64
	mutex     sync.RWMutex
	log       *logger.Logger
}

// NewInMemoryResourceRepository создает пустой репозиторий ресурсов
func NewInMemoryResourceRepository(log *logger.Logger) *InMemoryResourceRepository {
	return &InMemoryResourceRepository{
		resources: make(map[uuid.UUID]domain.Resource),
		active:    make(map[string]uuid.UUID),
		claims:    make(map[string]int64),
		log:       log,
	}
}

// NormalizeNumber оставляет только цифры и ведущий '+', чтобы "+1 (415)
// 555-0100" и "+14155550100" указывали на одну запись.
func NormalizeNumber(number string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(number) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Claim резервирует номер для текущей покупки owner. Возвращает
// ErrAlreadyTaken, если резерв держит другая покупка или номер уже принадлежит
// активному ресурсу.
func (r *InMemoryResourceRepository) Claim(ctx context.Context, number string, owner int64) error {
	key := NormalizeNumber(number)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, owned := r.active[key]; owned {
		return ErrAlreadyTaken
	}
	if _, claimed := r.claims[key]; claimed {
		return ErrAlreadyTaken
	}
	r.claims[key] = owner

	return nil
}

// ReleaseClaim снимает резерв после неудачной покупки
func (r *InMemoryResourceRepository) ReleaseClaim(ctx context.Context, number string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.claims, NormalizeNumber(number))
}

// Commit превращает резерв в активную запись ресурса
func (r *InMemoryResourceRepository) Commit(ctx context.Context, res domain.Resource) (domain.Resource, error) {
	key := NormalizeNumber(res.PhoneNumber)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, owned := r.active[key]; owned {
		return domain.Resource{}, ErrAlreadyTaken
	}
	if claimant, claimed := r.claims[key]; claimed && claimant != res.OwnerUserID {
		return domain.Resource{}, ErrAlreadyTaken
	}

	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if res.PurchasedAt.IsZero() {
		res.PurchasedAt = time.Now()
	}
	res.PhoneNumber = key

	r.resources[res.ID] = res
	r.active[key] = res.ID
	delete(r.claims, key)

	r.log.Debugw("Resource committed", "resource_id", res.ID, "owner", res.OwnerUserID, "number", key)
	return res, nil
}

// GetActiveByNumber возвращает активный ресурс, владеющий number
func (r *InMemoryResourceRepository) GetActiveByNumber(ctx context.Context, number string) (domain.Resource, error) {
	key := NormalizeNumber(number)

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, ok := r.active[key]
	if !ok {
		return domain.Resource{}, domain.NewNotFoundError("resource", key)
	}
	return r.resources[id], nil
}

// ListActiveByOwner возвращает активные ресурсы владельца, от старых к новым
func (r *InMemoryResourceRepository) ListActiveByOwner(ctx context.Context, owner int64) ([]domain.Resource, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]domain.Resource, 0)
	for _, id := range r.active {
		res := r.resources[id]
		if res.OwnerUserID == owner {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PurchasedAt.Before(out[j].PurchasedAt)
	})

	return out, nil
}

// MarkReleased останавливает маршрутизацию номера. Запись остается за исходным
// владельцем и никому не передается.
func (r *InMemoryResourceRepository) MarkReleased(ctx context.Context, number string, at time.Time) error {
	key := NormalizeNumber(number)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	id, ok := r.active[key]
	if !ok {
		return domain.NewNotFoundError("resource", key)
	}
	res := r.resources[id]
	res.ReleasedAt = &at
	r.resources[id] = res
	delete(r.active, key)

	return nil
}
