package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/metrics"
	"github.com/Dhoini/numgate/internal/repository"
	"github.com/Dhoini/numgate/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxCandidates ограничивает один результат поиска
const DefaultMaxCandidates = 30

// BrokerService ищет, покупает и перечисляет номера на аккаунте пользователя
type BrokerService interface {
	Search(ctx context.Context, session domain.ProvisioningSession, areaCode string) ([]domain.CandidateNumber, error)
	Purchase(ctx context.Context, session domain.ProvisioningSession, number string) (domain.Resource, error)
	Owned(ctx context.Context, userID int64) ([]domain.Resource, error)
	RecentMessages(ctx context.Context, session domain.ProvisioningSession, number string) ([]domain.Message, error)
}

// BrokerConfig настройки поиска и покупки номеров
type BrokerConfig struct {
	Country         string
	AreaCodes       []string
	SampleSize      int
	MaxCandidates   int
	NumberPrice     float64
	Currency        string
	ReleasePrevious bool
	PublicBaseURL   string
}

type brokerService struct {
	backend   ProvisioningBackend
	balances  BalanceService
	resources ResourceRepository
	clock     Clock
	events    EventPublisher
	metrics   metrics.ProvisioningMetrics
	cfg       BrokerConfig
	log       *logger.Logger
}

// NewBrokerService создает брокер ресурсов
func NewBrokerService(
	backend ProvisioningBackend,
	balances BalanceService,
	resources ResourceRepository,
	clock Clock,
	events EventPublisher,
	m metrics.ProvisioningMetrics,
	cfg BrokerConfig,
	log *logger.Logger,
) BrokerService {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 5
	}
	if cfg.Country == "" {
		cfg.Country = "US"
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	return &brokerService{
		backend:   backend,
		balances:  balances,
		resources: resources,
		clock:     clock,
		events:    events,
		metrics:   m,
		cfg:       cfg,
		log:       log,
	}
}

// Search ищет по заданному коду области, а при пустом areaCode по случайной
// выборке поддерживаемых. Без настроенных кодов поиск идет по всей стране.
// Отсутствие номеров это пустой результат, а не ошибка.
func (s *brokerService) Search(ctx context.Context, session domain.ProvisioningSession, areaCode string) ([]domain.CandidateNumber, error) {
	if !session.Verified {
		return nil, domain.ErrSessionNotVerified
	}

	areaCode = strings.TrimSpace(areaCode)
	if areaCode != "" || len(s.cfg.AreaCodes) == 0 {
		found, err := s.backend.SearchAvailable(ctx, session.Credential, s.cfg.Country, areaCode)
		if err != nil {
			s.log.Errorw("Number search failed", "user_id", session.UserID, "area_code", areaCode, "error", err)
			return nil, fmt.Errorf("%w: %v", domain.ErrBackend, err)
		}
		return s.collect([][]domain.CandidateNumber{found}), nil
	}

	codes := s.sampleAreaCodes()
	results := make([][]domain.CandidateNumber, len(codes))

	var (
		mu       sync.Mutex
		failures int
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, code := range codes {
		g.Go(func() error {
			found, err := s.backend.SearchAvailable(gctx, session.Credential, s.cfg.Country, code)
			if err != nil {
				s.log.Warnw("Area code search failed", "area_code", code, "error", err)
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()

	if len(codes) > 0 && failures == len(codes) {
		return nil, fmt.Errorf("%w: every area code search failed", domain.ErrBackend)
	}

	out := s.collect(results)
	s.log.Debugw("Number search finished", "user_id", session.UserID, "area_codes", codes, "found", len(out))
	return out, nil
}

// Purchase покупает number для владельца сессии. Номер сначала резервируется,
// чтобы параллельные запросы получили ErrAlreadyTaken, а запись ресурса
// сохраняется до возврата успеха. Вызов покупки не повторяется.
func (s *brokerService) Purchase(ctx context.Context, session domain.ProvisioningSession, number string) (domain.Resource, error) {
	if !session.Verified {
		return domain.Resource{}, domain.ErrSessionNotVerified
	}
	number = repository.NormalizeNumber(number)
	if number == "" {
		return domain.Resource{}, domain.ErrInvalidInput
	}

	if err := s.resources.Claim(ctx, number, session.UserID); err != nil {
		s.log.Infow("Number already claimed", "user_id", session.UserID, "number", number)
		s.metrics.IncPurchase(metrics.OutcomeRejected)
		return domain.Resource{}, err
	}
	defer s.resources.ReleaseClaim(ctx, number)

	profile, err := s.balances.Balance(ctx, session)
	if err != nil {
		s.log.Errorw("Balance check before purchase failed", "user_id", session.UserID, "error", err)
		s.metrics.IncPurchase(metrics.OutcomeFailed)
		return domain.Resource{}, fmt.Errorf("%w: %v", domain.ErrBackend, err)
	}
	if profile.Balance.Amount < s.cfg.NumberPrice {
		s.log.Infow("Insufficient balance for purchase", "user_id", session.UserID,
			"balance", profile.Balance.Amount, "cost", s.cfg.NumberPrice)
		s.metrics.IncPurchase(metrics.OutcomeRejected)
		return domain.Resource{}, domain.ErrInsufficientBalance
	}

	if s.cfg.ReleasePrevious {
		s.releasePrevious(ctx, session)
	}

	bought, err := s.backend.Purchase(ctx, session.Credential, domain.PurchaseOrder{
		PhoneNumber:       number,
		SmsURL:            fmt.Sprintf("%s/webhooks/sms/%d", s.cfg.PublicBaseURL, session.UserID),
		StatusCallbackURL: fmt.Sprintf("%s/webhooks/status/%d", s.cfg.PublicBaseURL, session.UserID),
	})
	if err != nil {
		s.metrics.IncPurchase(metrics.OutcomeFailed)
		if errors.Is(err, domain.ErrAlreadyTaken) {
			s.log.Infow("Number no longer available", "user_id", session.UserID, "number", number)
			return domain.Resource{}, domain.ErrAlreadyTaken
		}
		s.log.Errorw("Number purchase failed", "user_id", session.UserID, "number", number, "error", err)
		return domain.Resource{}, fmt.Errorf("%w: %v", domain.ErrBackend, err)
	}

	purchased := bought.PhoneNumber
	if purchased == "" {
		purchased = number
	}
	res, err := s.resources.Commit(ctx, domain.Resource{
		OwnerUserID:    session.UserID,
		PhoneNumber:    purchased,
		BackendSID:     bought.SID,
		AccountSID:     session.Credential.AccountSID,
		CostAtPurchase: domain.Money{Amount: s.cfg.NumberPrice, Currency: s.cfg.Currency},
		PurchasedAt:    s.clock.Now(),
	})
	if err != nil {
		s.log.Errorw("Purchased number could not be recorded", "user_id", session.UserID, "number", purchased, "sid", bought.SID, "error", err)
		s.metrics.IncPurchase(metrics.OutcomeFailed)
		return domain.Resource{}, fmt.Errorf("%w: record purchase: %v", domain.ErrBackend, err)
	}

	s.log.Infow("Number purchased", "user_id", session.UserID, "number", res.PhoneNumber, "resource_id", res.ID)
	s.metrics.IncPurchase(metrics.OutcomeSuccess)
	s.metrics.ObservePurchaseCost(s.cfg.NumberPrice)
	publishEvent(ctx, s.events, s.clock, s.log, domain.Event{
		Type:   domain.EventResourcePurchased,
		UserID: session.UserID,
		Attributes: map[string]string{
			"resource_id":  res.ID.String(),
			"phone_number": res.PhoneNumber,
		},
	})

	return res, nil
}

func (s *brokerService) Owned(ctx context.Context, userID int64) ([]domain.Resource, error) {
	return s.resources.ListActiveByOwner(ctx, userID)
}

// RecentMessages возвращает сообщения на номер, принадлежащий владельцу сессии
func (s *brokerService) RecentMessages(ctx context.Context, session domain.ProvisioningSession, number string) ([]domain.Message, error) {
	if !session.Verified {
		return nil, domain.ErrSessionNotVerified
	}

	res, err := s.resources.GetActiveByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if res.OwnerUserID != session.UserID {
		return nil, domain.NewNotFoundError("resource", repository.NormalizeNumber(number))
	}

	msgs, err := s.backend.ListMessages(ctx, session.Credential, res.PhoneNumber)
	if err != nil {
		s.log.Errorw("Listing messages failed", "user_id", session.UserID, "number", res.PhoneNumber, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrBackend, err)
	}
	return msgs, nil
}

// releasePrevious освобождает все номера аккаунта. Ошибки пишутся в лог и не
// останавливают покупку.
func (s *brokerService) releasePrevious(ctx context.Context, session domain.ProvisioningSession) {
	owned, err := s.backend.ListOwned(ctx, session.Credential)
	if err != nil {
		s.log.Warnw("Listing owned numbers failed", "user_id", session.UserID, "error", err)
		return
	}
	for _, n := range owned {
		if err := s.backend.Release(ctx, session.Credential, n.SID); err != nil {
			s.log.Warnw("Releasing previous number failed", "user_id", session.UserID, "number", n.PhoneNumber, "error", err)
			continue
		}
		if err := s.resources.MarkReleased(ctx, n.PhoneNumber, s.clock.Now()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.log.Warnw("Failed to mark number released", "number", n.PhoneNumber, "error", err)
		}
		s.log.Infow("Previous number released", "user_id", session.UserID, "number", n.PhoneNumber)
	}
}

func (s *brokerService) sampleAreaCodes() []string {
	codes := append([]string(nil), s.cfg.AreaCodes...)
	rand.Shuffle(len(codes), func(i, j int) { codes[i], codes[j] = codes[j], codes[i] })
	if len(codes) > s.cfg.SampleSize {
		codes = codes[:s.cfg.SampleSize]
	}
	return codes
}

// collect объединяет результаты запросов, оставляя первое вхождение каждого
// номера, не больше лимита
func (s *brokerService) collect(batches [][]domain.CandidateNumber) []domain.CandidateNumber {
	seen := make(map[string]struct{})
	out := make([]domain.CandidateNumber, 0)
	for _, batch := range batches {
		for _, c := range batch {
			key := repository.NormalizeNumber(c.PhoneNumber)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			c.Cost = s.cfg.NumberPrice
			out = append(out, c)
			if len(out) == s.cfg.MaxCandidates {
				return out
			}
		}
	}
	return out
}
