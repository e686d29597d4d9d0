package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/metrics"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/go-playground/validator/v10"
)

// BalanceService проверяет учетные данные провайдера и показывает баланс в
// базовой валюте
type BalanceService interface {
	Login(ctx context.Context, userID int64, accountSID, authToken string) (domain.Profile, error)
	Balance(ctx context.Context, session domain.ProvisioningSession) (domain.Profile, error)
	Session(ctx context.Context, userID int64) (domain.ProvisioningSession, error)
	AwaitCredential(ctx context.Context, userID int64)
	AwaitingCredential(ctx context.Context, userID int64) bool
	Logout(ctx context.Context, userID int64) error
}

type balanceService struct {
	backend   ProvisioningBackend
	rates     RateProvider
	sessions  SessionRepository
	clock     Clock
	metrics   metrics.ProvisioningMetrics
	validate  *validator.Validate
	reference string
	log       *logger.Logger
}

// NewBalanceService создает сервис баланса. reference это ISO код, в который
// переводится любой баланс.
func NewBalanceService(
	backend ProvisioningBackend,
	rates RateProvider,
	sessions SessionRepository,
	clock Clock,
	m metrics.ProvisioningMetrics,
	reference string,
	log *logger.Logger,
) BalanceService {
	return &balanceService{
		backend:   backend,
		rates:     rates,
		sessions:  sessions,
		clock:     clock,
		metrics:   m,
		validate:  validator.New(),
		reference: strings.ToUpper(reference),
		log:       log,
	}
}

// Login проверяет учетные данные одним запросом аккаунта и одним запросом
// баланса. Любой сбой превращается в ErrInvalidCredential, причина только
// пишется в лог. При успехе сессия сохраняется проверенной и заменяет
// предыдущую.
func (s *balanceService) Login(ctx context.Context, userID int64, accountSID, authToken string) (domain.Profile, error) {
	cred := domain.Credential{
		AccountSID: strings.TrimSpace(accountSID),
		AuthToken:  strings.TrimSpace(authToken),
	}
	if err := s.validate.Struct(cred); err != nil {
		s.log.Infow("Credential rejected by validation", "user_id", userID, "error", err)
		s.metrics.IncLogin(metrics.OutcomeRejected)
		return domain.Profile{}, domain.ErrInvalidCredential
	}

	account, err := s.backend.FetchAccount(ctx, cred)
	if err != nil {
		return s.loginFailed(userID, "account", err)
	}

	profile, err := s.normalizedBalance(ctx, cred)
	if err != nil {
		return s.loginFailed(userID, "balance", err)
	}
	profile.DisplayName = account.FriendlyName

	session := domain.ProvisioningSession{
		UserID:      userID,
		Credential:  cred,
		DisplayName: account.FriendlyName,
		Verified:    true,
		VerifiedAt:  s.clock.Now(),
	}
	if err := s.sessions.Put(ctx, session); err != nil {
		return s.loginFailed(userID, "session", err)
	}

	s.log.Infow("Provisioning login verified", "user_id", userID, "account", account.FriendlyName,
		"balance", profile.Balance.Amount, "currency", profile.Balance.Currency)
	s.metrics.IncLogin(metrics.OutcomeSuccess)

	return profile, nil
}

// Balance заново получает приведенный баланс проверенной сессии
func (s *balanceService) Balance(ctx context.Context, session domain.ProvisioningSession) (domain.Profile, error) {
	if !session.Verified {
		return domain.Profile{}, domain.ErrSessionNotVerified
	}
	profile, err := s.normalizedBalance(ctx, session.Credential)
	if err != nil {
		return domain.Profile{}, err
	}
	profile.DisplayName = session.DisplayName
	return profile, nil
}

// Session возвращает проверенную сессию пользователя
func (s *balanceService) Session(ctx context.Context, userID int64) (domain.ProvisioningSession, error) {
	session, err := s.sessions.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ProvisioningSession{}, domain.ErrSessionNotVerified
		}
		return domain.ProvisioningSession{}, err
	}
	if !session.Verified {
		return domain.ProvisioningSession{}, domain.ErrSessionNotVerified
	}
	return session, nil
}

// AwaitCredential отмечает, что следующий текст пользователя это пара учетных
// данных
func (s *balanceService) AwaitCredential(ctx context.Context, userID int64) {
	s.sessions.SetAwaitingCredential(ctx, userID, true)
}

func (s *balanceService) AwaitingCredential(ctx context.Context, userID int64) bool {
	return s.sessions.AwaitingCredential(ctx, userID)
}

func (s *balanceService) Logout(ctx context.Context, userID int64) error {
	return s.sessions.Delete(ctx, userID)
}

// normalizedBalance переводит баланс аккаунта как reference = amount * rate,
// где rate число единиц reference за единицу исходной валюты.
func (s *balanceService) normalizedBalance(ctx context.Context, cred domain.Credential) (domain.Profile, error) {
	source, err := s.backend.FetchBalance(ctx, cred)
	if err != nil {
		return domain.Profile{}, err
	}
	source.Currency = strings.ToUpper(source.Currency)

	rate := 1.0
	if source.Currency != "" && source.Currency != s.reference {
		rate, err = s.rates.Rate(ctx, source.Currency, s.reference)
		if err != nil {
			return domain.Profile{}, fmt.Errorf("convert %s to %s: %w", source.Currency, s.reference, err)
		}
	}

	return domain.Profile{
		Balance: domain.Money{Amount: roundCents(source.Amount * rate), Currency: s.reference},
		Source:  source,
		Rate:    rate,
	}, nil
}

func (s *balanceService) loginFailed(userID int64, step string, err error) (domain.Profile, error) {
	s.log.Warnw("Provisioning login failed", "user_id", userID, "step", step, "error", err)
	s.metrics.IncLogin(metrics.OutcomeFailed)
	return domain.Profile{}, domain.ErrInvalidCredential
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
