package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/numgate/internal/scheduler"
	"github.com/Dhoini/numgate/pkg/logger"
)

const revocationNotice = "Your subscription has expired ⏰\nUse /start to choose a new plan."

// Sweeper отзывает истекшие окна и сообщает владельцам. Он только уведомляет:
// HasAccess корректен независимо от того, прошла ли очистка.
type Sweeper struct {
	entitlements EntitlementService
	notifier     Notifier
	tasks        *scheduler.Registry
	clock        Clock
	interval     time.Duration
	log          *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSweeper создает sweeper, работающий каждые interval
func NewSweeper(
	entitlements EntitlementService,
	notifier Notifier,
	tasks *scheduler.Registry,
	clock Clock,
	interval time.Duration,
	log *logger.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		entitlements: entitlements,
		notifier:     notifier,
		tasks:        tasks,
		clock:        clock,
		interval:     interval,
		log:          log,
		stopCh:       make(chan struct{}),
	}
}

// Start запускает периодическую очистку до Stop или завершения ctx
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.SweepOnce(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	s.log.Info("Expiry sweeper started with interval %s", s.interval)
}

// Stop завершает цикл и дожидается текущей очистки
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.log.Info("Expiry sweeper stopped")
}

// SweepOnce отзывает все истекшие окна и возвращает их число. Ошибка для одного
// пользователя не останавливает цикл.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	list, err := s.entitlements.Entitled(ctx)
	if err != nil {
		s.log.Errorw("Sweep could not list entitlements", "error", err)
		return 0
	}

	now := s.clock.Now()
	revoked := 0
	for _, ent := range list {
		if !ent.LapsedAt(now) {
			continue
		}
		if s.revokeAndNotify(ctx, ent.UserID) {
			revoked++
		}
	}

	s.log.Debugw("Sweep finished", "checked", len(list), "revoked", revoked)
	return revoked
}

// Watch планирует разовый отзыв в момент expiresAt. Новая выдача тому же
// пользователю заменяет ожидающую задачу.
func (s *Sweeper) Watch(userID int64, expiresAt time.Time) {
	delay := expiresAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.tasks.Schedule(expiryTaskKey(userID), delay, func(ctx context.Context) {
		s.revokeAndNotify(ctx, userID)
	})
}

func (s *Sweeper) revokeAndNotify(ctx context.Context, userID int64) (revoked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorw("Revocation panicked", "user_id", userID, "panic", rec)
		}
	}()

	revoked, err := s.entitlements.RevokeIfExpired(ctx, userID)
	if err != nil {
		s.log.Errorw("Revocation failed", "user_id", userID, "error", err)
		return false
	}
	if !revoked {
		return false
	}

	if _, err := s.notifier.Send(ctx, userID, revocationNotice); err != nil {
		s.log.Warnw("Failed to send revocation notice", "user_id", userID, "error", err)
	}
	return true
}

func expiryTaskKey(userID int64) string {
	return fmt.Sprintf("expiry:%d", userID)
}
