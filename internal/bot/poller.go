package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Dhoini/numgate/internal/integration/telegram"
	"github.com/Dhoini/numgate/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// UpdateHandler обрабатывает одно обновление
type UpdateHandler interface {
	Handle(ctx context.Context, update telegram.Update)
}

// Poller выполняет long polling getUpdates и передает обновления ограниченному
// пулу воркеров. Обновления одного отправителя выполняются по одному, в порядке
// получения.
type Poller struct {
	api         API
	handler     UpdateHandler
	workers     int
	pollTimeout time.Duration
	retryDelay  time.Duration
	log         *logger.Logger

	mu      sync.Mutex
	pending map[int64][]telegram.Update
}

// NewPoller создает poller, выполняющий не больше workers обработчиков
// одновременно
func NewPoller(api API, handler UpdateHandler, workers int, pollTimeout time.Duration, log *logger.Logger) *Poller {
	if workers <= 0 {
		workers = 8
	}
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	return &Poller{
		api:         api,
		handler:     handler,
		workers:     workers,
		pollTimeout: pollTimeout,
		retryDelay:  2 * time.Second,
		log:         log,
		pending:     make(map[int64][]telegram.Update),
	}
}

// Run опрашивает API до отмены ctx, затем дожидается текущих обработчиков
func (p *Poller) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	g.SetLimit(p.workers)

	p.log.Info("Polling for updates with %d workers", p.workers)

	offset := 0
	for ctx.Err() == nil {
		updates, err := p.api.GetUpdates(ctx, offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.log.Warnw("getUpdates failed", "error", err)
			select {
			case <-time.After(p.retryDelay):
			case <-ctx.Done():
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			p.enqueue(ctx, g, u)
		}
	}

	_ = g.Wait()
	p.log.Info("Update polling stopped")

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// enqueue добавляет u в очередь отправителя и запускает ее разбор, если он еще
// не идет
func (p *Poller) enqueue(ctx context.Context, g *errgroup.Group, u telegram.Update) {
	sender := u.SenderID()
	if sender == 0 {
		g.Go(func() error {
			p.handler.Handle(ctx, u)
			return nil
		})
		return
	}

	p.mu.Lock()
	queued, running := p.pending[sender]
	p.pending[sender] = append(queued, u)
	p.mu.Unlock()
	if running {
		return
	}

	g.Go(func() error {
		p.drain(ctx, sender)
		return nil
	})
}

func (p *Poller) drain(ctx context.Context, sender int64) {
	for {
		p.mu.Lock()
		queue := p.pending[sender]
		if len(queue) == 0 {
			delete(p.pending, sender)
			p.mu.Unlock()
			return
		}
		next := queue[0]
		p.pending[sender] = queue[1:]
		p.mu.Unlock()

		p.handler.Handle(ctx, next)
	}
}
