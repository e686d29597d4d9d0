// Package app собирает бота, его сервисы и сетевые интерфейсы в один процесс.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	grpcapi "github.com/Dhoini/numgate/internal/api/grpc"
	"github.com/Dhoini/numgate/internal/api/rest"
	"github.com/Dhoini/numgate/internal/bot"
	"github.com/Dhoini/numgate/internal/config"
	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/integration/exchange"
	"github.com/Dhoini/numgate/internal/integration/telegram"
	"github.com/Dhoini/numgate/internal/integration/twilio"
	"github.com/Dhoini/numgate/internal/interceptors"
	"github.com/Dhoini/numgate/internal/kafka"
	"github.com/Dhoini/numgate/internal/metrics"
	"github.com/Dhoini/numgate/internal/middleware"
	"github.com/Dhoini/numgate/internal/repository"
	"github.com/Dhoini/numgate/internal/scheduler"
	"github.com/Dhoini/numgate/internal/service"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// App контейнер для всех долгоживущих компонентов
type App struct {
	cfg *config.Config
	log *logger.Logger

	registry      *prometheus.Registry
	systemMetrics metrics.SystemMetrics
	tasks         *scheduler.Registry
	sweeper       *service.Sweeper
	telegram      *telegram.Client
	dispatcher    *bot.Dispatcher
	poller        *bot.Poller
	httpServer    *rest.Server
	grpcServer    *grpcapi.Server
	producer      *kafka.EventProducer
	cache         *repository.RedisCacheRepository

	ready atomic.Bool
}

// New собирает приложение из cfg. Необязательная инфраструктура (Redis, Kafka,
// gRPC, admin API) создается только при наличии настроек.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	a.registry = prometheus.NewRegistry()
	a.systemMetrics = metrics.NewSystemMetrics(a.registry, log)
	provMetrics := metrics.NewProvisioningMetrics(a.registry, log)

	if cfg.KafkaEnabled() {
		if err := kafka.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, 3, log); err != nil {
			log.Warnw("Kafka topic check failed, continuing", "topic", cfg.Kafka.Topic, "error", err)
		}
		producer, err := kafka.NewEventProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		a.producer = producer
	}
	var events service.EventPublisher = service.NopPublisher()
	if a.producer != nil {
		events = a.producer
	}

	var rates service.RateProvider = exchange.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.Timeout, cfg.Provisioning.MaxRetries, log)
	if cfg.Redis.Enabled {
		cache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.RateTTL, log)
		if err != nil {
			// Конвертация работает и без кэша
			log.Warnw("Redis unavailable, exchange rates will not be cached", "addr", cfg.Redis.Addr, "error", err)
		} else {
			a.cache = cache
			rates = exchange.NewCachedSource(rates, cache, log)
		}
	}

	a.telegram = telegram.NewClient(telegram.Config{
		Token:         cfg.Telegram.Token,
		BaseURL:       cfg.Telegram.BaseURL,
		Timeout:       cfg.Telegram.PollTimeout + 10*time.Second,
		RatePerSecond: cfg.Telegram.RatePerSecond,
	}, log)
	notifier := bot.NewNotifier(a.telegram)

	backend := service.NewInstrumentedBackend(twilio.NewClient(twilio.Config{
		BaseURL:    cfg.Provisioning.BaseURL,
		Timeout:    cfg.Provisioning.Timeout,
		MaxRetries: cfg.Provisioning.MaxRetries,
	}, log), provMetrics)

	clock := service.SystemClock{}
	catalog := domain.DefaultCatalog()
	a.tasks = scheduler.NewRegistry(log)

	entitlements := service.NewEntitlementService(
		repository.NewInMemoryEntitlementRepository(log), catalog, clock, events, provMetrics, log)
	a.sweeper = service.NewSweeper(entitlements, notifier, a.tasks, clock, cfg.Entitlement.SweepInterval, log)
	entitlements.SetExpiryWatcher(a.sweeper)

	approvals := service.NewApprovalService(repository.NewInMemoryApprovalRepository(log), entitlements, catalog, notifier,
		clock, events, provMetrics, service.ApprovalConfig{
			AdminID:             cfg.Telegram.AdminChatID,
			PaymentInstructions: cfg.Entitlement.PaymentInstructions,
		}, log)

	sessions := repository.NewInMemorySessionRepository(log)
	resources := repository.NewInMemoryResourceRepository(log)
	balances := service.NewBalanceService(backend, rates, sessions, clock, provMetrics, cfg.Provisioning.ReferenceCurrency, log)
	broker := service.NewBrokerService(backend, balances, resources, clock, events, provMetrics, brokerConfig(cfg), log)
	inbound := service.NewInboundRouter(twilio.ValidSignature, resources, sessions, notifier, clock, events, provMetrics, log)

	a.dispatcher = bot.NewDispatcher(a.telegram, catalog, entitlements, approvals, balances, broker, a.tasks, bot.Config{
		AdminID:      cfg.Telegram.AdminChatID,
		EphemeralTTL: cfg.Entitlement.EphemeralTTL,
		NumberPrice:  cfg.Provisioning.NumberPrice,
		Currency:     cfg.Provisioning.ReferenceCurrency,
	}, log)
	a.poller = bot.NewPoller(a.telegram, a.dispatcher, cfg.App.Workers, cfg.Telegram.PollTimeout, log)

	deps := rest.RouterDeps{
		Registry:      a.registry,
		Inbound:       inbound,
		PublicBaseURL: cfg.App.PublicBaseURL,
		Approvals:     approvals,
		AdminID:       cfg.Telegram.AdminChatID,
		Ready:         a.ready.Load,
	}
	if cfg.Telegram.Mode == config.ModeWebhook {
		deps.Updates = a.dispatcher
		deps.WebhookSecret = cfg.Telegram.WebhookSecret
	}

	var validator middleware.TokenValidator
	if cfg.Auth.JWTSecret != "" {
		validator = &middleware.DefaultTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)}
		deps.Auth = middleware.NewJWTMiddleware(log, validator)
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	a.httpServer = rest.NewServer(rest.SetupRouter(deps, log), cfg.App.Port, log)

	if cfg.GRPC.Port != "" {
		var auth *interceptors.AuthInterceptor
		if validator != nil {
			auth = interceptors.NewAuthInterceptor(log, validator, grpcapi.PublicMethods, middleware.ScopeAdmin)
		}
		a.grpcServer = grpcapi.NewServer(cfg.GRPC.Port, auth, log)
	}

	log.Infow("Application assembled",
		"mode", cfg.Telegram.Mode,
		"admin", strconv.FormatInt(cfg.Telegram.AdminChatID, 10),
		"redis", a.cache != nil,
		"kafka", a.producer != nil,
		"grpc", a.grpcServer != nil,
		"admin_api", deps.Auth != nil,
	)
	return a, nil
}

func brokerConfig(cfg *config.Config) service.BrokerConfig {
	return service.BrokerConfig{
		Country:         cfg.Provisioning.Country,
		AreaCodes:       cfg.Provisioning.AreaCodes,
		SampleSize:      cfg.Provisioning.SearchSampleSize,
		NumberPrice:     cfg.Provisioning.NumberPrice,
		Currency:        cfg.Provisioning.ReferenceCurrency,
		ReleasePrevious: cfg.Provisioning.ReleasePrevious,
		PublicBaseURL:   cfg.App.PublicBaseURL,
	}
}

// Run работает до отмены ctx, затем останавливает все компоненты
func (a *App) Run(ctx context.Context) error {
	a.systemMetrics.StartRecording(15 * time.Second)
	a.sweeper.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.httpServer.Start)
	if a.grpcServer != nil {
		g.Go(a.grpcServer.Start)
	}

	switch a.cfg.Telegram.Mode {
	case config.ModeWebhook:
		url := a.cfg.App.PublicBaseURL + "/webhooks/telegram"
		if err := a.telegram.SetWebhook(ctx, url, a.cfg.Telegram.WebhookSecret); err != nil {
			a.shutdown()
			_ = g.Wait()
			return fmt.Errorf("set webhook: %w", err)
		}
		a.log.Infow("Receiving updates by webhook", "url", url)
	default:
		if err := a.telegram.DeleteWebhook(ctx); err != nil {
			a.log.Warnw("Failed to clear webhook before polling", "error", err)
		}
		g.Go(func() error { return a.poller.Run(gctx) })
	}

	a.markReady(true)

	// Серверы возвращаются только при ошибке, остальное останавливаем по
	// завершении ctx
	g.Go(func() error {
		<-gctx.Done()
		a.markReady(false)
		a.shutdown()
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) markReady(ready bool) {
	a.ready.Store(ready)
	if a.grpcServer != nil {
		a.grpcServer.SetServing(ready)
	}
}

func (a *App) shutdown() {
	grace := a.cfg.App.ShutdownGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Errorw("HTTP server shutdown failed", "error", err)
	}
	if a.grpcServer != nil {
		a.grpcServer.Stop()
	}
	a.sweeper.Stop()
	if err := a.tasks.Shutdown(ctx); err != nil {
		a.log.Warnw("Scheduled tasks did not finish", "error", err)
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	a.systemMetrics.Stop()

	a.log.Info("Application stopped")
}
