package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/metrics"
	"github.com/Dhoini/numgate/pkg/logger"
)

// InboundRouter доставляет сообщения на купленные номера их владельцам
type InboundRouter interface {
	Route(ctx context.Context, msg domain.InboundMessage) error
}

// SignatureVerifier проверяет подпись callback с auth token аккаунта,
// владеющего номером назначения
type SignatureVerifier func(authToken, fullURL string, form url.Values, signature string) bool

type inboundRouter struct {
	verify    SignatureVerifier
	resources ResourceRepository
	sessions  SessionRepository
	notifier  Notifier
	clock     Clock
	events    EventPublisher
	metrics   metrics.ProvisioningMetrics
	log       *logger.Logger
}

// NewInboundRouter создает маршрутизатор входящих событий. При nil verify
// неподписанные callback принимаются.
func NewInboundRouter(
	verify SignatureVerifier,
	resources ResourceRepository,
	sessions SessionRepository,
	notifier Notifier,
	clock Clock,
	events EventPublisher,
	m metrics.ProvisioningMetrics,
	log *logger.Logger,
) InboundRouter {
	return &inboundRouter{
		verify:    verify,
		resources: resources,
		sessions:  sessions,
		notifier:  notifier,
		clock:     clock,
		events:    events,
		metrics:   m,
		log:       log,
	}
}

// Route ищет владельца только по номеру назначения. Неизвестный номер,
// подсказка владельца, не совпадающая с записанным, или владелец без
// проверенной сессии отбрасывают сообщение с ErrNotFound. Callback, не
// подписанный токеном владельца, завершается ErrUnauthorized.
func (r *inboundRouter) Route(ctx context.Context, msg domain.InboundMessage) error {
	res, err := r.resources.GetActiveByNumber(ctx, msg.To)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.drop("unknown number", msg)
		}
		r.log.Errorw("Inbound lookup failed", "to", msg.To, "error", err)
		r.metrics.IncInbound(metrics.OutcomeFailed)
		return err
	}
	if msg.OwnerHint != 0 && msg.OwnerHint != res.OwnerUserID {
		return r.drop("owner mismatch", msg)
	}

	session, err := r.sessions.Get(ctx, res.OwnerUserID)
	if err != nil || !session.Verified {
		return r.drop("owner session not verified", msg)
	}
	if r.verify != nil && !r.verify(session.Credential.AuthToken, msg.Signature.URL, msg.Signature.Form, msg.Signature.Value) {
		r.log.Warnw("Inbound message signature rejected", "to", msg.To, "from", msg.From, "url", msg.Signature.URL)
		r.metrics.IncInbound(metrics.OutcomeRejected)
		return fmt.Errorf("bad callback signature: %w", domain.ErrUnauthorized)
	}

	if _, err := r.notifier.Send(ctx, res.OwnerUserID, formatInbound(msg)); err != nil {
		r.log.Errorw("Failed to forward inbound message", "owner", res.OwnerUserID, "to", res.PhoneNumber, "error", err)
		r.metrics.IncInbound(metrics.OutcomeFailed)
		return err
	}

	r.log.Infow("Inbound message routed", "owner", res.OwnerUserID, "to", res.PhoneNumber)
	r.metrics.IncInbound(metrics.OutcomeSuccess)
	publishEvent(ctx, r.events, r.clock, r.log, domain.Event{
		Type:       domain.EventInboundRouted,
		UserID:     res.OwnerUserID,
		Attributes: map[string]string{"to": res.PhoneNumber},
	})

	return nil
}

func (r *inboundRouter) drop(reason string, msg domain.InboundMessage) error {
	r.log.Warnw("Inbound message dropped", "reason", reason, "to", msg.To, "from", msg.From, "owner_hint", msg.OwnerHint)
	r.metrics.IncInbound(metrics.OutcomeDropped)
	return fmt.Errorf("%s: %w", reason, domain.ErrNotFound)
}

func formatInbound(msg domain.InboundMessage) string {
	return fmt.Sprintf("📩 New SMS\n\nTo: %s\nFrom: %s\n\n%s", msg.To, msg.From, msg.Body)
}
