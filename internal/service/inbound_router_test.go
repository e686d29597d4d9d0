package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"testing"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/metrics"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteDeliversToOwner(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})
	ctx := context.Background()
	session := h.login(77)
	_, err := h.broker.Purchase(ctx, session, candidate)
	require.NoError(t, err)

	err = h.router.Route(ctx, domain.InboundMessage{To: "+1 415 555 0100", From: "+15550001", Body: "code 1234", OwnerHint: 77})
	require.NoError(t, err)

	got := h.notifier.To(77)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, "code 1234")
	assert.Contains(t, h.events.Types(), domain.EventInboundRouted)
}

func TestRouteDropsUnknownNumbers(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})
	ctx := context.Background()
	session := h.login(77)
	_, err := h.broker.Purchase(ctx, session, candidate)
	require.NoError(t, err)
	h.login(78)

	for i := 0; i < 200; i++ {
		to := fmt.Sprintf("+1%010d", rand.Int64N(10_000_000_000))
		if to == candidate {
			continue
		}
		err := h.router.Route(ctx, domain.InboundMessage{To: to, From: "+15550001", Body: "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}

	assert.Empty(t, h.notifier.To(77))
	assert.Empty(t, h.notifier.To(78))
}

func TestRouteDropsOnOwnerMismatch(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})
	ctx := context.Background()
	session := h.login(77)
	_, err := h.broker.Purchase(ctx, session, candidate)
	require.NoError(t, err)
	h.login(78)

	err = h.router.Route(ctx, domain.InboundMessage{To: candidate, From: "+15550001", Body: "x", OwnerHint: 78})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.notifier.To(77))
	assert.Empty(t, h.notifier.To(78))
}

func TestRouteDropsWhenOwnerLoggedOut(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})
	ctx := context.Background()
	session := h.login(77)
	_, err := h.broker.Purchase(ctx, session, candidate)
	require.NoError(t, err)
	require.NoError(t, h.balances.Logout(ctx, 77))

	err = h.router.Route(ctx, domain.InboundMessage{To: candidate, From: "+15550001", Body: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.notifier.To(77))
}

func TestRouteRequiresOwnerSignature(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})
	ctx := context.Background()
	session := h.login(77)
	_, err := h.broker.Purchase(ctx, session, candidate)
	require.NoError(t, err)

	const hookURL = "https://bot.example.com/webhooks/sms/77"
	verify := func(token, fullURL string, _ url.Values, signature string) bool {
		return signature == token+"@"+fullURL
	}
	router := NewInboundRouter(verify, h.resources, h.sessions, h.notifier, h.clock, h.events,
		metrics.NewNopProvisioningMetrics(), logger.NewNop())

	tests := []struct {
		name      string
		signature string
		wantErr   error
	}{
		{name: "unsigned", wantErr: domain.ErrUnauthorized},
		{name: "signed with another token", signature: "0000000000000000@" + hookURL, wantErr: domain.ErrUnauthorized},
		{name: "signed by owner", signature: testToken + "@" + hookURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := domain.InboundMessage{
				To:        candidate,
				From:      "+15550001",
				Body:      "code 1234",
				Signature: domain.CallbackSignature{Value: tt.signature, URL: hookURL},
			}
			err := router.Route(ctx, msg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	assert.Len(t, h.notifier.To(77), 1)
}
