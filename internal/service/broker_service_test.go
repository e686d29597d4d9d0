package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const candidate = "+14155550100"

func TestPurchaseCommitsResourceBeforeReturning(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})
	ctx := context.Background()
	session := h.login(77)

	res, err := h.broker.Purchase(ctx, session, "+1 (415) 555-0100")
	require.NoError(t, err)
	assert.Equal(t, int64(77), res.OwnerUserID)
	assert.Equal(t, candidate, res.PhoneNumber)
	assert.Equal(t, testSID, res.AccountSID)
	assert.Equal(t, domain.Money{Amount: 1, Currency: "USD"}, res.CostAtPurchase)

	stored, err := h.resources.GetActiveByNumber(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, res.ID, stored.ID)

	orders := h.backend.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "https://bot.example.com/webhooks/sms/77", orders[0].SmsURL)
	assert.Equal(t, "https://bot.example.com/webhooks/status/77", orders[0].StatusCallbackURL)

	owned, err := h.broker.Owned(ctx, 77)
	require.NoError(t, err)
	assert.Len(t, owned, 1)
	assert.Contains(t, h.events.Types(), domain.EventResourcePurchased)
}

func TestPurchaseInsufficientBalance(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})
	ctx := context.Background()
	session := h.login(77)
	h.backend.balance = domain.Money{Amount: 0.5, Currency: "USD"}

	_, err := h.broker.Purchase(ctx, session, candidate)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.resources.GetActiveByNumber(ctx, candidate)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.backend.Orders())

	// Резерв снят, номер можно пробовать снова.
	require.NoError(t, h.resources.Claim(ctx, candidate, 78))
}

func TestConcurrentPurchaseCreatesOneResource(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})
	h.backend.purchaseDelay = 20 * time.Millisecond
	ctx := context.Background()
	sessions := []domain.ProvisioningSession{h.login(1), h.login(2)}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []domain.Resource
		errs []error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.broker.Purchase(ctx, s, candidate)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			wins = append(wins, res)
		}()
	}
	wg.Wait()

	require.Len(t, wins, 1)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], domain.ErrAlreadyTaken) || errors.Is(errs[0], domain.ErrBackend))
	assert.Len(t, h.backend.Orders(), 1)

	stored, err := h.resources.GetActiveByNumber(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, wins[0].OwnerUserID, stored.OwnerUserID)
}

func TestPurchaseMapsBackendErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "not available", err: domain.NewExternalServiceError("twilio", "21422", "not available", 400, domain.ErrAlreadyTaken), want: domain.ErrAlreadyTaken},
		{name: "other failure", err: domain.NewExternalServiceError("twilio", "20500", "internal", 500, nil), want: domain.ErrBackend},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(BrokerConfig{NumberPrice: 1})
			ctx := context.Background()
			session := h.login(77)
			h.backend.purchaseErr = tc.err

			_, err := h.broker.Purchase(ctx, session, candidate)
			assert.ErrorIs(t, err, tc.want)

			_, err = h.resources.GetActiveByNumber(ctx, candidate)
			assert.ErrorIs(t, err, domain.ErrNotFound)
			assert.NoError(t, h.resources.Claim(ctx, candidate, 77))
		})
	}
}

func TestPurchaseReleasesPreviousNumbersWhenEnabled(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1, ReleasePrevious: true})
	ctx := context.Background()
	session := h.login(77)

	first, err := h.broker.Purchase(ctx, session, "+14155550111")
	require.NoError(t, err)
	h.backend.owned = []domain.OwnedNumber{{SID: first.BackendSID, PhoneNumber: first.PhoneNumber}}

	_, err = h.broker.Purchase(ctx, session, candidate)
	require.NoError(t, err)

	assert.Equal(t, []string{first.BackendSID}, h.backend.released)
	owned, err := h.broker.Owned(ctx, 77)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, candidate, owned[0].PhoneNumber)
}

func TestPurchaseRequiresVerifiedSession(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})

	_, err := h.broker.Purchase(context.Background(), domain.ProvisioningSession{UserID: 1}, candidate)
	assert.ErrorIs(t, err, domain.ErrSessionNotVerified)

	_, err = h.broker.Search(context.Background(), domain.ProvisioningSession{UserID: 1}, "")
	assert.ErrorIs(t, err, domain.ErrSessionNotVerified)
}

func TestSearchSingleAreaCode(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1.15, AreaCodes: []string{"415", "212"}})
	session := h.login(77)
	h.backend.available["415"] = []domain.CandidateNumber{{PhoneNumber: candidate}, {PhoneNumber: "+1 415 555 0100"}}
	h.backend.available["212"] = []domain.CandidateNumber{{PhoneNumber: "+12125550100"}}

	found, err := h.broker.Search(context.Background(), session, "415")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 1.15, found[0].Cost)
}

func TestSearchSampleIsCappedAndDistinct(t *testing.T) {
	codes := []string{"201", "202", "203", "204", "205", "206", "207"}
	h := newHarness(BrokerConfig{NumberPrice: 1, AreaCodes: codes, SampleSize: 5})
	session := h.login(77)
	for _, code := range codes {
		for i := 0; i < 10; i++ {
			h.backend.available[code] = append(h.backend.available[code], domain.CandidateNumber{PhoneNumber: fmt.Sprintf("+1%s55501%02d", code, i)})
		}
		// Общий дубликат во всех кодах области
		h.backend.available[code] = append(h.backend.available[code], domain.CandidateNumber{PhoneNumber: "+18005550000"})
	}

	found, err := h.broker.Search(context.Background(), session, "")
	require.NoError(t, err)
	assert.Len(t, found, DefaultMaxCandidates)

	seen := make(map[string]bool)
	for _, c := range found {
		assert.False(t, seen[c.PhoneNumber], "duplicate %s", c.PhoneNumber)
		seen[c.PhoneNumber] = true
	}
}

func TestSearchWithoutAreaCodesIsCountryWide(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})
	session := h.login(77)
	h.backend.available[""] = []domain.CandidateNumber{{PhoneNumber: "+12125550100"}, {PhoneNumber: candidate}}

	found, err := h.broker.Search(context.Background(), session, "")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestSearchEmptyIsNotAnError(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1, AreaCodes: []string{"201", "202"}})
	session := h.login(77)
	h.backend.searchErr["202"] = errors.New("503")

	found, err := h.broker.Search(context.Background(), session, "")
	require.NoError(t, err)
	assert.Empty(t, found)

	h.backend.searchErr["201"] = errors.New("503")
	_, err = h.broker.Search(context.Background(), session, "")
	assert.ErrorIs(t, err, domain.ErrBackend)

	_, err = h.broker.Search(context.Background(), session, "202")
	assert.ErrorIs(t, err, domain.ErrBackend)
}

func TestRecentMessagesOnlyForOwnedNumbers(t *testing.T) {
	h := newHarness(BrokerConfig{NumberPrice: 1})
	ctx := context.Background()
	owner := h.login(77)
	other := h.login(78)
	h.backend.messages = []domain.Message{{From: "+15550001", To: candidate, Body: "code 1234"}}

	_, err := h.broker.Purchase(ctx, owner, candidate)
	require.NoError(t, err)

	msgs, err := h.broker.RecentMessages(ctx, owner, candidate)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = h.broker.RecentMessages(ctx, other, candidate)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
