package twilio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cred = domain.Credential{AccountSID: "AC0123456789abcdef0123456789abcdef", AuthToken: "0123456789abcdef0123456789abcdef"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 2}, logger.NewNop())
}

func TestFetchAccountUsesBasicAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, cred.AccountSID, user)
		assert.Equal(t, cred.AuthToken, pass)
		assert.Equal(t, "/2010-04-01/Accounts/"+cred.AccountSID+".json", r.URL.Path)
		_, _ = w.Write([]byte(`{"sid":"` + cred.AccountSID + `","friendly_name":"Acme Ops","status":"active"}`))
	})

	info, err := c.FetchAccount(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "Acme Ops", info.FriendlyName)
	assert.Equal(t, "active", info.Status)
}

func TestFetchBalanceParsesAmount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/"+cred.AccountSID+"/Balance.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"account_sid":"x","balance":"12.50","currency":"eur"}`))
	})

	bal, err := c.FetchBalance(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, domain.Money{Amount: 12.5, Currency: "EUR"}, bal)
}

func TestReadsRetryServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":20503,"message":"Service unavailable","status":503}`))
			return
		}
		_, _ = w.Write([]byte(`{"balance":"1.00","currency":"USD"}`))
	})

	bal, err := c.FetchBalance(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, 1.0, bal.Amount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestReadsDoNotRetryAuthErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":20003,"message":"Authenticate","status":401}`))
	})

	_, err := c.FetchAccount(context.Background(), cred)
	var ext *domain.ExternalServiceError
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, "20003", ext.Code)
	assert.Equal(t, http.StatusUnauthorized, ext.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSearchAvailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/"+cred.AccountSID+"/AvailablePhoneNumbers/US/Local.json", r.URL.Path)
		assert.Equal(t, "415", r.URL.Query().Get("AreaCode"))
		_, _ = w.Write([]byte(`{"available_phone_numbers":[{"phone_number":"+14155550100","friendly_name":"(415) 555-0100","locality":"San Francisco","region":"CA"}]}`))
	})

	found, err := c.SearchAvailable(context.Background(), cred, "us", "415")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "+14155550100", found[0].PhoneNumber)
	assert.Equal(t, "415", found[0].AreaCode)
	assert.Equal(t, "CA", found[0].Region)
}

func TestSearchRejectsNonNumericAreaCode(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := c.SearchAvailable(context.Background(), cred, "US", "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestPurchaseSendsCallbacksOnce(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+14155550100", r.PostForm.Get("PhoneNumber"))
		assert.Equal(t, "https://bot.example.com/webhooks/sms/7", r.PostForm.Get("SmsUrl"))
		assert.Equal(t, "https://bot.example.com/webhooks/status/7", r.PostForm.Get("StatusCallback"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"PN123","phone_number":"+14155550100"}`))
	})

	got, err := c.Purchase(context.Background(), cred, domain.PurchaseOrder{
		PhoneNumber:       "+14155550100",
		SmsURL:            "https://bot.example.com/webhooks/sms/7",
		StatusCallbackURL: "https://bot.example.com/webhooks/status/7",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PurchasedNumber{SID: "PN123", PhoneNumber: "+14155550100"}, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPurchaseNeverRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Purchase(context.Background(), cred, domain.PurchaseOrder{PhoneNumber: "+14155550100"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrAlreadyTaken))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPurchaseUnavailableMapsToAlreadyTaken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21422,"message":"PhoneNumber requested is not available","status":400}`))
	})

	_, err := c.Purchase(context.Background(), cred, domain.PurchaseOrder{PhoneNumber: "+14155550100"})
	assert.ErrorIs(t, err, domain.ErrAlreadyTaken)
}

func TestListOwnedAndRelease(t *testing.T) {
	var deleted string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"incoming_phone_numbers":[{"sid":"PN1","phone_number":"+14155550100"}]}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		}
	})

	owned, err := c.ListOwned(context.Background(), cred)
	require.NoError(t, err)
	require.Len(t, owned, 1)

	require.NoError(t, c.Release(context.Background(), cred, owned[0].SID))
	assert.Equal(t, "/2010-04-01/Accounts/"+cred.AccountSID+"/IncomingPhoneNumbers/PN1.json", deleted)
}

func TestListMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "+14155550100", r.URL.Query().Get("To"))
		_, _ = w.Write([]byte(`{"messages":[{"from":"+15550001","to":"+14155550100","body":"code 1234","date_sent":"Sat, 01 Mar 2025 12:00:00 +0000"}]}`))
	})

	msgs, err := c.ListMessages(context.Background(), cred, "+14155550100")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "code 1234", msgs[0].Body)
	assert.Equal(t, 2025, msgs[0].DateSent.Year())
}

func TestReadsStopWhenContextCancelled(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchBalance(ctx, cred)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
