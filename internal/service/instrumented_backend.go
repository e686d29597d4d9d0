package service

import (
	"context"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/metrics"
)

type instrumentedBackend struct {
	next    ProvisioningBackend
	metrics metrics.ProvisioningMetrics
}

// NewInstrumentedBackend фиксирует задержку и результат каждого вызова
// провайдера
func NewInstrumentedBackend(next ProvisioningBackend, m metrics.ProvisioningMetrics) ProvisioningBackend {
	return &instrumentedBackend{next: next, metrics: m}
}

func (b *instrumentedBackend) observe(op string, start time.Time, err *error) {
	outcome := metrics.OutcomeSuccess
	if *err != nil {
		outcome = metrics.OutcomeFailed
	}
	b.metrics.ObserveBackendCall(op, outcome, time.Since(start))
}

func (b *instrumentedBackend) FetchAccount(ctx context.Context, cred domain.Credential) (_ domain.AccountInfo, err error) {
	defer b.observe("fetch_account", time.Now(), &err)
	return b.next.FetchAccount(ctx, cred)
}

func (b *instrumentedBackend) FetchBalance(ctx context.Context, cred domain.Credential) (_ domain.Money, err error) {
	defer b.observe("fetch_balance", time.Now(), &err)
	return b.next.FetchBalance(ctx, cred)
}

func (b *instrumentedBackend) SearchAvailable(ctx context.Context, cred domain.Credential, country, areaCode string) (_ []domain.CandidateNumber, err error) {
	defer b.observe("search_available", time.Now(), &err)
	return b.next.SearchAvailable(ctx, cred, country, areaCode)
}

func (b *instrumentedBackend) Purchase(ctx context.Context, cred domain.Credential, order domain.PurchaseOrder) (_ domain.PurchasedNumber, err error) {
	defer b.observe("purchase", time.Now(), &err)
	return b.next.Purchase(ctx, cred, order)
}

func (b *instrumentedBackend) ListOwned(ctx context.Context, cred domain.Credential) (_ []domain.OwnedNumber, err error) {
	defer b.observe("list_owned", time.Now(), &err)
	return b.next.ListOwned(ctx, cred)
}

func (b *instrumentedBackend) Release(ctx context.Context, cred domain.Credential, sid string) (err error) {
	defer b.observe("release", time.Now(), &err)
	return b.next.Release(ctx, cred, sid)
}

func (b *instrumentedBackend) ListMessages(ctx context.Context, cred domain.Credential, to string) (_ []domain.Message, err error) {
	defer b.observe("list_messages", time.Now(), &err)
	return b.next.ListMessages(ctx, cred, to)
}
