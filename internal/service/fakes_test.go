package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/internal/metrics"
	"github.com/Dhoini/numgate/internal/repository"
	"github.com/Dhoini/numgate/pkg/logger"
)

const (
	testAdminID = int64(1000)
	testSID     = "AC0123456789abcdef0123456789abcdef"
	testToken   = "0123456789abcdef0123456789abcdef"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	ChatID int64
	Text   string
	Rows   [][]Button
}

type editedMessage struct {
	ChatID    int64
	MessageID int
	Text      string
}

type fakeNotifier struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	edited  []editedMessage
	deleted []int
	failFor map[int64]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failFor: make(map[int64]bool)}
}

func (n *fakeNotifier) Send(ctx context.Context, chatID int64, text string) (int, error) {
	return n.SendWithButtons(ctx, chatID, text, nil)
}

func (n *fakeNotifier) SendWithButtons(_ context.Context, chatID int64, text string, rows [][]Button) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[chatID] {
		return 0, errors.New("chat unreachable")
	}
	n.nextID++
	n.sent = append(n.sent, sentMessage{ChatID: chatID, Text: text, Rows: rows})
	return n.nextID, nil
}

func (n *fakeNotifier) Edit(_ context.Context, chatID int64, messageID int, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edited = append(n.edited, editedMessage{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (n *fakeNotifier) Delete(_ context.Context, _ int64, messageID int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, messageID)
	return nil
}

func (n *fakeNotifier) To(chatID int64) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, m := range n.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (n *fakeNotifier) Edits() []editedMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]editedMessage(nil), n.edited...)
}

type fakeBackend struct {
	mu sync.Mutex

	account   domain.AccountInfo
	balance   domain.Money
	accErr    error
	balErr    error
	available map[string][]domain.CandidateNumber
	searchErr map[string]error
	owned     []domain.OwnedNumber
	messages  []domain.Message

	purchaseDelay time.Duration
	purchaseErr   error
	orders        []domain.PurchaseOrder
	released      []string
	accountCalls  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		account:   domain.AccountInfo{SID: testSID, FriendlyName: "Acme Ops", Status: "active"},
		balance:   domain.Money{Amount: 20, Currency: "USD"},
		available: make(map[string][]domain.CandidateNumber),
		searchErr: make(map[string]error),
	}
}

func (b *fakeBackend) FetchAccount(context.Context, domain.Credential) (domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accountCalls++
	return b.account, b.accErr
}

func (b *fakeBackend) FetchBalance(context.Context, domain.Credential) (domain.Money, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, b.balErr
}

func (b *fakeBackend) SearchAvailable(_ context.Context, _ domain.Credential, _ string, areaCode string) ([]domain.CandidateNumber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.searchErr[areaCode]; err != nil {
		return nil, err
	}
	return b.available[areaCode], nil
}

func (b *fakeBackend) Purchase(_ context.Context, _ domain.Credential, order domain.PurchaseOrder) (domain.PurchasedNumber, error) {
	if b.purchaseDelay > 0 {
		time.Sleep(b.purchaseDelay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, order)
	if b.purchaseErr != nil {
		return domain.PurchasedNumber{}, b.purchaseErr
	}
	return domain.PurchasedNumber{SID: "PN" + strings.TrimPrefix(order.PhoneNumber, "+"), PhoneNumber: order.PhoneNumber}, nil
}

func (b *fakeBackend) ListOwned(context.Context, domain.Credential) ([]domain.OwnedNumber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.OwnedNumber(nil), b.owned...), nil
}

func (b *fakeBackend) Release(_ context.Context, _ domain.Credential, sid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = append(b.released, sid)
	return nil
}

func (b *fakeBackend) ListMessages(context.Context, domain.Credential, string) ([]domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.messages, nil
}

func (b *fakeBackend) Orders() []domain.PurchaseOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.PurchaseOrder(nil), b.orders...)
}

type fakeRates struct {
	rates map[string]float64
	err   error
}

func (r fakeRates) Rate(_ context.Context, from, to string) (float64, error) {
	if r.err != nil {
		return 0, r.err
	}
	rate, ok := r.rates[from+to]
	if !ok {
		return 0, errors.New("no rate")
	}
	return rate, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// harness связывает все сервисы с репозиториями в памяти и фейками
type harness struct {
	clock        *fakeClock
	notifier     *fakeNotifier
	backend      *fakeBackend
	events       *recordingPublisher
	catalog      *domain.Catalog
	sessions     *repository.InMemorySessionRepository
	resources    *repository.InMemoryResourceRepository
	entitlements EntitlementService
	approvals    ApprovalService
	balances     BalanceService
	broker       BrokerService
	router       InboundRouter
}

func newHarness(brokerCfg BrokerConfig) *harness {
	log := logger.NewNop()
	m := metrics.NewNopProvisioningMetrics()

	h := &harness{
		clock:     newFakeClock(),
		notifier:  newFakeNotifier(),
		backend:   newFakeBackend(),
		events:    &recordingPublisher{},
		catalog:   domain.DefaultCatalog(),
		sessions:  repository.NewInMemorySessionRepository(log),
		resources: repository.NewInMemoryResourceRepository(log),
	}

	h.entitlements = NewEntitlementService(repository.NewInMemoryEntitlementRepository(log), h.catalog, h.clock, h.events, m, log)
	h.approvals = NewApprovalService(repository.NewInMemoryApprovalRepository(log), h.entitlements, h.catalog, h.notifier, h.clock, h.events, m,
		ApprovalConfig{AdminID: testAdminID, PaymentInstructions: "Send payment to wallet 0x1"}, log)
	h.balances = NewBalanceService(h.backend, fakeRates{rates: map[string]float64{"EURUSD": 1.1}}, h.sessions, h.clock, m, "USD", log)
	if brokerCfg.Currency == "" {
		brokerCfg.Currency = "USD"
	}
	if brokerCfg.PublicBaseURL == "" {
		brokerCfg.PublicBaseURL = "https://bot.example.com/"
	}
	h.broker = NewBrokerService(h.backend, h.balances, h.resources, h.clock, h.events, m, brokerCfg, log)
	h.router = NewInboundRouter(nil, h.resources, h.sessions, h.notifier, h.clock, h.events, m, log)

	return h
}

func (h *harness) login(userID int64) domain.ProvisioningSession {
	if _, err := h.balances.Login(context.Background(), userID, testSID, testToken); err != nil {
		panic(err)
	}
	s, err := h.balances.Session(context.Background(), userID)
	if err != nil {
		panic(err)
	}
	return s
}
