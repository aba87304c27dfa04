package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/essaymarket/internal/model"
	"github.com/mmeshcher/essaymarket/internal/notify"
	"github.com/mmeshcher/essaymarket/internal/paypal"
	"github.com/mmeshcher/essaymarket/internal/repository"
	"github.com/mmeshcher/essaymarket/internal/settings"
)

// memRepo повторяет семантику PostgresRepository в памяти.
type memRepo struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]model.Profile
	orders   map[uuid.UUID]model.Order
	wallets  map[uuid.UUID]model.Wallet
	txs      map[uuid.UUID]model.WalletTransaction
	seq      time.Time

	createOrderErrs []error
}

func newMemRepo() *memRepo {
	return &memRepo{
		profiles: make(map[uuid.UUID]model.Profile),
		orders:   make(map[uuid.UUID]model.Order),
		wallets:  make(map[uuid.UUID]model.Wallet),
		txs:      make(map[uuid.UUID]model.WalletTransaction),
		seq:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memRepo) tick() time.Time {
	m.seq = m.seq.Add(time.Second)
	return m.seq
}

func (m *memRepo) addProfile(role model.Role) *model.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := model.Profile{ID: uuid.New(), Email: string(role) + "@example.com", Role: role}
	m.profiles[p.ID] = p
	return &p
}

func (m *memRepo) GetProfile(_ context.Context, id uuid.UUID) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	return &p, nil
}

func (m *memRepo) CreateOrder(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createOrderErrs) > 0 {
		err := m.createOrderErrs[0]
		m.createOrderErrs = m.createOrderErrs[1:]
		if err != nil {
			return err
		}
	}
	o.CreatedAt = m.tick()
	o.UpdatedAt = o.CreatedAt
	m.orders[o.ID] = *o
	return nil
}

func (m *memRepo) GetOrder(_ context.Context, id uuid.UUID) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (m *memRepo) ListOrders(_ context.Context, f repository.OrderFilter) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Order
	for _, o := range m.orders {
		if f.ClientID != nil && o.ClientID != *f.ClientID {
			continue
		}
		if f.WriterID != nil {
			mine := o.WriterID != nil && *o.WriterID == *f.WriterID
			free := f.IncludeAvailable && o.WriterID == nil && o.Status == model.OrderStatusAvailable
			if !mine && !free {
				continue
			}
		}
		res = append(res, o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *memRepo) ClaimOrder(_ context.Context, orderID, writerID uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if o.WriterID != nil || o.Status != model.OrderStatusAvailable {
		return nil, repository.ErrOrderAlreadyClaimed
	}
	o.WriterID = &writerID
	o.Status = status
	m.orders[orderID] = o
	return &o, nil
}

func (m *memRepo) ReleaseOrder(_ context.Context, orderID, writerID uuid.UUID) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if o.WriterID == nil || *o.WriterID != writerID {
		return nil, repository.ErrOrderNotAssigned
	}
	o.WriterID = nil
	o.Status = model.OrderStatusAvailable
	m.orders[orderID] = o
	return &o, nil
}

func (m *memRepo) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, from, to model.OrderStatus) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if o.Status != from {
		return nil, repository.ErrOrderStatusChanged
	}
	o.Status = to
	m.orders[orderID] = o
	return &o, nil
}

func (m *memRepo) AdminUpdateOrder(_ context.Context, orderID uuid.UUID, status model.OrderStatus, writerID *uuid.UUID) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	o.Status = status
	o.WriterID = writerID
	m.orders[orderID] = o
	return &o, nil
}

func (m *memRepo) PayOrder(_ context.Context, orderID, walletID uuid.UUID) (*model.Order, *model.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, nil, repository.ErrOrderNotFound
	}
	if o.Status != model.OrderStatusAwaitingPayment {
		return nil, nil, repository.ErrOrderStatusChanged
	}
	t := &model.WalletTransaction{
		WalletID: walletID,
		Amount:   o.FinalPrice.Neg(),
		Type:     model.TransactionPayment,
		Status:   model.TransactionCompleted,
		OrderID:  &o.ID,
	}
	if err := m.apply(t); err != nil {
		return nil, nil, err
	}
	o.Status = model.OrderStatusAvailable
	m.orders[orderID] = o
	return &o, t, nil
}

func (m *memRepo) GetOrCreateWallet(_ context.Context, userID uuid.UUID, currency string) (*model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.UserID == userID {
			return &w, nil
		}
	}
	w := model.Wallet{ID: uuid.New(), UserID: userID, Balance: decimal.Zero, Currency: currency}
	m.wallets[w.ID] = w
	return &w, nil
}

func (m *memRepo) GetWallet(_ context.Context, id uuid.UUID) (*model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, repository.ErrWalletNotFound
	}
	return &w, nil
}

func (m *memRepo) balance(walletID uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[walletID].Balance
}

func (m *memRepo) ledger(walletID uuid.UUID) []model.WalletTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.WalletTransaction
	for _, t := range m.txs {
		if t.WalletID == walletID {
			res = append(res, t)
		}
	}
	return res
}

func (m *memRepo) ListTransactions(_ context.Context, walletID uuid.UUID) ([]model.WalletTransaction, error) {
	res := m.ledger(walletID)
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *memRepo) GetTransaction(_ context.Context, id uuid.UUID) (*model.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	return &t, nil
}

func (m *memRepo) FindTransactionByGatewayRef(_ context.Context, ref string, typ model.TransactionType) (*model.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if ref != "" && t.GatewayRef == ref && t.Type == typ {
			return &t, nil
		}
	}
	return nil, repository.ErrTransactionNotFound
}

func (m *memRepo) RecordTransaction(_ context.Context, t *model.WalletTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(t)
}

func (m *memRepo) apply(t *model.WalletTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	w, ok := m.wallets[t.WalletID]
	if !ok {
		return repository.ErrWalletNotFound
	}
	if t.Counted() {
		next := w.Balance.Add(t.Amount)
		if next.IsNegative() {
			return repository.ErrInsufficientBalance
		}
		w.Balance = next
		m.wallets[w.ID] = w
	}
	t.CreatedAt = m.tick()
	t.UpdatedAt = t.CreatedAt
	m.txs[t.ID] = *t
	return nil
}

func (m *memRepo) SetGatewayRef(_ context.Context, id uuid.UUID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	t.GatewayRef = ref
	m.txs[id] = t
	return nil
}

func (m *memRepo) CompleteTransaction(_ context.Context, id uuid.UUID) (*model.WalletTransaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return nil, false, repository.ErrTransactionNotFound
	}
	if t.Status != model.TransactionPending {
		return &t, false, nil
	}
	if !t.Amount.IsNegative() {
		w := m.wallets[t.WalletID]
		w.Balance = w.Balance.Add(t.Amount)
		m.wallets[w.ID] = w
	}
	t.Status = model.TransactionCompleted
	m.txs[id] = t
	return &t, true, nil
}

func (m *memRepo) FailTransaction(_ context.Context, id uuid.UUID, reason string) (*model.WalletTransaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return nil, false, repository.ErrTransactionNotFound
	}
	if t.Status != model.TransactionPending {
		return nil, false, nil
	}
	t.Status = model.TransactionFailed
	m.txs[id] = t
	if !t.Amount.IsNegative() {
		return nil, true, nil
	}
	refund := &model.WalletTransaction{
		WalletID:    t.WalletID,
		Amount:      t.Amount.Neg(),
		Type:        model.TransactionRefund,
		Status:      model.TransactionCompleted,
		GatewayRef:  t.GatewayRef,
		Description: reason,
	}
	if err := m.apply(refund); err != nil {
		return nil, false, err
	}
	return refund, true, nil
}

type staticSettings struct {
	s settings.Settings
}

func (st *staticSettings) Get(context.Context) settings.Settings { return st.s }

func (st *staticSettings) Set(_ context.Context, key string, value any) error {
	raw, _ := value.(json.RawMessage)
	if key == settings.KeyMaintenanceMode {
		st.s.MaintenanceMode = string(raw) == "true"
	}
	return nil
}

type fakeGateway struct {
	mu sync.Mutex

	createOrderID string
	createErr     error
	captureStatus string
	captureErr    error
	captureCalls  int
	payoutBatchID string
	payoutErr     error
	payoutStatus  string
	verified      bool
	verifyErr     error

	lastPayout paypal.PayoutRequest
}

func (g *fakeGateway) CreateOrder(_ context.Context, r paypal.CreateOrderRequest) (*paypal.Order, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &paypal.Order{ID: g.createOrderID, Status: "CREATED"}, nil
}

func (g *fakeGateway) CaptureOrder(_ context.Context, orderID string) (*paypal.Order, error) {
	g.mu.Lock()
	g.captureCalls++
	g.mu.Unlock()
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return &paypal.Order{ID: orderID, Status: g.captureStatus}, nil
}

func (g *fakeGateway) CreatePayout(_ context.Context, r paypal.PayoutRequest) (*paypal.PayoutBatch, error) {
	g.lastPayout = r
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	return &paypal.PayoutBatch{BatchHeader: paypal.BatchHeader{PayoutBatchID: g.payoutBatchID, BatchStatus: "PENDING"}}, nil
}

func (g *fakeGateway) GetPayoutBatch(_ context.Context, batchID string) (*paypal.PayoutBatch, error) {
	return &paypal.PayoutBatch{
		BatchHeader: paypal.BatchHeader{PayoutBatchID: batchID, BatchStatus: "PROCESSING"},
		Items:       []paypal.PayoutItem{{TransactionStatus: g.payoutStatus}},
	}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(context.Context, paypal.WebhookHeaders, json.RawMessage) (bool, error) {
	return g.verified, g.verifyErr
}

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ofType(typ string) []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []notify.Event
	for _, e := range p.events {
		if e.Type == typ {
			res = append(res, e)
		}
	}
	return res
}
