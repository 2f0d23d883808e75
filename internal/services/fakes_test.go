package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"eventpayments/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for the relational store. Every method holds the lock
// for its whole body so conditional updates behave like single statements.
type memStore struct {
	mu            sync.Mutex
	seq           int
	events        map[string]*domain.Event
	registrations map[string]*domain.Registration
	payments      map[string]*domain.Payment
	webhookEvents map[string]string
	activity      []*domain.ActivityLog
	users         map[string]*domain.User

	markPaidCalls      int
	markCompletedCalls int
	// beforeAttach runs inside AttachGatewayOrder before the conditional check.
	beforeAttach func(p *domain.Payment)
}

func newMemStore() *memStore {
	return &memStore{
		seq:           100,
		events:        map[string]*domain.Event{},
		registrations: map[string]*domain.Registration{},
		payments:      map[string]*domain.Payment{},
		webhookEvents: map[string]string{},
		users:         map[string]*domain.User{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func clonePayment(p *domain.Payment) *domain.Payment {
	cp := *p
	return &cp
}

func cloneRegistration(r *domain.Registration) *domain.Registration {
	cp := *r
	return &cp
}

func (m *memStore) payment(id string) *domain.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePayment(m.payments[id])
}

func (m *memStore) registration(id string) *domain.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRegistration(m.registrations[id])
}

type memEvents struct{ *memStore }

func (r memEvents) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

type memUsers struct{ *memStore }

func (r memUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type memRegistrations struct{ *memStore }

func (r memRegistrations) Create(ctx context.Context, reg *domain.Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.registrations {
		if existing.EventID == reg.EventID && existing.UserID == reg.UserID {
			return domain.ErrAlreadyRegistered
		}
	}
	reg.ID = r.nextID("reg")
	r.registrations[reg.ID] = cloneRegistration(reg)
	return nil
}

func (r memRegistrations) GetByID(ctx context.Context, id string) (*domain.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRegistration(reg), nil
}

func (r memRegistrations) GetByEventAndUser(ctx context.Context, eventID, userID string) (*domain.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.registrations {
		if reg.EventID == eventID && reg.UserID == userID {
			return cloneRegistration(reg), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r memRegistrations) ListByEventID(ctx context.Context, eventID string, params domain.PaginationParams) ([]*domain.Registration, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*domain.Registration
	for _, reg := range r.registrations {
		if reg.EventID == eventID {
			all = append(all, cloneRegistration(reg))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	start := min(params.Offset(), len(all))
	end := min(start+params.Limit(), len(all))
	return all[start:end], len(all), nil
}

func (r memRegistrations) UpdateStatus(ctx context.Context, id string, status domain.RegistrationStatus) (*domain.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	reg.Status = status
	return cloneRegistration(reg), nil
}

func (r memRegistrations) MarkPaid(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markPaidCalls++
	reg, ok := r.registrations[id]
	if !ok || reg.PaymentStatus == domain.PaymentCompleted {
		return false, nil
	}
	reg.PaymentStatus = domain.PaymentCompleted
	return true, nil
}

func (r memRegistrations) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[id]
	if !ok || reg.PaymentStatus != domain.PaymentPending {
		return false, nil
	}
	reg.PaymentStatus = domain.PaymentFailed
	return true, nil
}

type memPayments struct{ *memStore }

func (r memPayments) Create(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.nextID("pay")
	r.payments[p.ID] = clonePayment(p)
	return nil
}

func (r memPayments) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePayment(p), nil
}

func (r memPayments) newest(match func(p *domain.Payment) bool) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Payment
	for _, p := range r.payments {
		if !match(p) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) || (p.CreatedAt.Equal(best.CreatedAt) && p.ID > best.ID) {
			best = p
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return clonePayment(best), nil
}

func (r memPayments) FindPendingForRegistration(ctx context.Context, registrationID string) (*domain.Payment, error) {
	return r.newest(func(p *domain.Payment) bool {
		return p.RegistrationID == registrationID && p.Status == domain.PaymentPending
	})
}

func (r memPayments) LatestForRegistration(ctx context.Context, registrationID string) (*domain.Payment, error) {
	return r.newest(func(p *domain.Payment) bool { return p.RegistrationID == registrationID })
}

func (r memPayments) FindByGatewayOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.newest(func(p *domain.Payment) bool {
		return p.GatewayOrderID != nil && *p.GatewayOrderID == orderID
	})
}

func (r memPayments) AttachGatewayOrder(ctx context.Context, paymentID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[paymentID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.beforeAttach != nil {
		r.beforeAttach(p)
	}
	if p.GatewayOrderID != nil {
		return domain.ErrOrderAlreadyAttached
	}
	p.GatewayOrderID = &orderID
	return nil
}

func (r memPayments) MarkCompleted(ctx context.Context, paymentID, gatewayPaymentID string, signature *string, verifiedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markCompletedCalls++
	p, ok := r.payments[paymentID]
	if !ok || p.Status == domain.PaymentCompleted {
		return false, nil
	}
	p.Status = domain.PaymentCompleted
	p.GatewayPaymentID = &gatewayPaymentID
	if signature != nil {
		p.GatewaySignature = signature
	}
	p.VerifiedAt = &verifiedAt
	p.FailureReason = nil
	return true, nil
}

func (r memPayments) MarkFailed(ctx context.Context, paymentID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[paymentID]
	if !ok || p.Status != domain.PaymentPending {
		return false, nil
	}
	p.Status = domain.PaymentFailed
	p.FailureReason = &reason
	return true, nil
}

func (r memPayments) SupersedePending(ctx context.Context, registrationID, keepPaymentID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.payments {
		if p.RegistrationID == registrationID && p.ID != keepPaymentID && p.Status == domain.PaymentPending {
			reason := domain.FailureReasonSuperseded
			p.Status = domain.PaymentFailed
			p.FailureReason = &reason
			n++
		}
	}
	return n, nil
}

type memWebhookEvents struct{ *memStore }

func (r memWebhookEvents) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.webhookEvents[eventID]; ok {
		return false, nil
	}
	r.webhookEvents[eventID] = eventType
	return true, nil
}

type memActivity struct{ *memStore }

func (r memActivity) Create(ctx context.Context, entry *domain.ActivityLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = r.nextID("log")
	cp := *entry
	r.activity = append(r.activity, &cp)
	return nil
}

type fakeIssuer struct {
	mu      sync.Mutex
	calls   int
	orderID string
	err     error
	last    domain.GatewayOrderRequest
}

func (f *fakeIssuer) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (*domain.GatewayOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	id := f.orderID
	if id == "" {
		id = fmt.Sprintf("order_%d", f.calls)
	}
	return &domain.GatewayOrder{ID: id, Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created"}, nil
}

func (f *fakeIssuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.PaymentCompletedEvent
	err    error
}

func (n *recordingNotifier) PaymentCompleted(ctx context.Context, evt domain.PaymentCompletedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}
