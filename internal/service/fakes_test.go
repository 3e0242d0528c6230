package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/goodeedhub/backend/internal/model"
	"github.com/goodeedhub/backend/internal/repository"
	pkgstripe "github.com/goodeedhub/backend/pkg/stripe"
	"github.com/google/uuid"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// ---------------------------------------------------------------------------
// memLedger is an in-memory LedgerRepository. WithinTx holds one mutex for the
// whole callback and restores a snapshot on error, which gives the same
// all-or-nothing, one-writer-at-a-time behaviour as the row locks in PostgreSQL.
// ---------------------------------------------------------------------------

type memLedger struct {
	mu          sync.Mutex
	donations   map[string]*model.Donation // by transaction id
	causeTotals map[string]int64
	donorTotals map[string]int64
	commits     int
}

func newMemLedger() *memLedger {
	return &memLedger{
		donations:   make(map[string]*model.Donation),
		causeTotals: make(map[string]int64),
		donorTotals: make(map[string]int64),
	}
}

func (l *memLedger) addCause(id string) { l.mu.Lock(); l.causeTotals[id] = 0; l.mu.Unlock() }
func (l *memLedger) addDonor(id string) { l.mu.Lock(); l.donorTotals[id] = 0; l.mu.Unlock() }

func (l *memLedger) causeTotal(id string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.causeTotals[id]
}

func (l *memLedger) donorTotal(id string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.donorTotals[id]
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.donations)
}

// put stores d directly, bypassing transactions.
func (l *memLedger) put(d *model.Donation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := *d
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	l.donations[c.TransactionID] = &c
}

func (l *memLedger) get(txID string) *model.Donation {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.donations[txID]
	if !ok {
		return nil
	}
	c := *d
	return &c
}

type ledgerSnapshot struct {
	donations   map[string]model.Donation
	causeTotals map[string]int64
	donorTotals map[string]int64
}

func (l *memLedger) snapshot() ledgerSnapshot {
	s := ledgerSnapshot{
		donations:   make(map[string]model.Donation, len(l.donations)),
		causeTotals: make(map[string]int64, len(l.causeTotals)),
		donorTotals: make(map[string]int64, len(l.donorTotals)),
	}
	for k, v := range l.donations {
		s.donations[k] = *v
	}
	for k, v := range l.causeTotals {
		s.causeTotals[k] = v
	}
	for k, v := range l.donorTotals {
		s.donorTotals[k] = v
	}
	return s
}

func (l *memLedger) restore(s ledgerSnapshot) {
	l.donations = make(map[string]*model.Donation, len(s.donations))
	for k, v := range s.donations {
		d := v
		l.donations[k] = &d
	}
	l.causeTotals = s.causeTotals
	l.donorTotals = s.donorTotals
}

func (l *memLedger) WithinTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := l.snapshot()
	if err := fn(&memTx{l: l}); err != nil {
		l.restore(snap)
		return err
	}
	l.commits++
	return nil
}

func (l *memLedger) FindByTransactionID(ctx context.Context, txID string) (*model.Donation, error) {
	if d := l.get(txID); d != nil {
		return d, nil
	}
	return nil, repository.ErrNotFound
}

func (l *memLedger) filter(keep func(*model.Donation) bool) []*model.Donation {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*model.Donation
	for _, d := range l.donations {
		if keep(d) {
			c := *d
			out = append(out, &c)
		}
	}
	return out
}

func page(list []*model.Donation, limit, offset int) []*model.Donation {
	if offset >= len(list) {
		return []*model.Donation{}
	}
	list = list[offset:]
	if limit < len(list) {
		list = list[:limit]
	}
	return list
}

func (l *memLedger) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.Donation, error) {
	list := l.filter(func(d *model.Donation) bool {
		return d.Status == model.DonationPending && d.UpdatedAt.Before(cutoff)
	})
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.Before(list[j].UpdatedAt) })
	return page(list, limit, 0), nil
}

func (l *memLedger) TouchPending(ctx context.Context, txID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.donations[txID]; ok && d.Status == model.DonationPending {
		d.UpdatedAt = at
	}
	return nil
}

func (l *memLedger) ListByDonor(ctx context.Context, donorID string, limit, offset int) ([]*model.Donation, error) {
	list := l.filter(func(d *model.Donation) bool { return d.DonorID == donorID })
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return page(list, limit, offset), nil
}

func (l *memLedger) ListCompletedByCause(ctx context.Context, causeID string, limit, offset int) ([]*model.Donation, error) {
	list := l.filter(func(d *model.Donation) bool {
		return d.CauseID == causeID && d.Status == model.DonationCompleted
	})
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return page(list, limit, offset), nil
}

type memTx struct {
	l *memLedger
}

func (t *memTx) ClaimDonation(ctx context.Context, d *model.Donation) (*model.Donation, bool, error) {
	if existing, ok := t.l.donations[d.TransactionID]; ok {
		c := *existing
		return &c, false, nil
	}
	c := *d
	c.ID = uuid.NewString()
	t.l.donations[c.TransactionID] = &c
	out := c
	return &out, true, nil
}

func (t *memTx) LockByTransactionID(ctx context.Context, txID string) (*model.Donation, error) {
	d, ok := t.l.donations[txID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (t *memTx) SaveDonation(ctx context.Context, d *model.Donation) error {
	if _, ok := t.l.donations[d.TransactionID]; !ok {
		return repository.ErrNotFound
	}
	c := *d
	t.l.donations[d.TransactionID] = &c
	return nil
}

func (t *memTx) IncrementCauseAmount(ctx context.Context, causeID string, amount int64) error {
	if _, ok := t.l.causeTotals[causeID]; !ok {
		return repository.ErrNotFound
	}
	t.l.causeTotals[causeID] += amount
	return nil
}

func (t *memTx) IncrementDonorTotal(ctx context.Context, donorID string, amount int64) error {
	if _, ok := t.l.donorTotals[donorID]; !ok {
		return repository.ErrNotFound
	}
	t.l.donorTotals[donorID] += amount
	return nil
}

// ---------------------------------------------------------------------------
// fakeGateway is a function-field pkgstripe.Client
// ---------------------------------------------------------------------------

type fakeGateway struct {
	mu                 sync.Mutex
	createIntentCalls  int
	createSessionCalls int
	retrieveCalls      int

	createPaymentIntentFunc     func(ctx context.Context, p pkgstripe.IntentParams) (*pkgstripe.Intent, error)
	retrievePaymentIntentFunc   func(ctx context.Context, id string) (*pkgstripe.Intent, error)
	createCheckoutSessionFunc   func(ctx context.Context, p pkgstripe.CheckoutParams) (*pkgstripe.Session, error)
	retrieveCheckoutSessionFunc func(ctx context.Context, id string) (*pkgstripe.Session, error)

	// events are returned by ConstructEvent, keyed by payload, when the header is "valid".
	events map[string]*pkgstripe.Event
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: make(map[string]*pkgstripe.Event)}
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, p pkgstripe.IntentParams) (*pkgstripe.Intent, error) {
	g.mu.Lock()
	g.createIntentCalls++
	g.mu.Unlock()
	if g.createPaymentIntentFunc != nil {
		return g.createPaymentIntentFunc(ctx, p)
	}
	return &pkgstripe.Intent{ID: "pi_new", ClientSecret: "pi_new_secret_x", Status: "requires_payment_method"}, nil
}

func (g *fakeGateway) RetrievePaymentIntent(ctx context.Context, id string) (*pkgstripe.Intent, error) {
	g.mu.Lock()
	g.retrieveCalls++
	g.mu.Unlock()
	if g.retrievePaymentIntentFunc != nil {
		return g.retrievePaymentIntentFunc(ctx, id)
	}
	return nil, fmt.Errorf("%w: %s", pkgstripe.ErrNotFound, id)
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, p pkgstripe.CheckoutParams) (*pkgstripe.Session, error) {
	g.mu.Lock()
	g.createSessionCalls++
	g.mu.Unlock()
	if g.createCheckoutSessionFunc != nil {
		return g.createCheckoutSessionFunc(ctx, p)
	}
	return &pkgstripe.Session{ID: "cs_new", URL: "https://checkout.example/cs_new"}, nil
}

func (g *fakeGateway) RetrieveCheckoutSession(ctx context.Context, id string) (*pkgstripe.Session, error) {
	g.mu.Lock()
	g.retrieveCalls++
	g.mu.Unlock()
	if g.retrieveCheckoutSessionFunc != nil {
		return g.retrieveCheckoutSessionFunc(ctx, id)
	}
	return nil, fmt.Errorf("%w: %s", pkgstripe.ErrNotFound, id)
}

func (g *fakeGateway) ConstructEvent(payload []byte, sigHeader string) (*pkgstripe.Event, error) {
	if sigHeader != "valid" {
		return nil, fmt.Errorf("%w: bad header", pkgstripe.ErrSignature)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[string(payload)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payload", pkgstripe.ErrSignature)
	}
	return ev, nil
}

func (g *fakeGateway) addEvent(payload string, ev *pkgstripe.Event) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[payload] = ev
	return []byte(payload)
}

func (g *fakeGateway) calls() (intents, sessions, retrieves int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createIntentCalls, g.createSessionCalls, g.retrieveCalls
}

// ---------------------------------------------------------------------------
// Cause / donor lookups and the event log
// ---------------------------------------------------------------------------

type memCauses struct {
	causes  map[string]*model.Cause
	lookups int
}

func (m *memCauses) FindByID(ctx context.Context, id string) (*model.Cause, error) {
	m.lookups++
	if c, ok := m.causes[id]; ok {
		return c, nil
	}
	return nil, repository.ErrNotFound
}

type memDonors struct {
	donors map[string]*model.Donor
}

func (m *memDonors) FindByID(ctx context.Context, id string) (*model.Donor, error) {
	if d, ok := m.donors[id]; ok {
		return d, nil
	}
	return nil, repository.ErrNotFound
}

type memEventLog struct {
	mu      sync.Mutex
	seen    map[string]bool
	seenErr error
	markErr error
}

func newMemEventLog() *memEventLog {
	return &memEventLog{seen: make(map[string]bool)}
}

func (e *memEventLog) Seen(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seenErr != nil {
		return false, e.seenErr
	}
	return e.seen[id], nil
}

func (e *memEventLog) MarkProcessed(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.markErr != nil {
		return e.markErr
	}
	e.seen[id] = true
	return nil
}

func (e *memEventLog) has(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seen[id]
}

// ---------------------------------------------------------------------------
// builders
// ---------------------------------------------------------------------------

const (
	testCause = "cause-1"
	testDonor = "donor-1"
)

// donationIntent returns a gateway intent carrying donation metadata for gross.
func donationIntent(id, status string, gross int64) *pkgstripe.Intent {
	fees, err := ComputeFee(gross)
	if err != nil {
		panic(err)
	}
	return &pkgstripe.Intent{
		ID:            id,
		Status:        status,
		Amount:        gross,
		Currency:      "inr",
		PaymentMethod: "card",
		Metadata: pkgstripe.DonationMetadata{
			CauseID:     testCause,
			DonorID:     testDonor,
			NetAmount:   fees.NetAmount,
			PlatformFee: fees.PlatformFee,
		}.Map(),
	}
}

type reconcilerFixture struct {
	ledger *memLedger
	gw     *fakeGateway
	events *memEventLog
	r      *Reconciler
}

func newReconcilerFixture(withEventLog bool) *reconcilerFixture {
	f := &reconcilerFixture{ledger: newMemLedger(), gw: newFakeGateway()}
	f.ledger.addCause(testCause)
	f.ledger.addDonor(testDonor)
	var log EventLog
	if withEventLog {
		f.events = newMemEventLog()
		log = f.events
	}
	f.r = NewReconciler(f.ledger, f.gw, log, quietLogger())
	return f
}

// intentEvent registers a webhook delivery for intent and returns its payload.
func (f *reconcilerFixture) intentEvent(eventID, eventType string, intent *pkgstripe.Intent) []byte {
	return f.gw.addEvent(eventID, &pkgstripe.Event{ID: eventID, Type: eventType, Intent: intent})
}

// serveIntents makes RetrievePaymentIntent return the given intents by id.
func (f *reconcilerFixture) serveIntents(intents ...*pkgstripe.Intent) {
	byID := make(map[string]*pkgstripe.Intent, len(intents))
	for _, in := range intents {
		byID[in.ID] = in
	}
	f.gw.retrievePaymentIntentFunc = func(ctx context.Context, id string) (*pkgstripe.Intent, error) {
		in, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", pkgstripe.ErrNotFound, id)
		}
		c := *in
		return &c, nil
	}
}
