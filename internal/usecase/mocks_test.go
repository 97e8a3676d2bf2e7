//go:build !integration

package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/znomio18-svg/backend-api/internal/config"
	"github.com/znomio18-svg/backend-api/internal/domain"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/adapter"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/repository"
)

// ---- in-memory store with transaction semantics ----
//
// WithTx clones the store, runs the callback against the clone, and swaps it
// in on success. An error discards the clone, which gives tests real rollback
// behavior. The store mutex doubles as the row lock: concurrent transactions
// serialize exactly like FOR UPDATE would.

type memStore struct {
	payments  map[string]*model.Payment
	plans     map[string]*model.SubscriptionPlan
	movies    map[string]*model.Movie
	users     map[string]*model.User
	accounts  map[string]*model.BankAccount
	subs      map[string]*model.Subscription
	purchases map[string]*model.MoviePurchase // keyed user|movie
}

func newMemStore() *memStore {
	return &memStore{
		payments:  map[string]*model.Payment{},
		plans:     map[string]*model.SubscriptionPlan{},
		movies:    map[string]*model.Movie{},
		users:     map[string]*model.User{},
		accounts:  map[string]*model.BankAccount{},
		subs:      map[string]*model.Subscription{},
		purchases: map[string]*model.MoviePurchase{},
	}
}

func clonePayment(p *model.Payment) *model.Payment {
	cp := *p
	return &cp
}

func (s *memStore) clone() *memStore {
	c := newMemStore()
	for k, v := range s.payments {
		c.payments[k] = clonePayment(v)
	}
	for k, v := range s.plans {
		cp := *v
		c.plans[k] = &cp
	}
	for k, v := range s.movies {
		cp := *v
		c.movies[k] = &cp
	}
	for k, v := range s.users {
		cp := *v
		c.users[k] = &cp
	}
	for k, v := range s.accounts {
		cp := *v
		c.accounts[k] = &cp
	}
	for k, v := range s.subs {
		cp := *v
		c.subs[k] = &cp
	}
	for k, v := range s.purchases {
		cp := *v
		c.purchases[k] = &cp
	}
	return c
}

type memDB struct {
	mu    sync.Mutex
	store *memStore

	// commitConflicts injects this many ErrTxConflict failures at commit
	// before letting transactions through again.
	commitConflicts int
}

func newMemDB() *memDB { return &memDB{store: newMemStore()} }

type memTx struct{ st *memStore }

type memTxManager struct{ db *memDB }

func (m *memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	snap := m.db.store.clone()
	if err := fn(ctx, &memTx{st: snap}); err != nil {
		return err
	}
	if m.db.commitConflicts > 0 {
		m.db.commitConflicts--
		return fmt.Errorf("%w: injected", domain.ErrTxConflict)
	}
	m.db.store = snap
	return nil
}

// resolve picks the transaction's working copy when inside one; non-tx reads
// briefly lock the shared store.
func (db *memDB) resolve(tx repository.Tx) (*memStore, func()) {
	if t, ok := tx.(*memTx); ok {
		return t.st, func() {}
	}
	db.mu.Lock()
	return db.store, db.mu.Unlock
}

// ---- repositories ----

type memPaymentRepo struct{ db *memDB }

func (r *memPaymentRepo) Create(_ context.Context, tx repository.Tx, p *model.Payment) error {
	st, done := r.db.resolve(tx)
	defer done()
	for _, ex := range st.payments {
		if ex.InvoiceCode == p.InvoiceCode {
			return domain.ErrAlreadyExists
		}
	}
	st.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *memPaymentRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	st, done := r.db.resolve(tx)
	defer done()
	p, ok := st.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePayment(p), nil
}

func (r *memPaymentRepo) FindByInvoiceCode(_ context.Context, tx repository.Tx, invoiceCode string) (*model.Payment, error) {
	st, done := r.db.resolve(tx)
	defer done()
	for _, p := range st.payments {
		if p.InvoiceCode == invoiceCode {
			return clonePayment(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memPaymentRepo) FindReusablePending(_ context.Context, tx repository.Tx, userID string, planID, movieID *string, method model.PaymentMethod, notBefore time.Time) (*model.Payment, error) {
	st, done := r.db.resolve(tx)
	defer done()
	var best *model.Payment
	for _, p := range st.payments {
		if p.UserID != userID || p.Status != model.PaymentStatusPending || p.Method != method {
			continue
		}
		if !strPtrEq(p.PlanID, planID) || !strPtrEq(p.MovieID, movieID) {
			continue
		}
		if !p.CreatedAt.After(notBefore) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return clonePayment(best), nil
}

func strPtrEq(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func (r *memPaymentRepo) MarkPaid(_ context.Context, tx repository.Tx, id string, qpayPaymentID *string, rawPayload []byte, paidAt time.Time, source model.ReconcileSource, attempts int) error {
	st, done := r.db.resolve(tx)
	defer done()
	p, ok := st.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = model.PaymentStatusPaid
	if qpayPaymentID != nil {
		p.QPayPaymentID = qpayPaymentID
	}
	p.RawPayload = rawPayload
	p.PaidAt = &paidAt
	p.ReconcileSource = &source
	p.ReconcileAttempts = attempts
	p.LastReconcileAt = &paidAt
	p.NextReconcileAt = nil
	p.UpdatedAt = time.Now()
	return nil
}

func (r *memPaymentRepo) RecordReconcileAttempt(_ context.Context, tx repository.Tx, id string, attempts int, lastAt time.Time, nextAt *time.Time, rawPayload []byte, source model.ReconcileSource) error {
	st, done := r.db.resolve(tx)
	defer done()
	p, ok := st.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.ReconcileAttempts = attempts
	p.LastReconcileAt = &lastAt
	p.NextReconcileAt = nextAt
	if rawPayload != nil {
		p.RawPayload = rawPayload
	}
	p.ReconcileSource = &source
	p.UpdatedAt = time.Now()
	return nil
}

func (r *memPaymentRepo) UpdateStatus(_ context.Context, tx repository.Tx, id string, status model.PaymentStatus, rawPayload []byte) error {
	st, done := r.db.resolve(tx)
	defer done()
	p, ok := st.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	if rawPayload != nil {
		p.RawPayload = rawPayload
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (r *memPaymentRepo) SetUserNotified(_ context.Context, tx repository.Tx, id string, at time.Time) error {
	st, done := r.db.resolve(tx)
	defer done()
	p, ok := st.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.UserNotifiedAt = &at
	p.UpdatedAt = time.Now()
	return nil
}

func (r *memPaymentRepo) ListDueForReconciliation(_ context.Context, tx repository.Tx, now time.Time, createdAfter time.Time, limit int) ([]*model.Payment, error) {
	st, done := r.db.resolve(tx)
	defer done()
	var out []*model.Payment
	for _, p := range st.payments {
		if p.Status != model.PaymentStatusPending || p.Method != model.PaymentMethodQPay {
			continue
		}
		if p.ReconcileAttempts >= model.MaxReconcileAttempts {
			continue
		}
		if p.NextReconcileAt != nil && p.NextReconcileAt.After(now) {
			continue
		}
		if !p.CreatedAt.After(createdAfter) {
			continue
		}
		out = append(out, clonePayment(p))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memPaymentRepo) ExpirePending(_ context.Context, tx repository.Tx, olderThan time.Time) (int64, error) {
	st, done := r.db.resolve(tx)
	defer done()
	var n int64
	for _, p := range st.payments {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			p.Status = model.PaymentStatusExpired
			n++
		}
	}
	return n, nil
}

type memPlanRepo struct{ db *memDB }

func (r *memPlanRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	st, done := r.db.resolve(tx)
	defer done()
	p, ok := st.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPlanRepo) Save(_ context.Context, tx repository.Tx, p *model.SubscriptionPlan) error {
	st, done := r.db.resolve(tx)
	defer done()
	cp := *p
	st.plans[p.ID] = &cp
	return nil
}

type memMovieRepo struct{ db *memDB }

func (r *memMovieRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Movie, error) {
	st, done := r.db.resolve(tx)
	defer done()
	m, ok := st.movies[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memMovieRepo) Save(_ context.Context, tx repository.Tx, m *model.Movie) error {
	st, done := r.db.resolve(tx)
	defer done()
	cp := *m
	st.movies[m.ID] = &cp
	return nil
}

type memUserRepo struct{ db *memDB }

func (r *memUserRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.User, error) {
	st, done := r.db.resolve(tx)
	defer done()
	u, ok := st.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) Save(_ context.Context, tx repository.Tx, u *model.User) error {
	st, done := r.db.resolve(tx)
	defer done()
	cp := *u
	st.users[u.ID] = &cp
	return nil
}

type memBankAccountRepo struct{ db *memDB }

func (r *memBankAccountRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.BankAccount, error) {
	st, done := r.db.resolve(tx)
	defer done()
	a, ok := st.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memBankAccountRepo) ListActive(_ context.Context, tx repository.Tx) ([]*model.BankAccount, error) {
	st, done := r.db.resolve(tx)
	defer done()
	var out []*model.BankAccount
	for _, a := range st.accounts {
		if a.IsActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memBankAccountRepo) Save(_ context.Context, tx repository.Tx, a *model.BankAccount) error {
	st, done := r.db.resolve(tx)
	defer done()
	cp := *a
	st.accounts[a.ID] = &cp
	return nil
}

type memSubscriptionRepo struct {
	db *memDB

	// failCreate makes the next Create fail, for rollback tests.
	failCreate error
}

func (r *memSubscriptionRepo) Create(_ context.Context, tx repository.Tx, s *model.Subscription) error {
	if r.failCreate != nil {
		return r.failCreate
	}
	st, done := r.db.resolve(tx)
	defer done()
	cp := *s
	st.subs[s.ID] = &cp
	return nil
}

func (r *memSubscriptionRepo) FindActiveByUser(_ context.Context, tx repository.Tx, userID string, now time.Time) (*model.Subscription, error) {
	st, done := r.db.resolve(tx)
	defer done()
	for _, s := range st.subs {
		if s.UserID == userID && s.Status == model.SubscriptionStatusActive && s.EndDate.After(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memSubscriptionRepo) CountByUserAndPlan(_ context.Context, tx repository.Tx, userID, planID string) (int, error) {
	st, done := r.db.resolve(tx)
	defer done()
	n := 0
	for _, s := range st.subs {
		if s.UserID == userID && s.PlanID == planID {
			n++
		}
	}
	return n, nil
}

func (r *memSubscriptionRepo) ExpireFinished(_ context.Context, tx repository.Tx, now time.Time) (int64, error) {
	st, done := r.db.resolve(tx)
	defer done()
	var n int64
	for _, s := range st.subs {
		if s.Status == model.SubscriptionStatusActive && !s.EndDate.After(now) {
			s.Status = model.SubscriptionStatusExpired
			n++
		}
	}
	return n, nil
}

type memPurchaseRepo struct{ db *memDB }

func purchaseKey(userID, movieID string) string { return userID + "|" + movieID }

func (r *memPurchaseRepo) Create(_ context.Context, tx repository.Tx, p *model.MoviePurchase) error {
	st, done := r.db.resolve(tx)
	defer done()
	key := purchaseKey(p.UserID, p.MovieID)
	if _, ok := st.purchases[key]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *p
	st.purchases[key] = &cp
	return nil
}

func (r *memPurchaseRepo) Exists(_ context.Context, tx repository.Tx, userID, movieID string) (bool, error) {
	st, done := r.db.resolve(tx)
	defer done()
	_, ok := st.purchases[purchaseKey(userID, movieID)]
	return ok, nil
}

func (r *memPurchaseRepo) CountByUserAndMovie(_ context.Context, tx repository.Tx, userID, movieID string) (int, error) {
	st, done := r.db.resolve(tx)
	defer done()
	if _, ok := st.purchases[purchaseKey(userID, movieID)]; ok {
		return 1, nil
	}
	return 0, nil
}

// ---- adapters ----

type mockGateway struct {
	mu sync.Mutex

	invoice  *adapter.Invoice
	check    *adapter.PaymentCheck
	err      error
	verifyOK bool

	createCalls int
	checkCalls  int
}

func (g *mockGateway) Name() string { return "mock" }

func (g *mockGateway) CreateInvoice(_ context.Context, _ string, _ int64, _, _ string) (*adapter.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.err != nil {
		return nil, g.err
	}
	return g.invoice, nil
}

func (g *mockGateway) CheckPayment(_ context.Context, _ string) (*adapter.PaymentCheck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkCalls++
	if g.err != nil {
		return nil, g.err
	}
	return g.check, nil
}

func (g *mockGateway) CancelInvoice(_ context.Context, _ string) error { return nil }

func (g *mockGateway) VerifyWebhookSignature(_ []byte, _ string) bool { return g.verifyOK }

type mockNotifier struct {
	mu            sync.Mutex
	confirmations []string // user emails
	notices       []string // transfer refs
	err           error
}

func (n *mockNotifier) SendPaymentConfirmation(_ context.Context, email, _, _ string, _ int64, _ *time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.confirmations = append(n.confirmations, email)
	return nil
}

func (n *mockNotifier) SendBankTransferNotice(_ context.Context, _, _, _, _ string, _ int64, transferRef, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, transferRef)
	return nil
}

func (n *mockNotifier) confirmationCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.confirmations)
}

// ---- fixture ----

type fixture struct {
	db        *memDB
	payRepo   *memPaymentRepo
	planRepo  *memPlanRepo
	movieRepo *memMovieRepo
	userRepo  *memUserRepo
	acctRepo  *memBankAccountRepo
	subRepo   *memSubscriptionRepo
	purRepo   *memPurchaseRepo
	gateway   *mockGateway
	notifier  *mockNotifier

	reconcile *ReconcileUseCase
	payment   *PaymentUseCase
}

func newFixture() *fixture {
	db := newMemDB()
	f := &fixture{
		db:        db,
		payRepo:   &memPaymentRepo{db: db},
		planRepo:  &memPlanRepo{db: db},
		movieRepo: &memMovieRepo{db: db},
		userRepo:  &memUserRepo{db: db},
		acctRepo:  &memBankAccountRepo{db: db},
		subRepo:   &memSubscriptionRepo{db: db},
		purRepo:   &memPurchaseRepo{db: db},
		gateway:   &mockGateway{verifyOK: true},
		notifier:  &mockNotifier{},
	}
	logger := zerolog.Nop()
	txm := &memTxManager{db: db}

	f.reconcile = NewReconcileUseCase(txm, f.payRepo, f.planRepo, f.movieRepo, f.userRepo, f.subRepo, f.purRepo, f.notifier, &logger)
	f.reconcile.sleep = func(context.Context, time.Duration) error { return nil }
	f.reconcile.spawn = func(fn func()) { fn() } // synchronous side effects in tests

	f.payment = NewPaymentUseCase(txm, f.payRepo, f.planRepo, f.movieRepo, f.userRepo, f.acctRepo, f.subRepo, f.purRepo,
		f.gateway, f.notifier, f.reconcile,
		config.QPayConfig{APIURL: "http://qpay.test", CallbackURL: "http://cb.test/webhook"},
		"admin@example.com", &logger)
	return f
}

func (f *fixture) seedUser(id string) *model.User {
	u := &model.User{ID: id, Name: "User " + id, Email: id + "@example.com", CreatedAt: time.Now()}
	f.userRepo.Save(context.Background(), nil, u)
	return u
}

func (f *fixture) seedPlan(id string, price int64) *model.SubscriptionPlan {
	p := &model.SubscriptionPlan{ID: id, Name: "Plan " + id, DurationDays: 30, Price: price, IsActive: true, CreatedAt: time.Now()}
	f.planRepo.Save(context.Background(), nil, p)
	return p
}

func (f *fixture) seedMovie(id string, price int64) *model.Movie {
	m := &model.Movie{ID: id, Title: "Movie " + id, Price: price, IsPublished: true, CreatedAt: time.Now()}
	f.movieRepo.Save(context.Background(), nil, m)
	return m
}

func (f *fixture) seedAccount(id string) *model.BankAccount {
	a := &model.BankAccount{ID: id, BankName: "Khan Bank", AccountNumber: "5000123456", AccountHolder: "Example LLC", IsActive: true, SortOrder: 1, CreatedAt: time.Now()}
	f.acctRepo.Save(context.Background(), nil, a)
	return a
}

// seedPendingQPay creates a pending gateway payment for a plan.
func (f *fixture) seedPendingQPay(id, userID, planID string, amount int64) *model.Payment {
	invoiceID := "gw-" + id
	p := &model.Payment{
		ID:            id,
		InvoiceCode:   "INV-" + id,
		UserID:        userID,
		PlanID:        &planID,
		Amount:        amount,
		Method:        model.PaymentMethodQPay,
		Status:        model.PaymentStatusPending,
		QPayInvoiceID: &invoiceID,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	f.payRepo.Create(context.Background(), nil, p)
	return p
}

func paidSnapshot(paymentID string, amount int64) *adapter.PaymentCheck {
	return &adapter.PaymentCheck{
		Count:      1,
		PaidAmount: amount,
		Rows: []adapter.PaymentCheckRow{{
			PaymentID:     paymentID,
			PaymentStatus: "PAID",
			PaymentAmount: amount,
		}},
	}
}

func emptySnapshot() *adapter.PaymentCheck {
	return &adapter.PaymentCheck{Count: 0, PaidAmount: 0}
}
