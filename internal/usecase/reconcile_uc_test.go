//go:build !integration

package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/znomio18-svg/backend-api/internal/domain"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
)

func TestReconcile_SettlesPaidInvoice(t *testing.T) {
	f := newFixture()
	f.seedUser("u1")
	f.seedPlan("pl1", 9900)
	f.seedPendingQPay("p1", "u1", "pl1", 9900)

	res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 9900), model.ReconcileSourcePolling, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ReconcileSettled {
		t.Fatalf("want settled, got %s (%s)", res.Action, res.Reason)
	}

	got, _ := f.payRepo.FindByID(context.Background(), nil, "p1")
	if got.Status != model.PaymentStatusPaid {
		t.Fatalf("want paid, got %s", got.Status)
	}
	if got.QPayPaymentID == nil || *got.QPayPaymentID != "gw-pay-1" {
		t.Fatalf("gateway payment id not recorded: %v", got.QPayPaymentID)
	}
	if got.PaidAt == nil || got.ReconcileAttempts != 1 || got.NextReconcileAt != nil {
		t.Fatalf("settlement bookkeeping wrong: paidAt=%v attempts=%d next=%v", got.PaidAt, got.ReconcileAttempts, got.NextReconcileAt)
	}
	if got.ReconcileSource == nil || *got.ReconcileSource != model.ReconcileSourcePolling {
		t.Fatalf("want polling source, got %v", got.ReconcileSource)
	}

	if _, err := f.subRepo.FindActiveByUser(context.Background(), nil, "u1", time.Now()); err != nil {
		t.Fatalf("subscription not granted: %v", err)
	}
	if n := f.notifier.confirmationCount(); n != 1 {
		t.Fatalf("want 1 confirmation mail, got %d", n)
	}
}

func TestReconcile_SecondTriggerIsAlreadySettled(t *testing.T) {
	f := newFixture()
	f.seedUser("u1")
	f.seedPlan("pl1", 9900)
	f.seedPendingQPay("p1", "u1", "pl1", 9900)

	snap := paidSnapshot("gw-pay-1", 9900)
	if res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", snap, model.ReconcileSourceWebhook, nil); err != nil || res.Action != ReconcileSettled {
		t.Fatalf("first: %v %v", res, err)
	}
	res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", snap, model.ReconcileSourceCron, nil)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.Action != ReconcileAlreadySettled {
		t.Fatalf("want already_settled, got %s", res.Action)
	}

	// still exactly one grant and one mail
	n, _ := f.subRepo.CountByUserAndPlan(context.Background(), nil, "u1", "pl1")
	if n != 1 {
		t.Fatalf("want 1 subscription, got %d", n)
	}
	if got := f.notifier.confirmationCount(); got != 1 {
		t.Fatalf("want 1 confirmation mail, got %d", got)
	}
}

func TestReconcile_ConcurrentTriggersSettleOnce(t *testing.T) {
	f := newFixture()
	f.seedUser("u1")
	f.seedPlan("pl1", 9900)
	f.seedPendingQPay("p1", "u1", "pl1", 9900)

	snap := paidSnapshot("gw-pay-1", 9900)
	sources := []model.ReconcileSource{
		model.ReconcileSourceWebhook, model.ReconcileSourcePolling,
		model.ReconcileSourceCron, model.ReconcileSourceWebhook,
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
		other   int
	)
	for _, src := range sources {
		wg.Add(1)
		go func(src model.ReconcileSource) {
			defer wg.Done()
			res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", snap, src, nil)
			if err != nil {
				t.Errorf("reconcile(%s): %v", src, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Action == ReconcileSettled {
				settled++
			} else if res.Action == ReconcileAlreadySettled {
				other++
			} else {
				t.Errorf("unexpected action %s", res.Action)
			}
		}(src)
	}
	wg.Wait()

	if settled != 1 || other != len(sources)-1 {
		t.Fatalf("want exactly one settle, got settled=%d already=%d", settled, other)
	}
	n, _ := f.subRepo.CountByUserAndPlan(context.Background(), nil, "u1", "pl1")
	if n != 1 {
		t.Fatalf("want 1 subscription, got %d", n)
	}
}

func TestReconcile_PartialPaymentDefers(t *testing.T) {
	f := newFixture()
	f.seedUser("u1")
	f.seedPlan("pl1", 9900)
	f.seedPendingQPay("p1", "u1", "pl1", 9900)

	res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 5000), model.ReconcileSourceWebhook, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ReconcileDeferred {
		t.Fatalf("want deferred, got %s (%s)", res.Action, res.Reason)
	}

	got, _ := f.payRepo.FindByID(context.Background(), nil, "p1")
	if got.Status != model.PaymentStatusPending {
		t.Fatalf("partial payment must stay pending, got %s", got.Status)
	}
	if got.ReconcileAttempts != 1 || got.NextReconcileAt == nil {
		t.Fatalf("defer bookkeeping wrong: attempts=%d next=%v", got.ReconcileAttempts, got.NextReconcileAt)
	}
	n, _ := f.subRepo.CountByUserAndPlan(context.Background(), nil, "u1", "pl1")
	if n != 0 {
		t.Fatalf("no grant expected, got %d", n)
	}
}

func TestReconcile_OverpaymentSettles(t *testing.T) {
	f := newFixture()
	f.seedUser("u1")
	f.seedPlan("pl1", 9900)
	f.seedPendingQPay("p1", "u1", "pl1", 9900)

	res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 12000), model.ReconcileSourceWebhook, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ReconcileSettled {
		t.Fatalf("overpayment must settle, got %s (%s)", res.Action, res.Reason)
	}
}

func TestReconcile_BackoffScheduleAndCeiling(t *testing.T) {
	f := newFixture()
	f.seedUser("u1")
	f.seedPlan("pl1", 9900)
	f.seedPendingQPay("p1", "u1", "pl1", 9900)

	// delay after each unsuccessful attempt, per the schedule
	wantDelay := []time.Duration{0, time.Minute, 5 * time.Minute, 15 * time.Minute}

	for attempt := 1; attempt <= model.MaxReconcileAttempts; attempt++ {
		before := time.Now()
		res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", emptySnapshot(), model.ReconcileSourceCron, nil)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if res.Action != ReconcileDeferred {
			t.Fatalf("attempt %d: want deferred, got %s", attempt, res.Action)
		}

		got, _ := f.payRepo.FindByID(context.Background(), nil, "p1")
		if got.ReconcileAttempts != attempt {
			t.Fatalf("attempt %d: counter is %d", attempt, got.ReconcileAttempts)
		}
		if attempt == model.MaxReconcileAttempts {
			if got.NextReconcileAt != nil {
				t.Fatalf("want nil next at ceiling, got %v", got.NextReconcileAt)
			}
			continue
		}
		if got.NextReconcileAt == nil {
			t.Fatalf("attempt %d: want scheduled next", attempt)
		}
		delay := got.NextReconcileAt.Sub(before)
		want := wantDelay[attempt-1]
		if delay < want || delay > want+5*time.Second {
			t.Fatalf("attempt %d: want delay ~%v, got %v", attempt, want, delay)
		}
	}

	// exhausted payments fall out of the sweep
	due, err := f.payment.ListDueForReconciliation(context.Background(), 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("exhausted payment still selected: %d", len(due))
	}
}

func TestReconcile_GrantFailureRollsBackSettlement(t *testing.T) {
	f := newFixture()
	f.seedUser("u1")
	f.seedPlan("pl1", 9900)
	f.seedPendingQPay("p1", "u1", "pl1", 9900)
	f.subRepo.failCreate = errors.New("subscriptions table unavailable")

	_, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 9900), model.ReconcileSourceWebhook, nil)
	if err == nil {
		t.Fatal("want error when grant fails")
	}

	got, _ := f.payRepo.FindByID(context.Background(), nil, "p1")
	if got.Status != model.PaymentStatusPending {
		t.Fatalf("settlement must roll back with the grant, got %s", got.Status)
	}
	if f.notifier.confirmationCount() != 0 {
		t.Fatal("no mail on rolled-back settlement")
	}

	// the next trigger settles normally
	f.subRepo.failCreate = nil
	res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 9900), model.ReconcileSourceWebhook, nil)
	if err != nil || res.Action != ReconcileSettled {
		t.Fatalf("retry after recovery: %v %v", res, err)
	}
}

func TestReconcile_DuplicateMovieGrantIsSuccess(t *testing.T) {
	f := newFixture()
	f.seedUser("u1")
	f.seedMovie("m1", 4900)
	movieID := "m1"
	invoiceID := "gw-p1"
	p := &model.Payment{
		ID: "p1", InvoiceCode: "INV-p1", UserID: "u1", MovieID: &movieID,
		Amount: 4900, Method: model.PaymentMethodQPay, Status: model.PaymentStatusPending,
		QPayInvoiceID: &invoiceID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	f.payRepo.Create(context.Background(), nil, p)

	// unlock already exists from an earlier settlement attempt
	f.purRepo.Create(context.Background(), nil, &model.MoviePurchase{
		ID: "pur1", UserID: "u1", MovieID: "m1", PaymentID: "p0", CreatedAt: time.Now(),
	})

	res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 4900), model.ReconcileSourceWebhook, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ReconcileSettled {
		t.Fatalf("want settled, got %s (%s)", res.Action, res.Reason)
	}
}

func TestReconcile_ConflictRetry(t *testing.T) {
	t.Run("transient conflicts retry and settle", func(t *testing.T) {
		f := newFixture()
		f.seedUser("u1")
		f.seedPlan("pl1", 9900)
		f.seedPendingQPay("p1", "u1", "pl1", 9900)
		f.db.commitConflicts = 2

		res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 9900), model.ReconcileSourceWebhook, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Action != ReconcileSettled {
			t.Fatalf("want settled after retries, got %s", res.Action)
		}
	})

	t.Run("exhausted retries surface the conflict", func(t *testing.T) {
		f := newFixture()
		f.seedUser("u1")
		f.seedPlan("pl1", 9900)
		f.seedPendingQPay("p1", "u1", "pl1", 9900)
		f.db.commitConflicts = 10

		_, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 9900), model.ReconcileSourceWebhook, nil)
		if !errors.Is(err, domain.ErrTxConflict) {
			t.Fatalf("want ErrTxConflict, got %v", err)
		}
	})

	t.Run("losing the race to a settler is already_settled", func(t *testing.T) {
		f := newFixture()
		f.seedUser("u1")
		f.seedPlan("pl1", 9900)
		f.seedPendingQPay("p1", "u1", "pl1", 9900)

		// the concurrent winner settles the row outside our transactions
		f.payRepo.MarkPaid(context.Background(), nil, "p1", nil, nil, time.Now(), model.ReconcileSourceWebhook, 1)
		f.db.commitConflicts = 10

		res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 9900), model.ReconcileSourcePolling, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Action != ReconcileAlreadySettled {
			t.Fatalf("want already_settled, got %s", res.Action)
		}
	})
}

func TestReconcile_EdgeInputs(t *testing.T) {
	t.Run("unknown invoice", func(t *testing.T) {
		f := newFixture()
		_, err := f.reconcile.Reconcile(context.Background(), "INV-missing", emptySnapshot(), model.ReconcileSourceWebhook, nil)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("expired payment is skipped", func(t *testing.T) {
		f := newFixture()
		f.seedUser("u1")
		f.seedPlan("pl1", 9900)
		f.seedPendingQPay("p1", "u1", "pl1", 9900)
		f.payRepo.UpdateStatus(context.Background(), nil, "p1", model.PaymentStatusExpired, nil)

		res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 9900), model.ReconcileSourceWebhook, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Action != ReconcileSkipped {
			t.Fatalf("want skipped, got %s", res.Action)
		}
	})

	t.Run("nil snapshot rejected", func(t *testing.T) {
		f := newFixture()
		if _, err := f.reconcile.Reconcile(context.Background(), "INV-x", nil, model.ReconcileSourceWebhook, nil); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("want ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("mail failure does not affect settlement", func(t *testing.T) {
		f := newFixture()
		f.seedUser("u1")
		f.seedPlan("pl1", 9900)
		f.seedPendingQPay("p1", "u1", "pl1", 9900)
		f.notifier.err = errors.New("smtp down")

		res, err := f.reconcile.Reconcile(context.Background(), "INV-p1", paidSnapshot("gw-pay-1", 9900), model.ReconcileSourceWebhook, nil)
		if err != nil || res.Action != ReconcileSettled {
			t.Fatalf("want settled despite mail failure, got %v %v", res, err)
		}
	})
}
