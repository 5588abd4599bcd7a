package reporting

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/klingon-exchange/exchanged/internal/balance"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
)

func setupTestReconciler(t *testing.T) (*storage.Storage, *balance.Store, *ledger.Ledger, *Reconciler, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "exchanged-reporting-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}

	bal := balance.New(store, nil)
	led := ledger.New(store, bal)
	r := New(store, nil)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, bal, led, r, cleanup
}

func TestReconcileCleanLedgerReportsNoFindings(t *testing.T) {
	store, _, led, r, cleanup := setupTestReconciler(t)
	defer cleanup()

	funder := ledger.Party{AccountID: 3, Name: "hub", BrokerID: 1, BrokerName: "hub"}
	from := ledger.Party{AccountID: 1, Name: "alice", BrokerID: 1, BrokerName: "hub"}
	to := ledger.Party{AccountID: 2, Name: "bob", BrokerID: 1, BrokerName: "hub"}

	if err := led.Transfer(store.DB(), "USD", funder, from, 10000, "ref-seed", ledger.DescDeposit); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := led.Transfer(store.DB(), "USD", from, to, 4000, "ref-clean", ledger.DescBonus); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(report.Findings) != 0 {
		t.Errorf("Findings = %+v, want none for a balanced ledger", report.Findings)
	}
	if report.Entries != 4 {
		t.Errorf("Entries checked = %d, want 4", report.Entries)
	}
}

func TestReconcileDetectsUnbalancedReference(t *testing.T) {
	store, _, _, r, cleanup := setupTestReconciler(t)
	defer cleanup()

	// A single one-sided posting under a reference breaks the zero-sum
	// invariant outright.
	if err := store.CreateLedgerEntry(store.DB(), &storage.LedgerEntry{
		Currency: "USD", AccountID: 1, BrokerID: 1,
		Operation: storage.LedgerCredit, Amount: 500,
		Reference: "ref-broken", Created: time.Now(),
	}); err != nil {
		t.Fatalf("CreateLedgerEntry: %v", err)
	}

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	var sawZeroSum bool
	for _, f := range report.Findings {
		if f.Check == "zero_sum_per_reference" {
			sawZeroSum = true
		}
	}
	if !sawZeroSum {
		t.Errorf("Findings = %+v, want a zero_sum_per_reference finding", report.Findings)
	}
}

func TestReconcileDetectsBalanceMismatch(t *testing.T) {
	store, bal, _, r, cleanup := setupTestReconciler(t)
	defer cleanup()

	// Balance moved with no corresponding ledger postings at all.
	if _, err := bal.Update(store.DB(), balance.Credit, 1, 1, "USD", 1000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	var sawMismatch bool
	for _, f := range report.Findings {
		if f.Check == "balance_matches_posting" {
			sawMismatch = true
		}
	}
	if !sawMismatch {
		t.Errorf("Findings = %+v, want a balance_matches_posting finding", report.Findings)
	}
}
