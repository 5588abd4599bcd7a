package deposit

import (
	"os"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/balance"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
)

func setupTestMachine(t *testing.T) (*storage.Storage, *balance.Store, *Machine, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "exchanged-deposit-test-*")
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
	m := New(store, led)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, bal, m, cleanup
}

func TestProcessConfirmationCreditsAboveThreshold(t *testing.T) {
	store, bal, m, cleanup := setupTestMachine(t)
	defer cleanup()

	account := ledger.Party{AccountID: 2, Name: "alice", BrokerID: 1, BrokerName: "hub"}
	broker := ledger.Party{AccountID: 1, Name: "hub", BrokerID: 1, BrokerName: "hub"}

	d, err := m.Create(store.DB(), 2, 2, 1, "CRY", "BTC", 0, "", "", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tiers := []ConfirmationTier{
		{AmountLo: 0, AmountHi: 300000000, MinConfirmations: 1},
		{AmountLo: 300000000, AmountHi: 1 << 62, MinConfirmations: 6},
	}

	// Below the one-confirmation tier's ceiling, with only 1 confirmation:
	// confirmable immediately.
	instr, err := m.ProcessConfirmation(store.DB(), d, 100000000, 0, 0,
		map[string]interface{}{"Confirmations": float64(1)}, tiers, account, broker)
	if err != nil {
		t.Fatalf("ProcessConfirmation() error = %v", err)
	}
	if instr != nil {
		t.Errorf("expected nil instruction (no Instructions set), got %+v", instr)
	}
	if d.Status != storage.DepositStatusComplete {
		t.Fatalf("status = %d, want Complete", d.Status)
	}

	got, err := bal.Get(store.DB(), 2, 1, "BTC")
	if err != nil {
		t.Fatalf("Get balance: %v", err)
	}
	if got != 100000000 {
		t.Errorf("balance = %d, want 100000000", got)
	}
}

func TestProcessConfirmationWithholdsBelowThreshold(t *testing.T) {
	store, bal, m, cleanup := setupTestMachine(t)
	defer cleanup()

	account := ledger.Party{AccountID: 1, Name: "alice", BrokerID: 1, BrokerName: "hub"}
	broker := ledger.Party{AccountID: 1, Name: "hub", BrokerID: 1, BrokerName: "hub"}

	d, err := m.Create(store.DB(), 1, 1, 1, "CRY", "BTC", 0, "", "", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tiers := []ConfirmationTier{
		{AmountLo: 300000000, AmountHi: 1 << 62, MinConfirmations: 6},
	}

	// Large deposit needing 6 confirmations, only 1 seen so far.
	instr, err := m.ProcessConfirmation(store.DB(), d, 500000000, 0, 0,
		map[string]interface{}{"Confirmations": float64(1)}, tiers, account, broker)
	if err != nil {
		t.Fatalf("ProcessConfirmation() error = %v", err)
	}
	if instr != nil {
		t.Error("expected nil instruction while unconfirmed")
	}
	if d.Status == storage.DepositStatusComplete {
		t.Error("deposit should not be complete before enough confirmations")
	}

	got, err := bal.Get(store.DB(), 1, 1, "BTC")
	if err != nil {
		t.Fatalf("Get balance: %v", err)
	}
	if got != 0 {
		t.Errorf("balance = %d, want 0 (not yet credited)", got)
	}
}

func TestCancelReversesCompletedDeposit(t *testing.T) {
	store, bal, m, cleanup := setupTestMachine(t)
	defer cleanup()

	account := ledger.Party{AccountID: 1, Name: "alice", BrokerID: 1, BrokerName: "hub"}
	broker := ledger.Party{AccountID: 1, Name: "hub", BrokerID: 1, BrokerName: "hub"}

	d, err := m.Create(store.DB(), 1, 1, 1, "CRY", "BTC", 0, "", "", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := m.ProcessConfirmation(store.DB(), d, 100000000, 0, 0,
		map[string]interface{}{"Confirmations": float64(1)},
		[]ConfirmationTier{{AmountLo: 0, AmountHi: 1 << 62, MinConfirmations: 1}}, account, broker); err != nil {
		t.Fatalf("ProcessConfirmation() error = %v", err)
	}

	if err := m.Cancel(store.DB(), d, 2, "chargeback", account, broker); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if d.Status != storage.DepositStatusCancelled {
		t.Errorf("status = %d, want Cancelled", d.Status)
	}

	got, _ := bal.Get(store.DB(), 1, 1, "BTC")
	if got != 0 {
		t.Errorf("balance after reversal = %d, want 0", got)
	}
}
