package withdraw

import (
	"os"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/balance"
	"github.com/klingon-exchange/exchanged/internal/events"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
)

func setupTestMachine(t *testing.T) (*storage.Storage, *balance.Store, *Machine, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "exchanged-withdraw-test-*")
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
	m := New(store, led, bal, events.NopPublisher{})

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, bal, m, cleanup
}

func TestSetInProgressThenCompleteDebitsFeeTwice(t *testing.T) {
	store, bal, m, cleanup := setupTestMachine(t)
	defer cleanup()

	account := ledger.Party{AccountID: 2, Name: "alice", BrokerID: 1, BrokerName: "hub"}
	broker := ledger.Party{AccountID: 1, Name: "hub", BrokerID: 1, BrokerName: "hub"}

	if _, err := bal.Update(store.DB(), balance.Credit, 2, 1, "USD", 10000*100000000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	w, err := m.Create(store.DB(), 2, 2, 1, "alice", "hub", "USD", 100*100000000, "wire", "", "", 50, 0, false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if w.Status != storage.WithdrawStatusConfirmed {
		t.Fatalf("status after Create = %d, want Confirmed", w.Status)
	}

	if err := m.SetInProgress(store.DB(), w, account, broker, 1); err != nil {
		t.Fatalf("SetInProgress() error = %v", err)
	}
	if w.Status != storage.WithdrawStatusInProgress {
		t.Fatalf("status after SetInProgress = %d, want InProgress", w.Status)
	}

	afterInProgress, _ := bal.Get(store.DB(), 2, 1, "USD")
	// Principal only (w.Amount), not the fee, is debited here.
	wantAfterInProgress := int64(10000*100000000) - 100*100000000
	if afterInProgress != wantAfterInProgress {
		t.Errorf("balance after SetInProgress = %d, want %d", afterInProgress, wantAfterInProgress)
	}

	if err := m.SetAsComplete(store.DB(), w, account, broker, ""); err != nil {
		t.Fatalf("SetAsComplete() error = %v", err)
	}
	if w.Status != storage.WithdrawStatusComplete {
		t.Fatalf("status after SetAsComplete = %d, want Complete", w.Status)
	}

	afterComplete, _ := bal.Get(store.DB(), 2, 1, "USD")
	if afterComplete >= afterInProgress {
		t.Errorf("balance after SetAsComplete = %d, want strictly less than %d (fee leg settles separately)", afterComplete, afterInProgress)
	}
}

func TestSetInProgressInsufficientFundsAutoCancels(t *testing.T) {
	store, bal, m, cleanup := setupTestMachine(t)
	defer cleanup()

	account := ledger.Party{AccountID: 1, Name: "alice", BrokerID: 1, BrokerName: "hub"}
	broker := ledger.Party{AccountID: 1, Name: "hub", BrokerID: 1, BrokerName: "hub"}

	if _, err := bal.Update(store.DB(), balance.Credit, 1, 1, "USD", 10*100000000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	w, err := m.Create(store.DB(), 1, 1, 1, "alice", "hub", "USD", 100*100000000, "wire", "", "", 0, 0, false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := m.SetInProgress(store.DB(), w, account, broker, 7); err != nil {
		t.Fatalf("SetInProgress() error = %v", err)
	}
	if w.Status != storage.WithdrawStatusCancelled {
		t.Errorf("status = %d, want Cancelled", w.Status)
	}
	if w.ReasonID != 7 {
		t.Errorf("reason_id = %d, want 7", w.ReasonID)
	}
}

func TestCreateWithEmailConfirmStartsPending(t *testing.T) {
	store, _, m, cleanup := setupTestMachine(t)
	defer cleanup()

	w, err := m.Create(store.DB(), 1, 1, 1, "alice", "hub", "USD", 100*100000000, "wire", "", "", 0, 0, true)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if w.Status != storage.WithdrawStatusPending {
		t.Errorf("status = %d, want Pending", w.Status)
	}
	if w.ConfirmationToken == "" {
		t.Error("expected a non-empty confirmation token")
	}

	if err := m.UserConfirm(store.DB(), w, "wrong-token"); err != nil {
		t.Fatalf("UserConfirm(wrong token) error = %v", err)
	}
	if w.Status != storage.WithdrawStatusPending {
		t.Errorf("status after wrong token = %d, want still Pending", w.Status)
	}

	if err := m.UserConfirm(store.DB(), w, w.ConfirmationToken); err != nil {
		t.Fatalf("UserConfirm(token) error = %v", err)
	}
	if w.Status != storage.WithdrawStatusConfirmed {
		t.Errorf("status after correct token = %d, want Confirmed", w.Status)
	}
}
