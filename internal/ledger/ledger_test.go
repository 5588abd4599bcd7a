package ledger

import (
	"os"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/balance"
	"github.com/klingon-exchange/exchanged/internal/storage"
)

func setupTestLedger(t *testing.T) (*storage.Storage, *balance.Store, *Ledger, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "exchanged-ledger-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}

	bal := balance.New(store, nil)
	l := New(store, bal)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, bal, l, cleanup
}

func TestTransferMovesBalanceBothWays(t *testing.T) {
	store, bal, l, cleanup := setupTestLedger(t)
	defer cleanup()

	from := Party{AccountID: 1, Name: "alice", BrokerID: 1, BrokerName: "hub"}
	to := Party{AccountID: 2, Name: "bob", BrokerID: 1, BrokerName: "hub"}

	if _, err := bal.Update(store.DB(), balance.Credit, from.AccountID, from.BrokerID, "USD", 10000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	if err := l.Transfer(store.DB(), "USD", from, to, 4000, "ref-1", DescBonus); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	fromBal, err := bal.Get(store.DB(), from.AccountID, from.BrokerID, "USD")
	if err != nil {
		t.Fatalf("Get(from): %v", err)
	}
	toBal, err := bal.Get(store.DB(), to.AccountID, to.BrokerID, "USD")
	if err != nil {
		t.Fatalf("Get(to): %v", err)
	}

	if fromBal != 6000 {
		t.Errorf("from balance = %d, want 6000", fromBal)
	}
	if toBal != 4000 {
		t.Errorf("to balance = %d, want 4000", toBal)
	}
}

func TestTransferPostingsNetToZero(t *testing.T) {
	store, bal, l, cleanup := setupTestLedger(t)
	defer cleanup()

	from := Party{AccountID: 1, Name: "alice", BrokerID: 1, BrokerName: "hub"}
	to := Party{AccountID: 2, Name: "bob", BrokerID: 1, BrokerName: "hub"}

	if _, err := bal.Update(store.DB(), balance.Credit, from.AccountID, from.BrokerID, "USD", 10000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := l.Transfer(store.DB(), "USD", from, to, 2500, "ref-zero-sum", DescBonus); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	entries, err := store.ListLedgerEntriesByReference(store.DB(), "ref-zero-sum")
	if err != nil {
		t.Fatalf("ListLedgerEntriesByReference: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 postings, got %d", len(entries))
	}

	var sum int64
	for _, e := range entries {
		if e.Operation == storage.LedgerCredit {
			sum += e.Amount
		} else {
			sum -= e.Amount
		}
	}
	if sum != 0 {
		t.Errorf("postings for reference did not net to zero: %d", sum)
	}
}

func TestExecuteOrderSplitsNotionalAndFees(t *testing.T) {
	store, bal, l, cleanup := setupTestLedger(t)
	defer cleanup()

	buyerParty := Party{AccountID: 3, Name: "buyer", BrokerID: 1, BrokerName: "hub"}
	sellerParty := Party{AccountID: 2, Name: "seller", BrokerID: 1, BrokerName: "hub"}

	if _, err := bal.Update(store.DB(), balance.Credit, buyerParty.AccountID, buyerParty.BrokerID, "USD", 100000000000); err != nil {
		t.Fatalf("seed buyer USD: %v", err)
	}
	if _, err := bal.Update(store.DB(), balance.Credit, sellerParty.AccountID, sellerParty.BrokerID, "BTC", 100000000); err != nil {
		t.Fatalf("seed seller BTC: %v", err)
	}

	buyer := Side{Party: buyerParty, IsBuyer: true, FeeBps: 20}
	seller := Side{Party: sellerParty, IsBuyer: false, FeeBps: 20}

	// price 50000 USD/BTC (pip-scaled), qty 1 BTC (pip-scaled).
	if err := ExecuteOrder(l, store.DB(), "BTCUSD", buyer, seller, 100000000, 50000*100000000, "trade-1"); err != nil {
		t.Fatalf("ExecuteOrder() error = %v", err)
	}

	buyerBTC, _ := bal.Get(store.DB(), buyerParty.AccountID, buyerParty.BrokerID, "BTC")
	sellerUSD, _ := bal.Get(store.DB(), sellerParty.AccountID, sellerParty.BrokerID, "USD")

	// Buyer receives 1 BTC, then pays a 0.2% fee in BTC, so nets below 1 BTC.
	if buyerBTC <= 0 || buyerBTC >= 100000000 {
		t.Errorf("buyer BTC balance after fee = %d, want in (0, 100000000)", buyerBTC)
	}
	// Seller receives the notional in USD, then pays a 0.2% fee in USD.
	if sellerUSD <= 0 || sellerUSD >= 50000*100000000 {
		t.Errorf("seller USD balance after fee = %d, want in (0, %d)", sellerUSD, 50000*100000000)
	}
}
