package matching

import (
	"os"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/balance"
	"github.com/klingon-exchange/exchanged/internal/events"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
	"github.com/klingon-exchange/exchanged/internal/trade"
)

func setupTestMatcher(t *testing.T) (*storage.Storage, *balance.Store, *Matcher, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "exchanged-matching-test-*")
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
	recorder := trade.New(store, led)
	m := New(store, bal, recorder, events.NopPublisher{})

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, bal, m, cleanup
}

func mustBroker(t *testing.T, store *storage.Storage, id int64, name string) {
	t.Helper()
	if err := store.CreateBroker(store.DB(), &storage.Broker{
		ID: id, ShortName: name, Status: "1", IsBrokerHub: true,
	}); err != nil {
		t.Fatalf("CreateBroker: %v", err)
	}
}

func fundAccount(t *testing.T, bal *balance.Store, store *storage.Storage, accountID, brokerID int64, currency string, amount int64) {
	t.Helper()
	if _, err := bal.Update(store.DB(), balance.Credit, accountID, brokerID, currency, amount); err != nil {
		t.Fatalf("fund account: %v", err)
	}
}

func TestPlaceOrderCrossesAndFills(t *testing.T) {
	store, bal, m, cleanup := setupTestMatcher(t)
	defer cleanup()
	mustBroker(t, store, 1, "hub")

	fundAccount(t, bal, store, 2, 1, "BTC", 100000000) // 1 BTC seller
	fundAccount(t, bal, store, 3, 1, "USD", 50000*100000000)

	sell := NewOrder(2, 2, 1, "BTCUSD", storage.SideSell, storage.OrderTypeLimit, "0", 50000*100000000, 100000000)
	sell.Username, sell.AccountUsername, sell.BrokerUsername = "seller", "seller", "hub"
	if _, _, err := m.PlaceOrder(sell); err != nil {
		t.Fatalf("PlaceOrder(sell) error = %v", err)
	}

	buy := NewOrder(3, 3, 1, "BTCUSD", storage.SideBuy, storage.OrderTypeLimit, "0", 50000*100000000, 100000000)
	buy.Username, buy.AccountUsername, buy.BrokerUsername = "buyer", "buyer", "hub"
	result, trades, err := m.PlaceOrder(buy)
	if err != nil {
		t.Fatalf("PlaceOrder(buy) error = %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if result.Status != storage.OrderStatusFilled {
		t.Errorf("buy order status = %s, want %s", result.Status, storage.OrderStatusFilled)
	}
	if result.LeavesQty != 0 {
		t.Errorf("buy order leaves_qty = %d, want 0", result.LeavesQty)
	}

	sellerBTC, _ := bal.Get(store.DB(), 2, 1, "BTC")
	if sellerBTC != 0 {
		t.Errorf("seller BTC balance = %d, want 0", sellerBTC)
	}
	buyerBTC, _ := bal.Get(store.DB(), 3, 1, "BTC")
	if buyerBTC <= 0 {
		t.Errorf("buyer BTC balance = %d, want > 0", buyerBTC)
	}
}

func TestPlaceOrderCapsToSelfAffordability(t *testing.T) {
	store, bal, m, cleanup := setupTestMatcher(t)
	defer cleanup()
	mustBroker(t, store, 1, "hub")

	// Seller only has 0.5 BTC despite placing an order for 1 BTC.
	fundAccount(t, bal, store, 2, 1, "BTC", 50000000)

	sell := NewOrder(2, 2, 1, "BTCUSD", storage.SideSell, storage.OrderTypeLimit, "0", 50000*100000000, 100000000)
	sell.Username, sell.AccountUsername, sell.BrokerUsername = "seller", "seller", "hub"

	result, _, err := m.PlaceOrder(sell)
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if result.OrderQty != 50000000 {
		t.Errorf("order_qty after affordability cap = %d, want 50000000", result.OrderQty)
	}
}

func TestPlaceOrderRejectsZeroAffordability(t *testing.T) {
	store, _, m, cleanup := setupTestMatcher(t)
	defer cleanup()
	mustBroker(t, store, 1, "hub")

	sell := NewOrder(2, 2, 1, "BTCUSD", storage.SideSell, storage.OrderTypeLimit, "0", 50000*100000000, 100000000)
	sell.Username, sell.AccountUsername, sell.BrokerUsername = "seller", "seller", "hub"

	if _, _, err := m.PlaceOrder(sell); err != ErrRejected {
		t.Fatalf("PlaceOrder() error = %v, want ErrRejected", err)
	}
}

func TestCancelOrderMovesLeavesToCancelled(t *testing.T) {
	store, bal, m, cleanup := setupTestMatcher(t)
	defer cleanup()
	mustBroker(t, store, 1, "hub")
	fundAccount(t, bal, store, 2, 1, "BTC", 100000000)

	sell := NewOrder(2, 2, 1, "BTCUSD", storage.SideSell, storage.OrderTypeLimit, "0", 50000*100000000, 100000000)
	sell.Username, sell.AccountUsername, sell.BrokerUsername = "seller", "seller", "hub"
	order, _, err := m.PlaceOrder(sell)
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	if err := m.CancelOrder(order); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if order.Status != storage.OrderStatusCancelled {
		t.Errorf("status = %s, want %s", order.Status, storage.OrderStatusCancelled)
	}
	if order.LeavesQty != 0 || order.CxlQty != order.OrderQty {
		t.Errorf("leaves_qty=%d cxl_qty=%d, want leaves_qty=0 cxl_qty=%d", order.LeavesQty, order.CxlQty, order.OrderQty)
	}
}
