package storage

import (
	"os"
	"testing"
	"time"
)

func setupTestStorage(t *testing.T) (*Storage, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "exchanged-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("New() error = %v", err)
	}
	return store, func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestBrokerCreateAndGet(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	b := &Broker{
		ID: 1, ShortName: "hub", Status: "1", IsBrokerHub: true,
		TransactionFeeBuy: 20, TransactionFeeSell: 20,
	}
	if err := store.CreateBroker(store.DB(), b); err != nil {
		t.Fatalf("CreateBroker() error = %v", err)
	}

	got, err := store.GetBroker(store.DB(), 1)
	if err != nil {
		t.Fatalf("GetBroker() error = %v", err)
	}
	if got.ShortName != "hub" || got.TransactionFeeBuy != 20 {
		t.Errorf("GetBroker() = %+v, want ShortName=hub TransactionFeeBuy=20", got)
	}

	if _, err := store.GetBroker(store.DB(), 999); err == nil {
		t.Error("expected an error for an unknown broker id")
	}
}

func TestUserCRUD(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	u := &User{
		Username: "alice", Email: "alice@example.com",
		PasswordHash: "hash", PasswordAlgo: "bcrypt",
		BrokerID: 1, CountryCode: "US", State: "CA",
		Created: time.Now(), LastLogin: time.Now(),
	}
	if err := store.CreateUser(store.DB(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if u.ID == 0 {
		t.Fatal("expected CreateUser to assign a nonzero id")
	}

	byUsername, err := store.GetUserByUsername(store.DB(), "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if byUsername.ID != u.ID {
		t.Errorf("GetUserByUsername() id = %d, want %d", byUsername.ID, u.ID)
	}

	byEmail, err := store.GetUserByEmail(store.DB(), "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if byEmail.ID != u.ID {
		t.Errorf("GetUserByEmail() id = %d, want %d", byEmail.ID, u.ID)
	}

	u.Verified = 2
	if err := store.UpdateUser(store.DB(), u); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	reloaded, err := store.GetUser(store.DB(), u.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if reloaded.Verified != 2 {
		t.Errorf("Verified after update = %d, want 2", reloaded.Verified)
	}
}

func TestOrderCreateUpdateAndFilter(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	o := &Order{
		UserID: 1, AccountID: 1, BrokerID: 1, Symbol: "BTCUSD",
		Side: SideBuy, Type: OrderTypeLimit, Status: OrderStatusNew,
		Price: 50000 * 100000000, OrderQty: 100000000, LeavesQty: 100000000,
		Username: "alice", AccountUsername: "alice", BrokerUsername: "hub",
		Created: time.Now(),
	}
	if err := store.CreateOrder(store.DB(), o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if o.ID == 0 {
		t.Fatal("expected CreateOrder to assign a nonzero id")
	}

	o.Status = OrderStatusFilled
	o.LeavesQty = 0
	o.CumQty = o.OrderQty
	if err := store.UpdateOrder(store.DB(), o); err != nil {
		t.Fatalf("UpdateOrder() error = %v", err)
	}

	got, err := store.GetOrder(store.DB(), o.ID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.Status != OrderStatusFilled || got.LeavesQty != 0 {
		t.Errorf("GetOrder() after update = %+v, want Status=Filled LeavesQty=0", got)
	}

	accountID := int64(1)
	results, err := store.ListOrders(store.DB(), OrderFilter{AccountID: &accountID, Symbol: "BTCUSD"})
	if err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != o.ID {
		t.Errorf("ListOrders() = %+v, want exactly the one order just created", results)
	}
}

func TestTradeCreateAndList(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	trade := &Trade{
		ID: "trade-1", OrderID: 1, CounterOrderID: 2,
		BuyerUsername: "alice", SellerUsername: "bob",
		Side: SideBuy, Symbol: "BTCUSD", Size: 100000000,
		Price: 50000 * 100000000, Created: time.Now(), TradeType: "0",
	}
	if err := store.CreateTrade(store.DB(), trade); err != nil {
		t.Fatalf("CreateTrade() error = %v", err)
	}

	got, err := store.GetTrade(store.DB(), "trade-1")
	if err != nil {
		t.Fatalf("GetTrade() error = %v", err)
	}
	if got.Symbol != "BTCUSD" || got.Size != 100000000 {
		t.Errorf("GetTrade() = %+v, want Symbol=BTCUSD Size=100000000", got)
	}

	byOrder, err := store.ListTradesByOrder(store.DB(), 1)
	if err != nil {
		t.Fatalf("ListTradesByOrder() error = %v", err)
	}
	if len(byOrder) != 1 {
		t.Errorf("ListTradesByOrder() len = %d, want 1", len(byOrder))
	}

	bySymbol, err := store.ListTradesBySymbol(store.DB(), "BTCUSD", 10)
	if err != nil {
		t.Fatalf("ListTradesBySymbol() error = %v", err)
	}
	if len(bySymbol) != 1 {
		t.Errorf("ListTradesBySymbol() len = %d, want 1", len(bySymbol))
	}
}

func TestCurrencyAndInstrumentCRUD(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	c := &Currency{Code: "BTC", Sign: "BTC", Description: "Bitcoin", IsCrypto: true, Pip: 100000000, FormatPrecision: 8}
	if err := store.CreateCurrency(store.DB(), c); err != nil {
		t.Fatalf("CreateCurrency() error = %v", err)
	}
	got, err := store.GetCurrency(store.DB(), "BTC")
	if err != nil {
		t.Fatalf("GetCurrency() error = %v", err)
	}
	if got.Description != "Bitcoin" {
		t.Errorf("GetCurrency().Description = %q, want Bitcoin", got.Description)
	}

	i := &Instrument{Symbol: "BTCUSD", QuoteCurrency: "USD", Description: "Bitcoin / US Dollar"}
	if err := store.CreateInstrument(store.DB(), i); err != nil {
		t.Fatalf("CreateInstrument() error = %v", err)
	}
	gotInstr, err := store.GetInstrument(store.DB(), "BTCUSD")
	if err != nil {
		t.Fatalf("GetInstrument() error = %v", err)
	}
	if gotInstr.QuoteCurrency != "USD" {
		t.Errorf("GetInstrument().QuoteCurrency = %q, want USD", gotInstr.QuoteCurrency)
	}

	list, err := store.ListCurrencies(store.DB())
	if err != nil {
		t.Fatalf("ListCurrencies() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListCurrencies() len = %d, want 1", len(list))
	}
}
