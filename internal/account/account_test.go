package account

import (
	"os"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/balance"
	"github.com/klingon-exchange/exchanged/internal/events"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
)

func setupTestManager(t *testing.T) (*storage.Storage, *balance.Store, *Manager, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "exchanged-account-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}
	if err := store.CreateBroker(store.DB(), &storage.Broker{ID: 1, ShortName: "hub", Status: "1", IsBrokerHub: true}); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("CreateBroker: %v", err)
	}

	bal := balance.New(store, nil)
	led := ledger.New(store, bal)
	m := New(store, led, events.NopPublisher{})

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, bal, m, cleanup
}

func TestSignupAndAuthenticate(t *testing.T) {
	store, _, m, cleanup := setupTestManager(t)
	defer cleanup()

	u, err := m.Signup(store.DB(), "Alice", "Alice@Example.com", "hunter2", "CA", "US", 1)
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if u.Username != "alice" || u.Email != "alice@example.com" {
		t.Errorf("Signup did not normalize username/email: %q %q", u.Username, u.Email)
	}

	if _, err := m.Signup(store.DB(), "alice", "other@example.com", "x", "CA", "US", 1); err != ErrUserExists {
		t.Errorf("duplicate username Signup() error = %v, want ErrUserExists", err)
	}

	authed, err := m.Authenticate(store.DB(), "alice", "hunter2", "")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if authed.ID != u.ID {
		t.Errorf("authenticated user id = %d, want %d", authed.ID, u.ID)
	}

	if _, err := m.Authenticate(store.DB(), "alice", "wrong-password", ""); err != ErrInvalidCredentials {
		t.Errorf("bad password Authenticate() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestEnableTwoFactorRequiresConfirmingCode(t *testing.T) {
	store, _, m, cleanup := setupTestManager(t)
	defer cleanup()

	u, err := m.Signup(store.DB(), "bob", "bob@example.com", "hunter2", "CA", "US", 1)
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	secret, err := m.EnableTwoFactor(store.DB(), u, true, "", "")
	if err != nil {
		t.Fatalf("EnableTwoFactor(generate) error = %v", err)
	}
	if secret == "" {
		t.Fatal("expected a generated secret")
	}
	if u.TwoFactorEnabled {
		t.Error("two-factor should not be enabled until a confirming code is supplied")
	}

	// A bogus confirming code must not enable two-factor.
	if _, err := m.EnableTwoFactor(store.DB(), u, true, secret, "000000"); err != nil {
		t.Fatalf("EnableTwoFactor(bad code) error = %v", err)
	}
	if u.TwoFactorEnabled {
		t.Error("two-factor should not be enabled by a wrong code")
	}

	if _, err := m.Authenticate(store.DB(), "bob", "hunter2", ""); err != nil {
		t.Fatalf("Authenticate() without two-factor enabled should succeed, error = %v", err)
	}
}

func TestSetVerifiedTierTwoCreditsBonus(t *testing.T) {
	store, bal, m, cleanup := setupTestManager(t)
	defer cleanup()

	u, err := m.Signup(store.DB(), "carol", "carol@example.com", "hunter2", "CA", "US", 1)
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	changed, err := m.SetVerified(store.DB(), u, 2, "")
	if err != nil {
		t.Fatalf("SetVerified() error = %v", err)
	}
	if !changed {
		t.Fatal("expected SetVerified to report a change")
	}

	got, err := bal.Get(store.DB(), u.ID, u.BrokerID, verificationBonusCurrency)
	if err != nil {
		t.Fatalf("Get balance: %v", err)
	}
	if got != verificationBonusAmount {
		t.Errorf("bonus balance = %d, want %d", got, verificationBonusAmount)
	}

	// Re-applying the same tier is a no-op and must not re-credit.
	changed, err = m.SetVerified(store.DB(), u, 2, "")
	if err != nil {
		t.Fatalf("SetVerified() (repeat) error = %v", err)
	}
	if changed {
		t.Error("expected no-op for an unchanged tier")
	}
	got2, _ := bal.Get(store.DB(), u.ID, u.BrokerID, verificationBonusCurrency)
	if got2 != got {
		t.Errorf("balance changed on repeat SetVerified: %d -> %d", got, got2)
	}
}
