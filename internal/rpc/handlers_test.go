package rpc

import (
	"context"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/backend"
	"github.com/klingon-exchange/exchanged/internal/storage"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

func TestDeriveDepositAddressUsesConfiguredXpub(t *testing.T) {
	s := &Server{}

	addr, err := s.deriveDepositAddress("BTC", 42)
	if err != nil {
		t.Fatalf("deriveDepositAddress() error = %v", err)
	}
	if addr == "" {
		t.Fatal("deriveDepositAddress() returned an empty address")
	}

	other, err := s.deriveDepositAddress("BTC", 43)
	if err != nil {
		t.Fatalf("deriveDepositAddress() error = %v", err)
	}
	if addr == other {
		t.Errorf("deriveDepositAddress() for two accounts returned the same address %q", addr)
	}
}

func TestDeriveDepositAddressUncatalogued(t *testing.T) {
	s := &Server{}
	if _, err := s.deriveDepositAddress("NOPE", 1); err == nil {
		t.Error("expected an error for a currency with no catalogued xpub")
	}
}

// fakeBackend is a minimal backend.Backend that only GetTransaction needs
// to answer meaningfully.
type fakeBackend struct {
	confirmations int64
}

func (f *fakeBackend) Type() backend.Type                { return backend.TypeMempool }
func (f *fakeBackend) Connect(ctx context.Context) error  { return nil }
func (f *fakeBackend) Close() error                       { return nil }
func (f *fakeBackend) IsConnected() bool                  { return true }
func (f *fakeBackend) GetAddressInfo(ctx context.Context, address string) (*backend.AddressInfo, error) {
	return nil, nil
}
func (f *fakeBackend) GetAddressUTXOs(ctx context.Context, address string) ([]backend.UTXO, error) {
	return nil, nil
}
func (f *fakeBackend) GetAddressTxs(ctx context.Context, address, lastSeenTxID string) ([]backend.Transaction, error) {
	return nil, nil
}
func (f *fakeBackend) GetTransaction(ctx context.Context, txID string) (*backend.Transaction, error) {
	return &backend.Transaction{TxID: txID, Confirmed: f.confirmations > 0, Confirmations: f.confirmations}, nil
}
func (f *fakeBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	return "", nil
}
func (f *fakeBackend) GetBlockHeight(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeBackend) GetBlockHeader(ctx context.Context, hashOrHeight string) (*backend.BlockHeader, error) {
	return nil, nil
}
func (f *fakeBackend) GetFeeEstimates(ctx context.Context) (*backend.FeeEstimate, error) {
	return nil, nil
}

func TestChainConfirmationsSourcesFromRegisteredBackend(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register("BTC", &fakeBackend{confirmations: 3})
	s := &Server{backends: reg, log: logging.GetDefault().Component("test")}

	d := &storage.Deposit{ID: "dep-1", Type: "CRY", Currency: "BTC", TxID: "abc123"}
	confirmations, ok := s.chainConfirmations(context.Background(), d)
	if !ok {
		t.Fatal("chainConfirmations() ok = false, want true")
	}
	if confirmations != 3 {
		t.Errorf("chainConfirmations() = %d, want 3", confirmations)
	}
}

func TestChainConfirmationsFallsBackWithoutBackendOrTxID(t *testing.T) {
	s := &Server{log: logging.GetDefault().Component("test")}

	if _, ok := s.chainConfirmations(context.Background(), &storage.Deposit{Type: "CRY", Currency: "BTC", TxID: "abc"}); ok {
		t.Error("chainConfirmations() ok = true with no backend registry, want false")
	}

	reg := backend.NewRegistry()
	reg.Register("BTC", &fakeBackend{confirmations: 3})
	s.backends = reg

	if _, ok := s.chainConfirmations(context.Background(), &storage.Deposit{Type: "CRY", Currency: "BTC"}); ok {
		t.Error("chainConfirmations() ok = true with no reported txid, want false")
	}
	if _, ok := s.chainConfirmations(context.Background(), &storage.Deposit{Type: "CRY", Currency: "ETH", TxID: "abc"}); ok {
		t.Error("chainConfirmations() ok = true for a currency with no registered backend, want false")
	}
	if _, ok := s.chainConfirmations(context.Background(), &storage.Deposit{Type: "FIAT", Currency: "BTC", TxID: "abc"}); ok {
		t.Error("chainConfirmations() ok = true for a non-CRY deposit, want false")
	}
}
