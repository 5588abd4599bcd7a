package address

import (
	"testing"

	"github.com/klingon-exchange/exchanged/internal/chain"
)

func TestValidateBitcoinMainnetAddresses(t *testing.T) {
	cases := []struct {
		name string
		addr string
		want bool
	}{
		{"legacy P2PKH", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", true},
		{"P2SH", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", true},
		{"bech32 P2WPKH", "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", true},
		{"garbage", "not-a-bitcoin-address", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate("BTC", chain.Mainnet, tc.addr)
			if (err == nil) != tc.want {
				t.Errorf("Validate(%q) error = %v, want valid=%v", tc.addr, err, tc.want)
			}
		})
	}
}

func TestValidateEVMAddresses(t *testing.T) {
	cases := []struct {
		name string
		addr string
		want bool
	}{
		{"all lowercase", "0x5aeda56215b167893e80b4fe645ba6d5bab767de", true},
		{"valid checksum", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"bad checksum", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1Beaed", false},
		{"not hex", "0xzzzz", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate("ETH", chain.Mainnet, tc.addr)
			if (err == nil) != tc.want {
				t.Errorf("Validate(%q) error = %v, want valid=%v", tc.addr, err, tc.want)
			}
		})
	}
}

func TestValidateUnsupportedChain(t *testing.T) {
	if err := Validate("NOPE", chain.Mainnet, "whatever"); err == nil {
		t.Error("expected an error for an uncatalogued symbol")
	}
}

func TestClassify(t *testing.T) {
	if got := Classify("BTC", chain.Mainnet, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"); got != KindBitcoinLike {
		t.Errorf("Classify(BTC) = %v, want %v", got, KindBitcoinLike)
	}
	if got := Classify("ETH", chain.Mainnet, "0x5aeda56215b167893e80b4fe645ba6d5bab767de"); got != KindEVM {
		t.Errorf("Classify(ETH) = %v, want %v", got, KindEVM)
	}
	if got := Classify("NOPE", chain.Mainnet, "x"); got != KindUnknown {
		t.Errorf("Classify(unsupported) = %v, want %v", got, KindUnknown)
	}
}

func TestNormalizeLowercasesEVMOnly(t *testing.T) {
	evm := Normalize("ETH", chain.Mainnet, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	if evm != "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed" {
		t.Errorf("Normalize(ETH) = %q, want lowercased", evm)
	}

	btcAddr := "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	if got := Normalize("BTC", chain.Mainnet, btcAddr); got != btcAddr {
		t.Errorf("Normalize(BTC) = %q, want unchanged %q", got, btcAddr)
	}
}

// the BIP-32 spec's test vector 1 master xpub — a known-good public
// extended key with no corresponding live funds.
const testVectorXpub = "xpub661MyMwAqkbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

func TestDeriveWatchAddressBitcoinIsDeterministicAndValid(t *testing.T) {
	addr1, err := DeriveWatchAddress("BTC", chain.Mainnet, testVectorXpub, 7)
	if err != nil {
		t.Fatalf("DeriveWatchAddress() error = %v", err)
	}
	addr2, err := DeriveWatchAddress("BTC", chain.Mainnet, testVectorXpub, 7)
	if err != nil {
		t.Fatalf("DeriveWatchAddress() error = %v", err)
	}
	if addr1 != addr2 {
		t.Errorf("DeriveWatchAddress() not deterministic: %q != %q", addr1, addr2)
	}
	if err := Validate("BTC", chain.Mainnet, addr1); err != nil {
		t.Errorf("Validate(derived address) error = %v", err)
	}

	addr3, err := DeriveWatchAddress("BTC", chain.Mainnet, testVectorXpub, 8)
	if err != nil {
		t.Fatalf("DeriveWatchAddress() error = %v", err)
	}
	if addr1 == addr3 {
		t.Errorf("DeriveWatchAddress() at different indexes produced the same address %q", addr1)
	}
}

func TestDeriveWatchAddressEVM(t *testing.T) {
	addr, err := DeriveWatchAddress("ETH", chain.Mainnet, testVectorXpub, 0)
	if err != nil {
		t.Fatalf("DeriveWatchAddress() error = %v", err)
	}
	if err := Validate("ETH", chain.Mainnet, addr); err != nil {
		t.Errorf("Validate(derived address) error = %v", err)
	}
}

func TestDeriveWatchAddressRejectsPrivateKey(t *testing.T) {
	// The BIP-32 spec's test vector 1 master xprv — deriving a watch
	// address must refuse a private extended key outright.
	const xprv = "xprv9s21ZrQH143K3QTDL4LXw2F7HEK3wJUD2nW2nRk4stbPy6cq3jPTfNLPEcwYvJqcxYzfs5QpyK5vLxAd1PbfbpsW2CwxqxC2JCRrU8c9iK2"
	if _, err := DeriveWatchAddress("BTC", chain.Mainnet, xprv, 0); err == nil {
		t.Error("expected an error deriving from a private extended key")
	}
}

func TestDeriveWatchAddressUnsupportedChain(t *testing.T) {
	if _, err := DeriveWatchAddress("NOPE", chain.Mainnet, testVectorXpub, 0); err == nil {
		t.Error("expected an error for an uncatalogued symbol")
	}
}
