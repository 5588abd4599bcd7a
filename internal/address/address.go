// Package address validates and classifies deposit/withdraw addresses
// for the chains internal/chain catalogues. It is watch-only: nothing
// here derives or touches a private key, signs, or broadcasts — address
// custody is out of scope entirely.
package address

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/exchanged/internal/chain"
)

// Kind classifies an address's encoding family.
type Kind string

const (
	KindBitcoinLike Kind = "bitcoin"
	KindEVM         Kind = "evm"
	KindUnknown     Kind = "unknown"
)

// ErrUnsupportedChain is returned for a symbol internal/chain doesn't catalogue.
var ErrUnsupportedChain = fmt.Errorf("address: unsupported chain")

// ErrInvalidAddress is returned when an address fails validation for its chain.
var ErrInvalidAddress = fmt.Errorf("address: invalid address for chain")

// Validate checks that address is well-formed for symbol/network, for
// binding a deposit instruction to an address. It never contacts the
// network — purely syntactic/checksum validation.
func Validate(symbol string, network chain.Network, addr string) error {
	params, ok := chain.Get(symbol, network)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChain, symbol)
	}

	switch params.Type {
	case chain.ChainTypeBitcoin:
		if !validateBitcoinLike(addr, params) {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
		}
		return nil
	case chain.ChainTypeEVM:
		if !validateEVM(addr) {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
		}
		return nil
	default:
		// Chains without a Go-side validator (Monero, Solana) are
		// accepted as opaque strings; the broker's deposit instruction
		// interpreter (internal/deposit) is the actual gate.
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("%w: empty address", ErrInvalidAddress)
		}
		return nil
	}
}

// Classify reports which address family a validated address belongs to.
func Classify(symbol string, network chain.Network, addr string) Kind {
	params, ok := chain.Get(symbol, network)
	if !ok {
		return KindUnknown
	}
	switch params.Type {
	case chain.ChainTypeBitcoin:
		return KindBitcoinLike
	case chain.ChainTypeEVM:
		return KindEVM
	default:
		return KindUnknown
	}
}

// Normalize canonicalizes an address for storage/comparison: EVM
// addresses are lower-cased (checksum is re-derivable on read), Bitcoin-
// family addresses are left as-is since case carries meaning in Bech32.
func Normalize(symbol string, network chain.Network, addr string) string {
	params, ok := chain.Get(symbol, network)
	if ok && params.Type == chain.ChainTypeEVM {
		return strings.ToLower(addr)
	}
	return addr
}

// ErrWatchDerivationUnsupported is returned when a chain has no
// watch-address derivation path (e.g. Monero, Solana).
var ErrWatchDerivationUnsupported = fmt.Errorf("address: watch-address derivation unsupported for chain")

// DeriveWatchAddress derives the deposit address at index from an
// account-level extended public key, so a broker can hand a depositor a
// receive address per deposit without the core ever holding the matching
// private key. xpub must be a public (not private) extended key; deriving
// from it only walks non-hardened steps, which is all a watch-only xpub
// supports.
func DeriveWatchAddress(symbol string, network chain.Network, xpub string, index uint32) (string, error) {
	params, ok := chain.Get(symbol, network)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChain, symbol)
	}

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return "", fmt.Errorf("address: invalid extended public key: %w", err)
	}
	if key.IsPrivate() {
		return "", fmt.Errorf("address: expected an extended public key, got a private key")
	}

	switch params.Type {
	case chain.ChainTypeBitcoin:
		return deriveBitcoinWatchAddress(key, index, params)
	case chain.ChainTypeEVM:
		return deriveEVMWatchAddress(key, index)
	default:
		return "", fmt.Errorf("%w: %s", ErrWatchDerivationUnsupported, symbol)
	}
}

// deriveBitcoinWatchAddress walks the external (receive) chain at m/0/index
// from an account-level xpub and encodes the resulting key the way the
// chain's DefaultAddressType prescribes.
func deriveBitcoinWatchAddress(key *hdkeychain.ExtendedKey, index uint32, params *chain.Params) (string, error) {
	external, err := key.Derive(0)
	if err != nil {
		return "", fmt.Errorf("address: failed to derive external chain: %w", err)
	}
	child, err := external.Derive(index)
	if err != nil {
		return "", fmt.Errorf("address: failed to derive index %d: %w", index, err)
	}
	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("address: failed to recover public key: %w", err)
	}

	cfgParams := toChainCfgParams(params)
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	if params.SupportsSegWit {
		addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, cfgParams)
		if err != nil {
			return "", fmt.Errorf("address: failed to encode witness address: %w", err)
		}
		return addr.EncodeAddress(), nil
	}
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, cfgParams)
	if err != nil {
		return "", fmt.Errorf("address: failed to encode address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// deriveEVMWatchAddress derives child index from an account-level xpub and
// returns its EIP-55 checksummed address.
func deriveEVMWatchAddress(key *hdkeychain.ExtendedKey, index uint32) (string, error) {
	child, err := key.Derive(index)
	if err != nil {
		return "", fmt.Errorf("address: failed to derive index %d: %w", index, err)
	}
	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("address: failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey.ToECDSA()).Hex(), nil
}

func validateBitcoinLike(addr string, params *chain.Params) bool {
	cfgParams := toChainCfgParams(params)
	_, err := btcutil.DecodeAddress(addr, cfgParams)
	return err == nil
}

func validateEVM(addr string) bool {
	if !common.IsHexAddress(addr) {
		return false
	}
	// Reject mixed-case input that fails the EIP-55 checksum — an
	// all-lowercase or all-uppercase address is unambiguous and passes.
	if hasMixedCase(addr) {
		return addr == common.HexToAddress(addr).Hex()
	}
	return true
}

func hasMixedCase(addr string) bool {
	body := strings.TrimPrefix(addr, "0x")
	hasLower, hasUpper := false, false
	for _, r := range body {
		switch {
		case r >= 'a' && r <= 'f':
			hasLower = true
		case r >= 'A' && r <= 'F':
			hasUpper = true
		}
	}
	return hasLower && hasUpper
}

// toChainCfgParams adapts internal/chain's Params to btcd's chaincfg.Params
// for address decoding.
func toChainCfgParams(params *chain.Params) *chaincfg.Params {
	hdPrivateKeyID := params.HDPrivateKeyID
	hdPublicKeyID := params.HDPublicKeyID
	if hdPrivateKeyID == [4]byte{} {
		hdPrivateKeyID = [4]byte{0x04, 0x88, 0xad, 0xe4}
	}
	if hdPublicKeyID == [4]byte{} {
		hdPublicKeyID = [4]byte{0x04, 0x88, 0xb2, 0x1e}
	}
	return &chaincfg.Params{
		Name:                    params.Name,
		PubKeyHashAddrID:        params.PubKeyHashAddrID,
		ScriptHashAddrID:        params.ScriptHashAddrID,
		WitnessPubKeyHashAddrID: params.WitnessPubKeyHashAddrID,
		WitnessScriptHashAddrID: params.WitnessScriptHashAddrID,
		Bech32HRPSegwit:         params.Bech32HRP,
		HDPrivateKeyID:          hdPrivateKeyID,
		HDPublicKeyID:           hdPublicKeyID,
	}
}
