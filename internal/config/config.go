// Package config provides centralized configuration for the exchange
// core. ALL exchange parameters (currencies, instruments, broker
// bootstrap records, fee defaults) MUST be defined here. No hardcoded
// values should exist elsewhere in the codebase.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Currency catalogue
// =============================================================================

// CurrencyDef is a catalogued currency's static properties.
type CurrencyDef struct {
	Code            string
	Sign            string
	Description     string
	IsCrypto        bool
	Pip             int64 // default denominator; overridden by satoshi_mode for some currencies
	SatoshiModePip  int64 // pip used when the host runs in satoshi_mode; 0 means "same as Pip"
	FormatPrecision int
}

// Currencies defines the default catalogue. satoshi_mode changes a
// handful of pip denominators — e.g. USD from 10^8 to 100, BTC from
// 10^8 to 10^4 — to model pre-existing installations that stored
// balances in smaller integer units.
var Currencies = map[string]CurrencyDef{
	"USD": {Code: "USD", Sign: "$", Description: "US Dollar", IsCrypto: false, Pip: 100000000, SatoshiModePip: 100, FormatPrecision: 2},
	"VEF": {Code: "VEF", Sign: "Bs", Description: "Venezuelan Bolivar", IsCrypto: false, Pip: 100000000, FormatPrecision: 2},
	"BTC": {Code: "BTC", Sign: "BTC", Description: "Bitcoin", IsCrypto: true, Pip: 100000000, SatoshiModePip: 10000, FormatPrecision: 8},
	"LTC": {Code: "LTC", Sign: "LTC", Description: "Litecoin", IsCrypto: true, Pip: 100000000, FormatPrecision: 8},
	"ETH": {Code: "ETH", Sign: "ETH", Description: "Ethereum", IsCrypto: true, Pip: 100000000, FormatPrecision: 8},
}

// EffectivePip returns the pip to use for a currency given satoshi_mode.
func EffectivePip(code string, satoshiMode bool) int64 {
	c, ok := Currencies[code]
	if !ok {
		return 100000000
	}
	if satoshiMode && c.SatoshiModePip != 0 {
		return c.SatoshiModePip
	}
	return c.Pip
}

// =============================================================================
// Instrument catalogue
// =============================================================================

// InstrumentDef is a tradeable symbol's static properties.
type InstrumentDef struct {
	Symbol        string
	QuoteCurrency string
	Description   string
}

// Instruments defines the default tradeable symbol catalogue.
var Instruments = map[string]InstrumentDef{
	"BTCUSD": {Symbol: "BTCUSD", QuoteCurrency: "USD", Description: "Bitcoin / US Dollar"},
	"LTCUSD": {Symbol: "LTCUSD", QuoteCurrency: "USD", Description: "Litecoin / US Dollar"},
	"ETHUSD": {Symbol: "ETHUSD", QuoteCurrency: "USD", Description: "Ethereum / US Dollar"},
	"BTCVEF": {Symbol: "BTCVEF", QuoteCurrency: "VEF", Description: "Bitcoin / Venezuelan Bolivar"},
}

// =============================================================================
// Broker bootstrap records
// =============================================================================

// ConfirmationTierDef is one (amount_lo, amount_hi, min_confirmations)
// rule from a broker's crypto deposit confirmation table.
type ConfirmationTierDef struct {
	AmountLo         int64
	AmountHi         int64
	MinConfirmations int
}

// BrokerBootstrap describes a broker record seeded at first run.
type BrokerBootstrap struct {
	ID                  int64
	ShortName           string
	TransactionFeeBuy   int64 // basis points
	TransactionFeeSell  int64 // basis points
	VerificationBonus   string
	CryptoConfirmations map[string][]ConfirmationTierDef // currency -> tiers
}

// DefaultBrokers seeds a broker-hub record usable out of the box; hosts
// layer their own brokers on top via the RPC bootstrap methods.
var DefaultBrokers = []BrokerBootstrap{
	{
		ID:                 1,
		ShortName:          "hub",
		TransactionFeeBuy:  20, // 0.2%
		TransactionFeeSell: 20,
		VerificationBonus:  `{"VEF":20000000000}`,
		CryptoConfirmations: map[string][]ConfirmationTierDef{
			"BTC": {
				{AmountLo: 0, AmountHi: 300000000, MinConfirmations: 1},
				{AmountLo: 300000000, AmountHi: 20000000000, MinConfirmations: 3},
				{AmountLo: 20000000000, AmountHi: 1 << 62, MinConfirmations: 6},
			},
		},
	},
}

// =============================================================================
// Deposit address derivation
// =============================================================================

// DepositXpubs catalogues the account-level extended public key used to
// derive watch-only deposit addresses for each crypto currency a broker
// accepts. A host provisions its own keys in production; the ones below are
// BIP-32 test vectors, not live keys, and exist so a fresh install can
// still hand out deposit addresses.
var DepositXpubs = map[string]string{
	"BTC": "xpub661MyMwAqkbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8",
	"LTC": "xpub661MyMwAqkbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8",
	"ETH": "xpub661MyMwAqkbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8",
}

// =============================================================================
// Host configuration
// =============================================================================

// Config is the configuration consumed from the host.
type Config struct {
	DBEngine           string `yaml:"db_engine"`
	DBEcho             bool   `yaml:"db_echo"`
	DataDir            string `yaml:"data_dir"`
	GlobalEmailLanguage string `yaml:"global_email_language"`
	TestMode           bool   `yaml:"test_mode"`
	DevMode            bool   `yaml:"dev_mode"`
	SatoshiMode        bool   `yaml:"satoshi_mode"`
	RPCListenAddr      string `yaml:"rpc_listen_addr"`
	LogLevel           string `yaml:"log_level"`
}

// DefaultConfig returns sensible defaults for local/dev use.
func DefaultConfig() *Config {
	return &Config{
		DBEngine:            "sqlite3",
		DBEcho:              false,
		DataDir:             "~/.exchanged",
		GlobalEmailLanguage: "en",
		TestMode:            false,
		DevMode:             false,
		SatoshiMode:         false,
		RPCListenAddr:       "127.0.0.1:8442",
		LogLevel:            "info",
	}
}

// LoadConfig reads a YAML config file, falling back to defaults for
// unset fields.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetCurrency returns the currency definition for a code.
func GetCurrency(code string) (CurrencyDef, bool) {
	c, ok := Currencies[code]
	return c, ok
}

// GetInstrument returns the instrument definition for a symbol.
func GetInstrument(symbol string) (InstrumentDef, bool) {
	i, ok := Instruments[symbol]
	return i, ok
}

// ListCurrencies returns every catalogued currency code.
func ListCurrencies() []string {
	out := make([]string, 0, len(Currencies))
	for code := range Currencies {
		out = append(out, code)
	}
	return out
}
