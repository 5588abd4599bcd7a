// Package storage - broker and currency/instrument catalogue operations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrBrokerNotFound is returned when a broker id does not exist.
var ErrBrokerNotFound = errors.New("broker not found")

// Broker is a white-label operator hosted by the exchange core.
type Broker struct {
	ID                  int64
	ShortName           string
	WithdrawStructure   string
	CryptoCurrencies    string
	FeeStructure        string
	TransactionFeeBuy   int64
	TransactionFeeSell  int64
	AcceptCustomersFrom string
	Status              string
	IsBrokerHub         bool
	VerificationBonus   string
}

// CreateBroker inserts a broker row.
func (s *Storage) CreateBroker(q Querier, b *Broker) error {
	_, err := q.Exec(`
		INSERT INTO brokers (
			id, short_name, withdraw_structure, crypto_currencies, fee_structure,
			transaction_fee_buy, transaction_fee_sell, accept_customers_from,
			status, is_broker_hub, verification_bonus
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.ShortName, b.WithdrawStructure, b.CryptoCurrencies, b.FeeStructure,
		b.TransactionFeeBuy, b.TransactionFeeSell, b.AcceptCustomersFrom,
		b.Status, boolToInt(b.IsBrokerHub), b.VerificationBonus)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	return nil
}

// GetBroker retrieves a broker by id.
func (s *Storage) GetBroker(q Querier, id int64) (*Broker, error) {
	var b Broker
	var isHub int
	err := q.QueryRow(`
		SELECT id, short_name, withdraw_structure, crypto_currencies, fee_structure,
			transaction_fee_buy, transaction_fee_sell, accept_customers_from,
			status, is_broker_hub, verification_bonus
		FROM brokers WHERE id = ?
	`, id).Scan(&b.ID, &b.ShortName, &b.WithdrawStructure, &b.CryptoCurrencies, &b.FeeStructure,
		&b.TransactionFeeBuy, &b.TransactionFeeSell, &b.AcceptCustomersFrom,
		&b.Status, &isHub, &b.VerificationBonus)
	if err == sql.ErrNoRows {
		return nil, ErrBrokerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broker: %w", err)
	}
	b.IsBrokerHub = isHub != 0
	return &b, nil
}

// Currency is a reference-data row describing one ledger currency.
type Currency struct {
	Code             string
	Sign             string
	Description      string
	IsCrypto         bool
	Pip              int64
	FormatPrecision  int
}

// CreateCurrency inserts (or replaces) a currency catalogue row.
func (s *Storage) CreateCurrency(q Querier, c *Currency) error {
	_, err := q.Exec(`
		INSERT INTO currencies (code, sign, description, is_crypto, pip, format_precision)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			sign = excluded.sign, description = excluded.description,
			is_crypto = excluded.is_crypto, pip = excluded.pip,
			format_precision = excluded.format_precision
	`, c.Code, c.Sign, c.Description, boolToInt(c.IsCrypto), c.Pip, c.FormatPrecision)
	if err != nil {
		return fmt.Errorf("failed to create currency: %w", err)
	}
	return nil
}

// ErrCurrencyNotFound is returned when a currency code is not catalogued.
var ErrCurrencyNotFound = errors.New("currency not found")

// GetCurrency retrieves a currency by code.
func (s *Storage) GetCurrency(q Querier, code string) (*Currency, error) {
	var c Currency
	var isCrypto int
	err := q.QueryRow(`
		SELECT code, sign, description, is_crypto, pip, format_precision
		FROM currencies WHERE code = ?
	`, code).Scan(&c.Code, &c.Sign, &c.Description, &isCrypto, &c.Pip, &c.FormatPrecision)
	if err == sql.ErrNoRows {
		return nil, ErrCurrencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get currency: %w", err)
	}
	c.IsCrypto = isCrypto != 0
	return &c, nil
}

// ListCurrencies returns the full currency catalogue.
func (s *Storage) ListCurrencies(q Querier) ([]*Currency, error) {
	rows, err := q.Query("SELECT code, sign, description, is_crypto, pip, format_precision FROM currencies")
	if err != nil {
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	defer rows.Close()

	var out []*Currency
	for rows.Next() {
		var c Currency
		var isCrypto int
		if err := rows.Scan(&c.Code, &c.Sign, &c.Description, &isCrypto, &c.Pip, &c.FormatPrecision); err != nil {
			return nil, fmt.Errorf("failed to scan currency: %w", err)
		}
		c.IsCrypto = isCrypto != 0
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Instrument is a tradeable symbol.
type Instrument struct {
	Symbol        string
	QuoteCurrency string
	Description   string
}

// CreateInstrument inserts (or replaces) an instrument catalogue row.
func (s *Storage) CreateInstrument(q Querier, i *Instrument) error {
	_, err := q.Exec(`
		INSERT INTO instruments (symbol, quote_currency, description) VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quote_currency = excluded.quote_currency, description = excluded.description
	`, i.Symbol, i.QuoteCurrency, i.Description)
	if err != nil {
		return fmt.Errorf("failed to create instrument: %w", err)
	}
	return nil
}

// ErrInstrumentNotFound is returned when a symbol is not catalogued.
var ErrInstrumentNotFound = errors.New("instrument not found")

// GetInstrument retrieves an instrument by symbol.
func (s *Storage) GetInstrument(q Querier, symbol string) (*Instrument, error) {
	var i Instrument
	err := q.QueryRow("SELECT symbol, quote_currency, description FROM instruments WHERE symbol = ?", symbol).
		Scan(&i.Symbol, &i.QuoteCurrency, &i.Description)
	if err == sql.ErrNoRows {
		return nil, ErrInstrumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}
	return &i, nil
}
