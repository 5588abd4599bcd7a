// Package storage - balance storage operations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrBalanceNotFound is returned when no balance row exists for a key.
var ErrBalanceNotFound = errors.New("balance not found")

// Balance is one (account, broker, currency) register.
type Balance struct {
	AccountID  int64
	BrokerID   int64
	Currency   string
	Balance    int64
	LastUpdate time.Time
}

// GetBalance returns the current balance for a key, or a zero balance if
// the row has never been created (accounts start implicitly at zero).
func (s *Storage) GetBalance(q Querier, accountID, brokerID int64, currency string) (*Balance, error) {
	var b Balance
	var lastUpdate int64
	err := q.QueryRow(`
		SELECT account_id, broker_id, currency, balance, last_update
		FROM balances WHERE account_id = ? AND broker_id = ? AND currency = ?
	`, accountID, brokerID, currency).Scan(&b.AccountID, &b.BrokerID, &b.Currency, &b.Balance, &lastUpdate)
	if err == sql.ErrNoRows {
		return &Balance{AccountID: accountID, BrokerID: brokerID, Currency: currency}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	b.LastUpdate = time.Unix(lastUpdate, 0)
	return &b, nil
}

// ApplyBalanceDelta adds delta (positive or negative) to a balance key,
// creating the row at zero first if it does not exist, and returns the
// resulting balance. Must be called within a WithTx for atomicity with
// the corresponding ledger row.
func (s *Storage) ApplyBalanceDelta(q Querier, accountID, brokerID int64, currency string, delta int64, now time.Time) (int64, error) {
	_, err := q.Exec(`
		INSERT INTO balances (account_id, broker_id, currency, balance, last_update)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(account_id, broker_id, currency) DO NOTHING
	`, accountID, brokerID, currency, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to seed balance row: %w", err)
	}

	_, err = q.Exec(`
		UPDATE balances SET balance = balance + ?, last_update = ?
		WHERE account_id = ? AND broker_id = ? AND currency = ?
	`, delta, now.Unix(), accountID, brokerID, currency)
	if err != nil {
		return 0, fmt.Errorf("failed to apply balance delta: %w", err)
	}

	var newBalance int64
	err = q.QueryRow(`
		SELECT balance FROM balances WHERE account_id = ? AND broker_id = ? AND currency = ?
	`, accountID, brokerID, currency).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("failed to read new balance: %w", err)
	}
	return newBalance, nil
}

// ListBalances returns every non-zero-touched balance row for an account.
func (s *Storage) ListBalances(q Querier, accountID, brokerID int64) ([]*Balance, error) {
	rows, err := q.Query(`
		SELECT account_id, broker_id, currency, balance, last_update
		FROM balances WHERE account_id = ? AND broker_id = ?
	`, accountID, brokerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var out []*Balance
	for rows.Next() {
		var b Balance
		var lastUpdate int64
		if err := rows.Scan(&b.AccountID, &b.BrokerID, &b.Currency, &b.Balance, &lastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.LastUpdate = time.Unix(lastUpdate, 0)
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ListAllBalances returns every balance row in the store, for out-of-band
// reconciliation (internal/reporting).
func (s *Storage) ListAllBalances(q Querier) ([]*Balance, error) {
	rows, err := q.Query(`SELECT account_id, broker_id, currency, balance, last_update FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var out []*Balance
	for rows.Next() {
		var b Balance
		var lastUpdate int64
		if err := rows.Scan(&b.AccountID, &b.BrokerID, &b.Currency, &b.Balance, &lastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.LastUpdate = time.Unix(lastUpdate, 0)
		out = append(out, &b)
	}
	return out, rows.Err()
}
