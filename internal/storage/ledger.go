// Package storage - ledger storage operations.
package storage

import (
	"fmt"
	"time"
)

// Ledger operation codes: credit/debit tags.
const (
	LedgerCredit = "C"
	LedgerDebit  = "D"
)

// LedgerEntry is one append-only posting against a balance.
type LedgerEntry struct {
	ID              int64
	Currency        string
	AccountID       int64
	AccountName     string
	BrokerID        int64
	BrokerName      string
	PayeeID         int64
	PayeeName       string
	PayeeBrokerID   int64
	PayeeBrokerName string
	Operation       string
	Amount          int64
	Balance         int64
	Reference       string
	Created         time.Time
	Description     string
}

// CreateLedgerEntry appends a posting. Ledger rows are never updated or
// deleted; Balance carries the post-posting balance for audit purposes.
func (s *Storage) CreateLedgerEntry(q Querier, e *LedgerEntry) error {
	res, err := q.Exec(`
		INSERT INTO ledger (
			currency, account_id, account_name, broker_id, broker_name,
			payee_id, payee_name, payee_broker_id, payee_broker_name,
			operation, amount, balance, reference, created, description
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Currency, e.AccountID, e.AccountName, e.BrokerID, e.BrokerName,
		e.PayeeID, e.PayeeName, e.PayeeBrokerID, e.PayeeBrokerName,
		e.Operation, e.Amount, e.Balance, e.Reference, e.Created.Unix(), e.Description)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new ledger entry id: %w", err)
	}
	e.ID = id
	return nil
}

const ledgerColumns = `id, currency, account_id, account_name, broker_id, broker_name,
	payee_id, payee_name, payee_broker_id, payee_broker_name, operation, amount,
	balance, reference, created, description`

func scanLedgerEntry(row interface{ Scan(...interface{}) error }) (*LedgerEntry, error) {
	var e LedgerEntry
	var created int64
	err := row.Scan(&e.ID, &e.Currency, &e.AccountID, &e.AccountName, &e.BrokerID,
		&e.BrokerName, &e.PayeeID, &e.PayeeName, &e.PayeeBrokerID, &e.PayeeBrokerName,
		&e.Operation, &e.Amount, &e.Balance, &e.Reference, &created, &e.Description)
	if err != nil {
		return nil, err
	}
	e.Created = time.Unix(created, 0)
	return &e, nil
}

// ListLedgerEntries returns the postings for an account/broker/currency,
// newest first, for statement/reconciliation use.
func (s *Storage) ListLedgerEntries(q Querier, accountID, brokerID int64, currency string, limit int) ([]*LedgerEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.Query(`
		SELECT `+ledgerColumns+` FROM ledger
		WHERE account_id = ? AND broker_id = ? AND currency = ?
		ORDER BY created DESC, id DESC LIMIT ?
	`, accountID, brokerID, currency, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListLedgerEntriesByReference returns every posting sharing a reference
// (e.g. all legs of one trade or one transfer) — used by reconciliation
// to check that postings balance to zero per reference.
func (s *Storage) ListLedgerEntriesByReference(q Querier, reference string) ([]*LedgerEntry, error) {
	rows, err := q.Query("SELECT "+ledgerColumns+" FROM ledger WHERE reference = ? ORDER BY id ASC", reference)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListAllLedgerEntries returns every posting ever made, for out-of-band
// reconciliation (internal/reporting). Never used on a request hot path.
func (s *Storage) ListAllLedgerEntries(q Querier) ([]*LedgerEntry, error) {
	rows, err := q.Query("SELECT " + ledgerColumns + " FROM ledger ORDER BY created ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
