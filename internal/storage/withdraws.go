// Package storage - withdraw storage operations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrWithdrawNotFound is returned when a withdraw id does not exist.
var ErrWithdrawNotFound = errors.New("withdraw not found")

// Withdraw status codes, mirroring original_source's Withdraw state machine.
const (
	WithdrawStatusPending    = 0
	WithdrawStatusConfirmed  = 1
	WithdrawStatusInProgress = 2
	WithdrawStatusComplete   = 4
	WithdrawStatusCancelled  = 8
)

// Withdraw is an outbound funding request.
type Withdraw struct {
	ID                int64
	UserID            int64
	AccountID         int64
	BrokerID          int64
	Username          string
	BrokerUsername    string
	Currency          string
	Amount            int64
	Method            string
	Data              string
	ConfirmationToken string
	Status            int
	Created           time.Time
	ReasonID          int64
	Reason            string
	ClientOrderID     string
	PercentFee        int64
	FixedFee          int64
	PaidAmount        int64
}

// CreateWithdraw inserts a withdraw row and assigns its ID.
func (s *Storage) CreateWithdraw(q Querier, w *Withdraw) error {
	res, err := q.Exec(`
		INSERT INTO withdraws (
			user_id, account_id, broker_id, username, broker_username, currency,
			amount, method, data, confirmation_token, status, created,
			reason_id, reason, client_order_id, percent_fee, fixed_fee, paid_amount
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.UserID, w.AccountID, w.BrokerID, w.Username, w.BrokerUsername, w.Currency,
		w.Amount, w.Method, w.Data, w.ConfirmationToken, w.Status, w.Created.Unix(),
		w.ReasonID, w.Reason, w.ClientOrderID, w.PercentFee, w.FixedFee, w.PaidAmount)
	if err != nil {
		return fmt.Errorf("failed to create withdraw: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new withdraw id: %w", err)
	}
	w.ID = id
	return nil
}

const withdrawColumns = `id, user_id, account_id, broker_id, username, broker_username,
	currency, amount, method, data, confirmation_token, status, created,
	reason_id, reason, client_order_id, percent_fee, fixed_fee, paid_amount`

func scanWithdraw(row interface{ Scan(...interface{}) error }) (*Withdraw, error) {
	var w Withdraw
	var created int64
	err := row.Scan(&w.ID, &w.UserID, &w.AccountID, &w.BrokerID, &w.Username, &w.BrokerUsername,
		&w.Currency, &w.Amount, &w.Method, &w.Data, &w.ConfirmationToken, &w.Status, &created,
		&w.ReasonID, &w.Reason, &w.ClientOrderID, &w.PercentFee, &w.FixedFee, &w.PaidAmount)
	if err != nil {
		return nil, err
	}
	w.Created = time.Unix(created, 0)
	return &w, nil
}

// GetWithdraw retrieves a withdraw by id.
func (s *Storage) GetWithdraw(q Querier, id int64) (*Withdraw, error) {
	row := q.QueryRow("SELECT "+withdrawColumns+" FROM withdraws WHERE id = ?", id)
	w, err := scanWithdraw(row)
	if err == sql.ErrNoRows {
		return nil, ErrWithdrawNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdraw: %w", err)
	}
	return w, nil
}

// GetWithdrawByConfirmationToken looks up a withdraw pending e-mail confirmation.
func (s *Storage) GetWithdrawByConfirmationToken(q Querier, token string) (*Withdraw, error) {
	row := q.QueryRow("SELECT "+withdrawColumns+" FROM withdraws WHERE confirmation_token = ?", token)
	w, err := scanWithdraw(row)
	if err == sql.ErrNoRows {
		return nil, ErrWithdrawNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdraw: %w", err)
	}
	return w, nil
}

// UpdateWithdraw persists the mutable fields of a withdraw.
func (s *Storage) UpdateWithdraw(q Querier, w *Withdraw) error {
	res, err := q.Exec(`
		UPDATE withdraws SET status = ?, data = ?, reason_id = ?, reason = ?,
			percent_fee = ?, fixed_fee = ?, paid_amount = ?
		WHERE id = ?
	`, w.Status, w.Data, w.ReasonID, w.Reason, w.PercentFee, w.FixedFee, w.PaidAmount, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update withdraw: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrWithdrawNotFound
	}
	return nil
}

// ListWithdrawsByStatus returns withdraws in a given status, oldest first.
func (s *Storage) ListWithdrawsByStatus(q Querier, status int) ([]*Withdraw, error) {
	rows, err := q.Query("SELECT "+withdrawColumns+" FROM withdraws WHERE status = ? ORDER BY created ASC", status)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdraws: %w", err)
	}
	defer rows.Close()

	var out []*Withdraw
	for rows.Next() {
		w, err := scanWithdraw(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdraw: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListWithdrawsByAccount returns withdraws for an account under a broker,
// newest first.
func (s *Storage) ListWithdrawsByAccount(q Querier, accountID, brokerID int64) ([]*Withdraw, error) {
	rows, err := q.Query("SELECT "+withdrawColumns+" FROM withdraws WHERE account_id = ? AND broker_id = ? ORDER BY created DESC", accountID, brokerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdraws: %w", err)
	}
	defer rows.Close()

	var out []*Withdraw
	for rows.Next() {
		w, err := scanWithdraw(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdraw: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
