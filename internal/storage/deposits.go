// Package storage - deposit storage operations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDepositNotFound is returned when a deposit id does not exist.
var ErrDepositNotFound = errors.New("deposit not found")

// Deposit status codes, mirroring original_source's Deposit state machine.
const (
	DepositStatusPending     = 0
	DepositStatusUnconfirmed = 1
	DepositStatusInProgress  = 2
	DepositStatusComplete    = 4
	DepositStatusCancelled   = 8
)

// Deposit is an inbound funding request.
type Deposit struct {
	ID                   string
	UserID               int64
	AccountID            int64
	BrokerID             int64
	DepositOptionID      int64
	BrokerDepositCtrlNum string
	Secret               string
	Type                 string
	Currency             string
	Address              string // watch-only deposit address, for CRY deposits
	TxID                 string // chain transaction id once the depositor broadcasts
	Value                int64
	PaidValue            int64
	Status               int
	Data                 string
	Instructions         string
	ClientOrderID        string
	PercentFee           int64
	FixedFee             int64
	ReasonID             int64
	Reason               string
	Created              time.Time
}

// CreateDeposit inserts a deposit row.
func (s *Storage) CreateDeposit(q Querier, d *Deposit) error {
	_, err := q.Exec(`
		INSERT INTO deposit (
			id, user_id, account_id, broker_id, deposit_option_id, broker_deposit_ctrl_num,
			secret, type, currency, address, tx_id, value, paid_value, status, data, instructions,
			client_order_id, percent_fee, fixed_fee, reason_id, reason, created
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.UserID, d.AccountID, d.BrokerID, d.DepositOptionID, d.BrokerDepositCtrlNum,
		d.Secret, d.Type, d.Currency, d.Address, d.TxID, d.Value, d.PaidValue, d.Status, d.Data, d.Instructions,
		d.ClientOrderID, d.PercentFee, d.FixedFee, d.ReasonID, d.Reason, d.Created.Unix())
	if err != nil {
		return fmt.Errorf("failed to create deposit: %w", err)
	}
	return nil
}

const depositColumns = `id, user_id, account_id, broker_id, deposit_option_id,
	broker_deposit_ctrl_num, secret, type, currency, address, tx_id, value, paid_value, status,
	data, instructions, client_order_id, percent_fee, fixed_fee, reason_id, reason, created`

func scanDeposit(row interface{ Scan(...interface{}) error }) (*Deposit, error) {
	var d Deposit
	var created int64
	err := row.Scan(&d.ID, &d.UserID, &d.AccountID, &d.BrokerID, &d.DepositOptionID,
		&d.BrokerDepositCtrlNum, &d.Secret, &d.Type, &d.Currency, &d.Address, &d.TxID, &d.Value, &d.PaidValue,
		&d.Status, &d.Data, &d.Instructions, &d.ClientOrderID, &d.PercentFee, &d.FixedFee,
		&d.ReasonID, &d.Reason, &created)
	if err != nil {
		return nil, err
	}
	d.Created = time.Unix(created, 0)
	return &d, nil
}

// GetDeposit retrieves a deposit by id.
func (s *Storage) GetDeposit(q Querier, id string) (*Deposit, error) {
	row := q.QueryRow("SELECT "+depositColumns+" FROM deposit WHERE id = ?", id)
	d, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return d, nil
}

// UpdateDeposit persists the mutable fields of a deposit.
func (s *Storage) UpdateDeposit(q Querier, d *Deposit) error {
	res, err := q.Exec(`
		UPDATE deposit SET status = ?, tx_id = ?, paid_value = ?, data = ?, instructions = ?,
			percent_fee = ?, fixed_fee = ?, reason_id = ?, reason = ?
		WHERE id = ?
	`, d.Status, d.TxID, d.PaidValue, d.Data, d.Instructions, d.PercentFee, d.FixedFee,
		d.ReasonID, d.Reason, d.ID)
	if err != nil {
		return fmt.Errorf("failed to update deposit: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrDepositNotFound
	}
	return nil
}

// ListDepositsByStatus returns deposits in a given status, oldest first —
// used by the confirmation-timeout sweep.
func (s *Storage) ListDepositsByStatus(q Querier, status int) ([]*Deposit, error) {
	rows, err := q.Query("SELECT "+depositColumns+" FROM deposit WHERE status = ? ORDER BY created ASC", status)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	defer rows.Close()

	var out []*Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDepositsByAccount returns deposits for an account under a broker,
// newest first.
func (s *Storage) ListDepositsByAccount(q Querier, accountID, brokerID int64) ([]*Deposit, error) {
	rows, err := q.Query("SELECT "+depositColumns+" FROM deposit WHERE account_id = ? AND broker_id = ? ORDER BY created DESC", accountID, brokerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	defer rows.Close()

	var out []*Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DepositOption is a broker-configured deposit method (wire, crypto, etc).
type DepositOption struct {
	ID                   int64
	BrokerID             int64
	Name                 string
	Description          string
	Disclaimer           string
	Type                 string
	BrokerDepositCtrlNum string
	Currency             string
	PercentFee           int64
	FixedFee             int64
	Parameters           string
}

// GetDepositOption retrieves a deposit option by id.
func (s *Storage) GetDepositOption(q Querier, id int64) (*DepositOption, error) {
	var o DepositOption
	err := q.QueryRow(`
		SELECT id, broker_id, name, description, disclaimer, type,
			broker_deposit_ctrl_num, currency, percent_fee, fixed_fee, parameters
		FROM deposit_options WHERE id = ?
	`, id).Scan(&o.ID, &o.BrokerID, &o.Name, &o.Description, &o.Disclaimer, &o.Type,
		&o.BrokerDepositCtrlNum, &o.Currency, &o.PercentFee, &o.FixedFee, &o.Parameters)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deposit option %d: %w", id, ErrDepositNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit option: %w", err)
	}
	return &o, nil
}

// CreateDepositOption inserts a deposit option and assigns its ID.
func (s *Storage) CreateDepositOption(q Querier, o *DepositOption) error {
	res, err := q.Exec(`
		INSERT INTO deposit_options (
			broker_id, name, description, disclaimer, type,
			broker_deposit_ctrl_num, currency, percent_fee, fixed_fee, parameters
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.BrokerID, o.Name, o.Description, o.Disclaimer, o.Type,
		o.BrokerDepositCtrlNum, o.Currency, o.PercentFee, o.FixedFee, o.Parameters)
	if err != nil {
		return fmt.Errorf("failed to create deposit option: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new deposit option id: %w", err)
	}
	o.ID = id
	return nil
}
