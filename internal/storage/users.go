// Package storage - user/account storage operations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned when a username/email/id lookup misses.
var ErrUserNotFound = errors.New("user not found")

// User is an exchange account holder. Verified is an integer tier, not
// a boolean: 0 unverified, 1 submitted-for-verification, >1 a
// broker-defined verified tier that may carry a signup bonus —
// matching original_source's User.verified column.
type User struct {
	ID                      int64
	Username                string
	Email                   string
	PasswordHash            string
	PasswordAlgo            string
	BrokerID                int64
	BrokerUsername          string
	CountryCode             string
	State                   string
	Verified                int
	VerificationData        string
	IsBroker                bool
	IsSystem                bool
	TwoFactorEnabled        bool
	TwoFactorSecret         string
	TransactionFeeBuy       int64
	TransactionFeeSell      int64
	WithdrawEmailValidation bool
	Created                 time.Time
	LastLogin               time.Time
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateUser inserts a new user and assigns its ID.
func (s *Storage) CreateUser(q Querier, u *User) error {
	res, err := q.Exec(`
		INSERT INTO users (
			username, email, password_hash, broker_id, broker_username,
			country_code, state, verified, is_broker, is_system,
			two_factor_enabled, two_factor_secret,
			transaction_fee_buy, transaction_fee_sell, withdraw_email_validation,
			created_at, last_login
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.Username, u.Email, u.PasswordHash, u.BrokerID, u.BrokerUsername,
		u.CountryCode, u.State, u.Verified, boolToInt(u.IsBroker), boolToInt(u.IsSystem),
		boolToInt(u.TwoFactorEnabled), u.TwoFactorSecret,
		u.TransactionFeeBuy, u.TransactionFeeSell, boolToInt(u.WithdrawEmailValidation),
		u.Created.Unix(), u.LastLogin.Unix())
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new user id: %w", err)
	}
	u.ID = id
	return nil
}

const userColumns = `id, username, email, password_hash, broker_id, broker_username,
	country_code, state, verified, verification_data, is_broker, is_system, two_factor_enabled,
	two_factor_secret, transaction_fee_buy, transaction_fee_sell,
	withdraw_email_validation, created_at, last_login`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	var isBroker, isSystem, twoFA, withdrawEmail int
	var created int64
	var verificationData, passwordAlgo sql.NullString
	var lastLogin sql.NullInt64
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.BrokerID, &u.BrokerUsername,
		&u.CountryCode, &u.State, &u.Verified, &verificationData, &isBroker, &isSystem, &twoFA,
		&u.TwoFactorSecret, &u.TransactionFeeBuy, &u.TransactionFeeSell,
		&withdrawEmail, &created, &lastLogin)
	if err != nil {
		return nil, err
	}
	u.VerificationData = verificationData.String
	u.PasswordAlgo = passwordAlgo.String
	u.IsBroker = isBroker != 0
	u.IsSystem = isSystem != 0
	u.TwoFactorEnabled = twoFA != 0
	u.WithdrawEmailValidation = withdrawEmail != 0
	u.Created = time.Unix(created, 0)
	if lastLogin.Valid {
		u.LastLogin = time.Unix(lastLogin.Int64, 0)
	}
	return &u, nil
}

// GetUser retrieves a user by id.
func (s *Storage) GetUser(q Querier, id int64) (*User, error) {
	row := q.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Storage) GetUserByUsername(q Querier, username string) (*User, error) {
	row := q.QueryRow("SELECT "+userColumns+" FROM users WHERE username = ?", username)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email.
func (s *Storage) GetUserByEmail(q Querier, email string) (*User, error) {
	row := q.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ?", email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpdateUser persists the mutable profile/auth fields of a user.
func (s *Storage) UpdateUser(q Querier, u *User) error {
	res, err := q.Exec(`
		UPDATE users SET password_hash = ?, verified = ?, verification_data = ?,
			two_factor_enabled = ?, two_factor_secret = ?,
			transaction_fee_buy = ?, transaction_fee_sell = ?,
			withdraw_email_validation = ?, last_login = ?
		WHERE id = ?
	`, u.PasswordHash, u.Verified, u.VerificationData,
		boolToInt(u.TwoFactorEnabled), u.TwoFactorSecret,
		u.TransactionFeeBuy, u.TransactionFeeSell, boolToInt(u.WithdrawEmailValidation),
		u.LastLogin.Unix(), u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}
