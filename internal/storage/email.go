// Package storage - e-mail job and password-reset token storage.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UserEmail records an e-mail job for audit/retry purposes; delivery
// itself is handled by the events.Publisher sink.
type UserEmail struct {
	ID       int64
	UserID   int64
	Subject  string
	Body     string
	Template string
	Language string
	Params   string
	Created  time.Time
}

// CreateUserEmail inserts an e-mail job record.
func (s *Storage) CreateUserEmail(q Querier, e *UserEmail) error {
	res, err := q.Exec(`
		INSERT INTO user_email (user_id, subject, body, template, language, params, created)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.UserID, e.Subject, e.Body, e.Template, e.Language, e.Params, e.Created.Unix())
	if err != nil {
		return fmt.Errorf("failed to create user email: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new user email id: %w", err)
	}
	e.ID = id
	return nil
}

// ErrPasswordResetNotFound is returned when a reset token is unknown or spent.
var ErrPasswordResetNotFound = errors.New("password reset token not found")

// PasswordReset is a one-time password-reset token.
type PasswordReset struct {
	ID      int64
	UserID  int64
	Token   string
	Used    bool
	Created time.Time
}

// CreatePasswordReset inserts a reset token.
func (s *Storage) CreatePasswordReset(q Querier, p *PasswordReset) error {
	res, err := q.Exec(`
		INSERT INTO user_password_reset (user_id, token, used, created) VALUES (?, ?, ?, ?)
	`, p.UserID, p.Token, boolToInt(p.Used), p.Created.Unix())
	if err != nil {
		return fmt.Errorf("failed to create password reset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new password reset id: %w", err)
	}
	p.ID = id
	return nil
}

// GetPasswordResetByToken retrieves an unused reset token.
func (s *Storage) GetPasswordResetByToken(q Querier, token string) (*PasswordReset, error) {
	var p PasswordReset
	var used int
	var created int64
	err := q.QueryRow(`
		SELECT id, user_id, token, used, created FROM user_password_reset WHERE token = ?
	`, token).Scan(&p.ID, &p.UserID, &p.Token, &used, &created)
	if err == sql.ErrNoRows {
		return nil, ErrPasswordResetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get password reset: %w", err)
	}
	p.Used = used != 0
	p.Created = time.Unix(created, 0)
	return &p, nil
}

// MarkPasswordResetUsed marks a token spent so it cannot be replayed.
func (s *Storage) MarkPasswordResetUsed(q Querier, id int64) error {
	res, err := q.Exec("UPDATE user_password_reset SET used = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark password reset used: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrPasswordResetNotFound
	}
	return nil
}
