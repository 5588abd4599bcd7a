// Package account implements signup, authentication, two-factor and
// verification-tier handling, grounded on original_source's User class
// (set_password/authenticate/enable_two_factor/set_verified).
package account

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/klingon-exchange/exchanged/internal/events"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
)

// ErrUserExists is returned by Signup when the username or e-mail is
// already registered.
var ErrUserExists = fmt.Errorf("account: username or email already registered")

// ErrNeedSecondFactor is returned by Authenticate when two-factor is
// enabled and the caller didn't supply a valid TOTP code.
var ErrNeedSecondFactor = fmt.Errorf("account: second factor required")

// ErrInvalidCredentials is returned by Authenticate on a bad username or
// password (a bad second factor yields ErrNeedSecondFactor).
var ErrInvalidCredentials = fmt.Errorf("account: invalid credentials")

// verificationBonusCurrency/Amount are the fixed verification-tier-2
// bonus from original_source's set_verified (200 VEF, pip-scaled).
const (
	verificationBonusCurrency = "VEF"
	verificationBonusAmount   = 200 * 100000000
)

// Manager drives account lifecycle operations against storage.
type Manager struct {
	db     *storage.Storage
	ledger *ledger.Ledger
	pub    events.Publisher
}

// New creates an account Manager.
func New(db *storage.Storage, l *ledger.Ledger, pub events.Publisher) *Manager {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Manager{db: db, ledger: l, pub: pub}
}

// Signup creates a new user under a broker, hashing the password with
// bcrypt and emitting a welcome e-mail job.
func (m *Manager) Signup(q storage.Querier, username, email, password, state, countryCode string, brokerID int64) (*storage.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))

	if existing, _ := m.db.GetUserByUsername(q, username); existing != nil {
		return nil, ErrUserExists
	}
	if existing, _ := m.db.GetUserByEmail(q, email); existing != nil {
		return nil, ErrUserExists
	}

	broker, err := m.db.GetBroker(q, brokerID)
	if err != nil {
		return nil, fmt.Errorf("account: broker %d not found: %w", brokerID, err)
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &storage.User{
		Username:       username,
		Email:          email,
		PasswordHash:   hashed,
		PasswordAlgo:   "bcrypt",
		State:          state,
		CountryCode:    countryCode,
		BrokerID:       brokerID,
		BrokerUsername: broker.ShortName,
		Created:        time.Now(),
		LastLogin:      time.Now(),
	}
	if err := m.db.CreateUser(q, u); err != nil {
		return nil, err
	}

	m.pub.Publish(events.TopicEmail, events.EmailJob{
		MsgType:   "C",
		To:        u.Email,
		Subject:   "W",
		EmailType: "welcome",
		Params: map[string]string{
			"username": u.Username, "email": u.Email, "state": u.State,
			"country_code": u.CountryCode,
		},
	})

	return u, nil
}

// Authenticate verifies a username/password (and, when two-factor is
// enabled, a TOTP code), updating last_login on success.
func (m *Manager) Authenticate(q storage.Querier, usernameOrEmail, password, secondFactor string) (*storage.User, error) {
	u, err := m.db.GetUserByUsername(q, strings.ToLower(strings.TrimSpace(usernameOrEmail)))
	if err != nil || u == nil {
		u, err = m.db.GetUserByEmail(q, strings.ToLower(strings.TrimSpace(usernameOrEmail)))
	}
	if err != nil || u == nil {
		return nil, ErrInvalidCredentials
	}

	if u.TwoFactorEnabled && secondFactor == "" {
		return nil, ErrNeedSecondFactor
	}

	if !checkPassword(u.PasswordAlgo, u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	if u.TwoFactorEnabled {
		token, err := totpToken(u.TwoFactorSecret, time.Now())
		if err != nil || token != secondFactor {
			return nil, ErrNeedSecondFactor
		}
	}

	u.LastLogin = time.Now()
	if err := m.db.UpdateUser(q, u); err != nil {
		return nil, err
	}
	return u, nil
}

// EnableTwoFactor toggles two-factor auth. When enabling with no secret
// supplied yet, it returns a freshly generated secret for the caller to
// display/confirm; when a secret and a valid confirming code are
// supplied, it commits the secret and marks two-factor enabled.
func (m *Manager) EnableTwoFactor(q storage.Querier, u *storage.User, enable bool, secret, secondFactor string) (string, error) {
	if !enable {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = ""
		return "", m.db.UpdateUser(q, u)
	}

	if secret == "" {
		return generateTwoFactorSecret()
	}

	token, err := totpToken(secret, time.Now())
	if err != nil || secondFactor == "" || token != secondFactor {
		return secret, nil
	}

	u.TwoFactorEnabled = true
	u.TwoFactorSecret = secret
	return secret, m.db.UpdateUser(q, u)
}

// SetVerified implements original_source's set_verified: updates the
// user's verification tier, emits a B11 event, and — for verified > 1 —
// credits the fixed verification bonus and emits an "AV" e-mail job. The
// only guard is the unchanged-tier no-op: every change to a tier above 1
// credits the bonus again.
func (m *Manager) SetVerified(q storage.Querier, u *storage.User, verified int, verificationData string) (bool, error) {
	if u.Verified == verified {
		return false, nil
	}
	u.Verified = verified
	if verificationData != "" {
		u.VerificationData = verificationData
	}
	if err := m.db.UpdateUser(q, u); err != nil {
		return false, err
	}

	m.pub.Publish(events.TopicVerification, events.VerificationUpdate{
		MsgType: "B11", ClientID: u.ID, BrokerID: u.BrokerID,
		Username: u.Username, Verified: u.Verified, VerificationData: verificationData,
	})

	switch {
	case u.Verified == 1:
		m.pub.Publish(events.TopicEmail, events.EmailJob{
			MsgType: "C", To: u.BrokerUsername, Subject: "VS", EmailType: "customer-verification-submit",
			Params: map[string]string{"username": u.Username, "email": u.Email},
		})
	case u.Verified > 1:
		brokerParty := ledger.Party{AccountID: u.BrokerID, Name: u.BrokerUsername, BrokerID: u.BrokerID, BrokerName: u.BrokerUsername}
		userParty := ledger.Party{AccountID: u.ID, Name: u.Username, BrokerID: u.BrokerID, BrokerName: u.BrokerUsername}
		if err := m.ledger.Transfer(q, verificationBonusCurrency, brokerParty, userParty, verificationBonusAmount, fmt.Sprintf("%d", u.ID), ledger.DescBonus); err != nil {
			return false, fmt.Errorf("account: verification bonus failed: %w", err)
		}
		m.pub.Publish(events.TopicEmail, events.EmailJob{
			MsgType: "C", To: u.Email, Subject: "AV", EmailType: "your-account-has-been-verified",
			Params: map[string]string{"username": u.Username, "email": u.Email},
		})
	}

	return true, nil
}

// --- password hashing -------------------------------------------------

func hashPassword(raw string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("account: failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func checkPassword(algo, stored, raw string) bool {
	if algo != "bcrypt" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(raw)) == nil
}

// --- TOTP (RFC 4226/6238) ----------------------------------------------
// No TOTP/HOTP library appears anywhere in the retrieved pack, so this
// stays on crypto/hmac + crypto/sha1 rather than an ecosystem pick.

func generateTwoFactorSecret() (string, error) {
	raw := make([]byte, 10)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("account: failed to generate two-factor secret: %w", err)
	}
	return base32.StdEncoding.EncodeToString(raw), nil
}

func hotpToken(secret string, interval uint64) (string, error) {
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(secret, "="))
	if err != nil {
		return "", fmt.Errorf("account: invalid two-factor secret: %w", err)
	}

	msg := make([]byte, 8)
	binary.BigEndian.PutUint64(msg, interval)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := (binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff) % 1000000
	return fmt.Sprintf("%06d", code), nil
}

func totpToken(secret string, at time.Time) (string, error) {
	return hotpToken(secret, uint64(at.Unix())/30)
}
