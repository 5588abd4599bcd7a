// Package withdraw implements the withdraw state machine, grounded on
// original_source's Withdraw class. The double-counted fee accounting
// on set_in_progress/set_as_complete is intentional legacy behavior and
// is preserved rather than "fixed".
package withdraw

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/klingon-exchange/exchanged/internal/events"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
	"github.com/klingon-exchange/exchanged/pkg/money"
)

// ErrInsufficientFunds names the insufficient-funds condition. SetInProgress
// does not return it: when the user cannot cover paid_amount, the withdraw
// is auto-cancelled (not retried) and SetInProgress returns nil.
var ErrInsufficientFunds = fmt.Errorf("withdraw: insufficient funds")

// Machine drives withdraw state transitions against storage.
type Machine struct {
	db     *storage.Storage
	ledger *ledger.Ledger
	bal    balanceReader
	pub    events.Publisher
}

type balanceReader interface {
	Get(q storage.Querier, accountID, brokerID int64, currency string) (int64, error)
}

// New creates a withdraw Machine.
func New(db *storage.Storage, l *ledger.Ledger, bal balanceReader, pub events.Publisher) *Machine {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Machine{db: db, ledger: l, bal: bal, pub: pub}
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Create starts a new withdraw. If the user requires e-mail
// confirmation it starts Pending and emits a CW e-mail job; otherwise it
// starts already User-confirmed.
func (m *Machine) Create(q storage.Querier, userID, accountID, brokerID int64, username, brokerUsername, currency string, amount int64, method, data, clientOrderID string, percentFee, fixedFee int64, requireEmailConfirm bool) (*storage.Withdraw, error) {
	w := &storage.Withdraw{
		UserID: userID, AccountID: accountID, BrokerID: brokerID,
		Username: username, BrokerUsername: brokerUsername,
		Currency: currency, Amount: amount, Method: method, Data: data,
		ClientOrderID: clientOrderID, PercentFee: percentFee, FixedFee: fixedFee,
		Status:  storage.WithdrawStatusConfirmed,
		Created: time.Now(),
	}
	if requireEmailConfirm {
		w.Status = storage.WithdrawStatusPending
		w.ConfirmationToken = newToken()
	}
	if err := m.db.CreateWithdraw(q, w); err != nil {
		return nil, err
	}
	if requireEmailConfirm {
		m.pub.Publish(events.TopicEmail, events.EmailJob{
			MsgType:   "C",
			To:        username,
			EmailType: "CW",
			Params:    map[string]string{"ConfirmationToken": w.ConfirmationToken},
		})
	}
	return w, nil
}

// UserConfirm moves a Pending withdraw with a matching token to Confirmed.
func (m *Machine) UserConfirm(q storage.Querier, w *storage.Withdraw, token string) error {
	if w.Status != storage.WithdrawStatusPending || w.ConfirmationToken != token {
		return nil
	}
	w.Status = storage.WithdrawStatusConfirmed
	return m.db.UpdateWithdraw(q, w)
}

// SetInProgress moves a confirmed withdraw to in-progress, including
// the intentional double-counted fee accounting: only `amount` (not
// paid_amount) is debited here; the fee leg is settled separately on
// SetAsComplete.
func (m *Machine) SetInProgress(q storage.Querier, w *storage.Withdraw, account, broker ledger.Party, reasonIDInsufficient int64) error {
	if w.Status != storage.WithdrawStatusConfirmed {
		return nil
	}

	totalFees := money.PercentPlusFixed(w.Amount, w.FixedFee, w.PercentFee)
	paidAmount := w.Amount + totalFees

	currentBalance, err := m.bal.Get(q, w.AccountID, w.BrokerID, w.Currency)
	if err != nil {
		return err
	}
	if paidAmount > currentBalance {
		return m.Cancel(q, w, reasonIDInsufficient, "insufficient funds", account, broker)
	}

	if err := m.ledger.Withdraw(q, w.Currency, account, broker, w.Amount, fmt.Sprintf("%d", w.ID), ledger.DescWithdraw); err != nil {
		return fmt.Errorf("withdraw: principal debit failed: %w", err)
	}

	w.PaidAmount = paidAmount
	w.Status = storage.WithdrawStatusInProgress
	return m.db.UpdateWithdraw(q, w)
}

// SetAsComplete settles the fee leg (a second debit against the user,
// on top of the principal already taken in SetInProgress) and marks
// the withdraw done.
func (m *Machine) SetAsComplete(q storage.Querier, w *storage.Withdraw, account, broker ledger.Party, data string) error {
	if w.Status != storage.WithdrawStatusInProgress {
		return nil
	}

	if data != "" {
		w.Data = data
	}

	totalFees := money.PercentPlusFixed(w.Amount, w.FixedFee, w.PercentFee)
	if totalFees > 0 {
		if err := m.ledger.Withdraw(q, w.Currency, account, broker, totalFees, fmt.Sprintf("%d", w.ID), ledger.DescWithdrawFee); err != nil {
			return fmt.Errorf("withdraw: fee settlement failed: %w", err)
		}
	}

	w.Status = storage.WithdrawStatusComplete
	return m.db.UpdateWithdraw(q, w)
}

// Cancel reverses the principal debit if the withdraw was in progress;
// a no-op if already complete.
func (m *Machine) Cancel(q storage.Querier, w *storage.Withdraw, reasonID int64, reason string, account, broker ledger.Party) error {
	if w.Status == storage.WithdrawStatusComplete {
		return nil
	}
	if w.Status == storage.WithdrawStatusInProgress {
		if err := m.ledger.Transfer(q, w.Currency, broker, account, w.Amount, fmt.Sprintf("%d", w.ID), ledger.DescWithdraw); err != nil {
			return fmt.Errorf("withdraw: reversal failed: %w", err)
		}
	}
	w.Status = storage.WithdrawStatusCancelled
	w.ReasonID = reasonID
	w.Reason = reason
	return m.db.UpdateWithdraw(q, w)
}
