// Package balance implements the balance register: a dumb arithmetic
// store over (account, broker, currency) keys. All
// policy lives in the layers above: fee splitting in internal/ledger,
// sufficiency checks in internal/withdraw and internal/matching, reversal
// in the deposit/withdraw cancel paths. This package only applies deltas
// and reports the result.
package balance

import (
	"fmt"
	"time"

	"github.com/klingon-exchange/exchanged/internal/events"
	"github.com/klingon-exchange/exchanged/internal/storage"
)

// Op is the direction of a balance mutation.
type Op int

const (
	Credit Op = iota
	Debit
)

// Store applies balance deltas and publishes U3 events on every mutation.
type Store struct {
	db  *storage.Storage
	pub events.Publisher
}

// New creates a balance Store.
func New(db *storage.Storage, pub events.Publisher) *Store {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Store{db: db, pub: pub}
}

// Get returns the current balance for a key, 0 if the row has never
// been touched.
func (s *Store) Get(q storage.Querier, accountID, brokerID int64, currency string) (int64, error) {
	b, err := s.db.GetBalance(q, accountID, brokerID, currency)
	if err != nil {
		return 0, err
	}
	return b.Balance, nil
}

// Update applies op (CREDIT/DEBIT) of amount to a key and publishes a
// U3 balance-update event. amount must be non-negative; this layer does
// not reject on overdraft, and neither does internal/ledger; sufficiency
// is checked only where a caller does so before posting (withdraw
// SetInProgress, the matcher's affordability cap). Must be called within the same storage
// transaction as any paired ledger posting so the two stay atomic.
func (s *Store) Update(q storage.Querier, op Op, accountID int64, brokerID int64, currency string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("balance: negative amount %d", amount)
	}

	delta := amount
	if op == Debit {
		delta = -amount
	}

	newBalance, err := s.db.ApplyBalanceDelta(q, accountID, brokerID, currency, delta, time.Now())
	if err != nil {
		return 0, fmt.Errorf("balance: update failed: %w", err)
	}

	s.pub.Publish(events.TopicBalance, events.BalanceUpdate{
		MsgType:  "U3",
		ClientID: accountID,
		BrokerID: brokerID,
		Currency: currency,
		Balance:  newBalance,
	})

	return newBalance, nil
}

// List returns every balance row touched for an account/broker pair.
func (s *Store) List(q storage.Querier, accountID, brokerID int64) ([]*storage.Balance, error) {
	return s.db.ListBalances(q, accountID, brokerID)
}
