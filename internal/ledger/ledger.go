// Package ledger implements the double-entry primitives: transfer,
// deposit, withdraw, and trade settlement. Every primitive runs on the
// storage.Querier its caller passes in; its postings and balance deltas
// commit or fail together when that Querier is a transaction.
package ledger

import (
	"fmt"
	"time"

	"github.com/klingon-exchange/exchanged/internal/balance"
	"github.com/klingon-exchange/exchanged/internal/storage"
	"github.com/klingon-exchange/exchanged/pkg/money"
)

// Description codes, short tags clients filter ledger rows by.
const (
	DescTrade       = "T"
	DescTradeFee    = "TF"
	DescDeposit     = "D"
	DescDepositFee  = "DF"
	DescWithdraw    = "W"
	DescWithdrawFee = "WF"
	DescBonus       = "B"
)

// Party identifies one side of a posting.
type Party struct {
	AccountID int64
	Name      string
	BrokerID  int64
	BrokerName string
}

// Ledger wires the balance Store and Storage together behind the
// transfer/deposit/withdraw/execute_order primitives.
type Ledger struct {
	db  *storage.Storage
	bal *balance.Store
}

// New creates a Ledger.
func New(db *storage.Storage, bal *balance.Store) *Ledger {
	return &Ledger{db: db, bal: bal}
}

func (l *Ledger) post(q storage.Querier, currency string, from, to Party, amount int64, reference, description string) error {
	now := time.Now()

	fromBalance, err := l.bal.Update(q, balance.Debit, from.AccountID, from.BrokerID, currency, amount)
	if err != nil {
		return fmt.Errorf("ledger: debit failed: %w", err)
	}
	if err := l.db.CreateLedgerEntry(q, &storage.LedgerEntry{
		Currency: currency, AccountID: from.AccountID, AccountName: from.Name,
		BrokerID: from.BrokerID, BrokerName: from.BrokerName,
		PayeeID: to.AccountID, PayeeName: to.Name,
		PayeeBrokerID: to.BrokerID, PayeeBrokerName: to.BrokerName,
		Operation: storage.LedgerDebit, Amount: amount, Balance: fromBalance,
		Reference: reference, Created: now, Description: description,
	}); err != nil {
		return fmt.Errorf("ledger: debit posting failed: %w", err)
	}

	toBalance, err := l.bal.Update(q, balance.Credit, to.AccountID, to.BrokerID, currency, amount)
	if err != nil {
		return fmt.Errorf("ledger: credit failed: %w", err)
	}
	if err := l.db.CreateLedgerEntry(q, &storage.LedgerEntry{
		Currency: currency, AccountID: to.AccountID, AccountName: to.Name,
		BrokerID: to.BrokerID, BrokerName: to.BrokerName,
		PayeeID: from.AccountID, PayeeName: from.Name,
		PayeeBrokerID: from.BrokerID, PayeeBrokerName: from.BrokerName,
		Operation: storage.LedgerCredit, Amount: amount, Balance: toBalance,
		Reference: reference, Created: now, Description: description,
	}); err != nil {
		return fmt.Errorf("ledger: credit posting failed: %w", err)
	}

	return nil
}

// Transfer debits `from` and credits `to` the same amount, sharing a
// reference across both postings.
func (l *Ledger) Transfer(q storage.Querier, currency string, from, to Party, amount int64, reference, description string) error {
	return l.post(q, currency, from, to, amount, reference, description)
}

// Deposit credits account from a broker-held pool (payee) — used by the
// deposit state machine's funds-in leg.
func (l *Ledger) Deposit(q storage.Querier, currency string, broker, account Party, amount int64, reference, description string) error {
	return l.Transfer(q, currency, broker, account, amount, reference, description)
}

// Withdraw debits account to a broker-held pool (payee) — used by the
// withdraw state machine's funds-out leg.
func (l *Ledger) Withdraw(q storage.Querier, currency string, account, broker Party, amount int64, reference, description string) error {
	return l.Transfer(q, currency, account, broker, amount, reference, description)
}

// Side describes one party to a trade for settlement purposes.
type Side struct {
	Party
	IsBuyer  bool
	FeeBps   int64
}

// ExecuteOrder settles one fill between two sides of a trade: splits
// the notional into base/quote legs, then applies each side's bps fee
// independently, all under the shared trade reference.
func ExecuteOrder(l *Ledger, q storage.Querier, symbol string, buyer, seller Side, qty, price int64, tradeID string) error {
	if len(symbol) < 6 {
		return fmt.Errorf("ledger: invalid symbol %q", symbol)
	}
	base := symbol[0:3]
	quote := symbol[3:6]
	notional := money.Notional(price, qty, 100000000)

	if err := l.Transfer(q, quote, buyer.Party, seller.Party, notional, tradeID, DescTrade); err != nil {
		return fmt.Errorf("ledger: quote leg failed: %w", err)
	}
	if err := l.Transfer(q, base, seller.Party, buyer.Party, qty, tradeID, DescTrade); err != nil {
		return fmt.Errorf("ledger: base leg failed: %w", err)
	}

	for _, side := range []Side{buyer, seller} {
		feeCurrency := quote
		feeBaseAmount := notional
		if side.IsBuyer {
			feeCurrency = base
			feeBaseAmount = qty
		}
		fee := money.Fee(feeBaseAmount, side.FeeBps)
		if fee <= 0 {
			continue
		}
		if err := l.Transfer(q, feeCurrency, side.Party, Party{
			AccountID: side.BrokerID, Name: side.BrokerName, BrokerID: side.BrokerID, BrokerName: side.BrokerName,
		}, fee, tradeID, DescTradeFee); err != nil {
			return fmt.Errorf("ledger: fee leg failed: %w", err)
		}
	}

	return nil
}
