// Package deposit implements the deposit state machine and its
// embedded instruction interpreter, grounded on original_source's
// Deposit.process_confirmation/get_instructions.
package deposit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
	"github.com/klingon-exchange/exchanged/pkg/money"
)

// ConfirmationTier is one (amount_lo, amount_hi, min_confirmations) rule
// from a broker's crypto_currencies config.
type ConfirmationTier struct {
	AmountLo      int64
	AmountHi      int64
	MinConfirmations int
}

// Machine drives deposit state transitions against storage.
type Machine struct {
	db     *storage.Storage
	ledger *ledger.Ledger
}

// New creates a deposit Machine.
func New(db *storage.Storage, l *ledger.Ledger) *Machine {
	return &Machine{db: db, ledger: l}
}

// Create starts a new deposit in the Pending state. address is the
// watch-only deposit address resolved for CRY deposits (empty for
// non-crypto deposit types, which settle out of band).
func (m *Machine) Create(q storage.Querier, userID, accountID, brokerID int64, depositType, currency string, value int64, instructions string, clientOrderID string, address string) (*storage.Deposit, error) {
	d := &storage.Deposit{
		ID:            uuid.New().String(),
		UserID:        userID,
		AccountID:     accountID,
		BrokerID:      brokerID,
		Type:          depositType,
		Currency:      currency,
		Address:       address,
		Value:         value,
		Status:        storage.DepositStatusPending,
		Instructions:  instructions,
		ClientOrderID: clientOrderID,
		Created:       time.Now(),
	}
	if err := m.db.CreateDeposit(q, d); err != nil {
		return nil, err
	}
	return d, nil
}

// UserConfirm moves a deposit from Pending to User-confirmed, merging
// extra data into its data bag.
func (m *Machine) UserConfirm(q storage.Querier, d *storage.Deposit, data map[string]interface{}) error {
	if d.Status != storage.DepositStatusPending {
		return nil
	}
	merged, err := mergeJSON(d.Data, data)
	if err != nil {
		return err
	}
	d.Data = merged
	if txID, ok := data["TxID"].(string); ok && txID != "" {
		d.TxID = txID
	}
	d.Status = storage.DepositStatusUnconfirmed
	return m.db.UpdateDeposit(q, d)
}

// SetInProgress moves a deposit from {Pending,User-confirmed} to
// In-progress; a no-op from {In-progress,Complete}.
func (m *Machine) SetInProgress(q storage.Querier, d *storage.Deposit) error {
	switch d.Status {
	case storage.DepositStatusInProgress, storage.DepositStatusComplete:
		return nil
	case storage.DepositStatusPending, storage.DepositStatusUnconfirmed:
		d.Status = storage.DepositStatusInProgress
		return m.db.UpdateDeposit(q, d)
	default:
		return nil
	}
}

// ProcessConfirmation advances a deposit on a new confirmation count,
// crediting it once its confirmation threshold is met.
// accountParty/brokerParty identify the ledger parties; tiers is the
// broker's confirmation-threshold table for CRY deposits (nil/empty for
// non-crypto types, which are always confirmable).
func (m *Machine) ProcessConfirmation(q storage.Querier, d *storage.Deposit, amount, percentFee, fixedFee int64, data map[string]interface{}, tiers []ConfirmationTier, accountParty, brokerParty ledger.Party) (*Instruction, error) {
	d.PaidValue = amount

	confirmations, _ := dataInt(data, "Confirmations")
	confirmable := true
	if d.Type == "CRY" {
		confirmable = false
		for _, tier := range tiers {
			if tier.AmountLo < amount && amount <= tier.AmountHi {
				confirmable = confirmations >= tier.MinConfirmations
				break
			}
		}
	}

	if !confirmable || d.Status == storage.DepositStatusComplete {
		return nil, nil
	}

	merged, err := mergeJSON(d.Data, data)
	if err != nil {
		return nil, err
	}

	d.Status = storage.DepositStatusComplete
	d.PercentFee = percentFee
	d.FixedFee = fixedFee
	d.Data = merged

	if err := m.ledger.Deposit(q, d.Currency, brokerParty, accountParty, d.PaidValue, d.ID, ledger.DescDeposit); err != nil {
		return nil, fmt.Errorf("deposit: credit failed: %w", err)
	}

	totalFees := money.PercentPlusFixed(d.PaidValue, fixedFee, percentFee)
	if totalFees > 0 {
		if err := m.ledger.Withdraw(q, d.Currency, accountParty, brokerParty, totalFees, d.ID, ledger.DescDepositFee); err != nil {
			return nil, fmt.Errorf("deposit: fee failed: %w", err)
		}
	}

	if err := m.db.UpdateDeposit(q, d); err != nil {
		return nil, err
	}

	if d.Instructions == "" {
		return nil, nil
	}
	return resolveInstruction(d)
}

// Cancel reverses the credit if the deposit was already complete,
// then marks it cancelled.
func (m *Machine) Cancel(q storage.Querier, d *storage.Deposit, reasonID int64, reason string, accountParty, brokerParty ledger.Party) error {
	if d.Status == storage.DepositStatusComplete {
		if err := m.ledger.Withdraw(q, d.Currency, accountParty, brokerParty, d.PaidValue, d.ID, ledger.DescDeposit); err != nil {
			return fmt.Errorf("deposit: reversal failed: %w", err)
		}
	}
	d.Status = storage.DepositStatusCancelled
	d.ReasonID = reasonID
	d.Reason = reason
	return m.db.UpdateDeposit(q, d)
}

// Instruction is one decoded, substituted entry from an instruction's
// Msg, ready to enqueue as a new order.
type Instruction struct {
	MsgType  string
	ClOrdID  string
	Symbol   string
	Side     string
	OrderQty string
	Price    string
	raw      map[string]interface{}
}

type instructionSpec struct {
	Timeout   *int64                 `json:"Timeout,omitempty"`
	OnTimeout string                 `json:"onTimeout,omitempty"`
	Filter    *instructionFilter     `json:"Filter,omitempty"`
	Msg       map[string]interface{} `json:"Msg"`
}

type instructionFilter struct {
	Value     *int64 `json:"Value,omitempty"`
	PaidValue *int64 `json:"PaidValue,omitempty"`
}

// resolveInstruction picks the first matching instruction per the
// embedded interpreter's rules and substitutes its template tokens.
// Malformed instructions are swallowed as "no auto-route".
func resolveInstruction(d *storage.Deposit) (*Instruction, error) {
	var specs []instructionSpec
	if err := json.Unmarshal([]byte(d.Instructions), &specs); err != nil {
		return nil, nil
	}

	age := time.Since(d.Created).Seconds()

	for _, it := range specs {
		timedOut := it.Timeout != nil && age >= float64(*it.Timeout)
		if timedOut && it.OnTimeout == "break" {
			break
		}
		if timedOut && it.OnTimeout != "continue" && it.OnTimeout != "" {
			continue
		}
		if it.Filter != nil {
			if it.Filter.Value != nil && *it.Filter.Value != d.Value {
				continue
			}
			if it.Filter.PaidValue != nil && *it.Filter.PaidValue != d.PaidValue {
				continue
			}
		}
		if it.Msg == nil {
			continue
		}
		return substituteInstruction(it.Msg, d), nil
	}
	return nil, nil
}

func substituteInstruction(msg map[string]interface{}, d *storage.Deposit) *Instruction {
	tokens := map[string]string{
		"{$Value}":     strconv.FormatInt(d.Value, 10),
		"{$PaidValue}": strconv.FormatInt(d.PaidValue, 10),
		"{$ClOrdID}":   d.ClientOrderID,
	}
	substituted := make(map[string]interface{}, len(msg))
	for k, v := range msg {
		s, ok := v.(string)
		if !ok {
			substituted[k] = v
			continue
		}
		for token, value := range tokens {
			s = strings.ReplaceAll(s, token, value)
		}
		substituted[k] = s
	}

	str := func(key string) string {
		if v, ok := substituted[key].(string); ok {
			return v
		}
		return ""
	}

	return &Instruction{
		MsgType:  "D",
		ClOrdID:  str("ClOrdID"),
		Symbol:   str("Symbol"),
		Side:     str("Side"),
		OrderQty: str("OrderQty"),
		Price:    str("Price"),
		raw:      substituted,
	}
}

func mergeJSON(existing string, extra map[string]interface{}) (string, error) {
	data := map[string]interface{}{}
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &data); err != nil {
			data = map[string]interface{}{}
		}
	}
	for k, v := range extra {
		data[k] = v
	}
	out, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("deposit: failed to merge data: %w", err)
	}
	return string(out), nil
}

func dataInt(data map[string]interface{}, key string) (int, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
