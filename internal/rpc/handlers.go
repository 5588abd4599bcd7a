package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/exchanged/internal/address"
	"github.com/klingon-exchange/exchanged/internal/chain"
	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/deposit"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
)

func unmarshalParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return fmt.Errorf("rpc: missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("rpc: invalid params: %w", err)
	}
	return nil
}

func (s *Server) party(accountID, brokerID int64) (ledger.Party, error) {
	u, err := s.store.GetUser(s.store.DB(), accountID)
	if err != nil {
		return ledger.Party{}, err
	}
	return ledger.Party{AccountID: u.ID, Name: u.Username, BrokerID: u.BrokerID, BrokerName: u.BrokerUsername}, nil
}

func (s *Server) brokerParty(brokerID int64) (ledger.Party, error) {
	b, err := s.store.GetBroker(s.store.DB(), brokerID)
	if err != nil {
		return ledger.Party{}, err
	}
	return ledger.Party{AccountID: b.ID, Name: b.ShortName, BrokerID: b.ID, BrokerName: b.ShortName}, nil
}

// --- orders ---------------------------------------------------------------

type orderPlaceParams struct {
	UserID        int64  `json:"user_id"`
	AccountID     int64  `json:"account_id"`
	BrokerID      int64  `json:"broker_id"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	Price         int64  `json:"price"`
	OrderQty      int64  `json:"order_qty"`
	Fee           int64  `json:"fee"`
}

type orderPlaceResult struct {
	Order  *storage.Order   `json:"order"`
	Trades []*storage.Trade `json:"trades"`
}

func (s *Server) orderPlace(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p orderPlaceParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	u, err := s.store.GetUser(s.store.DB(), p.AccountID)
	if err != nil {
		return nil, err
	}

	o := &storage.Order{
		UserID: p.UserID, AccountID: p.AccountID, BrokerID: p.BrokerID,
		ClientOrderID: p.ClientOrderID, Status: storage.OrderStatusNew,
		Symbol: p.Symbol, Side: p.Side, Type: p.Type, TimeInForce: p.TimeInForce,
		Price: p.Price, OrderQty: p.OrderQty, LeavesQty: p.OrderQty, Fee: p.Fee,
		Username: u.Username, AccountUsername: u.Username, BrokerUsername: u.BrokerUsername,
	}

	order, trades, err := s.matcher.PlaceOrder(o)
	if err != nil {
		return nil, err
	}
	return orderPlaceResult{Order: order, Trades: trades}, nil
}

type orderCancelParams struct {
	OrderID int64 `json:"order_id"`
}

func (s *Server) orderCancel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p orderCancelParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	o, err := s.store.GetOrder(s.store.DB(), p.OrderID)
	if err != nil {
		return nil, err
	}
	if err := s.matcher.CancelOrder(o); err != nil {
		return nil, err
	}
	return o, nil
}

type orderGetParams struct {
	OrderID int64 `json:"order_id"`
}

func (s *Server) orderGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p orderGetParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.store.GetOrder(s.store.DB(), p.OrderID)
}

type orderListParams struct {
	AccountID *int64 `json:"account_id,omitempty"`
	BrokerID  *int64 `json:"broker_id,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Status    string `json:"status,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Server) orderList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p orderListParams
	if len(params) > 0 {
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
	}
	return s.store.ListOrders(s.store.DB(), storage.OrderFilter{
		AccountID: p.AccountID, BrokerID: p.BrokerID, Symbol: p.Symbol, Status: p.Status, Limit: p.Limit,
	})
}

// --- deposits ---------------------------------------------------------------

type depositCreateParams struct {
	UserID        int64  `json:"user_id"`
	AccountID     int64  `json:"account_id"`
	BrokerID      int64  `json:"broker_id"`
	Type          string `json:"type"`
	Currency      string `json:"currency"`
	Value         int64  `json:"value"`
	Instructions  string `json:"instructions,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

func (s *Server) depositCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p depositCreateParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	var depositAddr string
	if p.Type == "CRY" {
		addr, err := s.deriveDepositAddress(p.Currency, p.AccountID)
		if err != nil {
			return nil, err
		}
		depositAddr = addr
	}

	var d *storage.Deposit
	err := s.store.WithQuerier(func(q storage.Querier) error {
		created, err := s.deposits.Create(q, p.UserID, p.AccountID, p.BrokerID, p.Type, p.Currency, p.Value, p.Instructions, p.ClientOrderID, depositAddr)
		d = created
		return err
	})
	return d, err
}

// deriveDepositAddress resolves a fresh watch-only receive address for a
// CRY deposit from the currency's catalogued extended public key, deriving
// the account's own address index so the same account always recovers the
// same address. The derived address is validated before it's ever handed
// back to a caller.
func (s *Server) deriveDepositAddress(currency string, accountID int64) (string, error) {
	xpub, ok := config.DepositXpubs[currency]
	if !ok {
		return "", fmt.Errorf("rpc: no deposit xpub catalogued for %s", currency)
	}
	addr, err := address.DeriveWatchAddress(currency, chain.Mainnet, xpub, uint32(accountID))
	if err != nil {
		return "", fmt.Errorf("rpc: failed to derive deposit address: %w", err)
	}
	if err := address.Validate(currency, chain.Mainnet, addr); err != nil {
		return "", fmt.Errorf("rpc: derived deposit address failed validation: %w", err)
	}
	return addr, nil
}

type depositIDParams struct {
	DepositID string `json:"deposit_id"`
}

func (s *Server) depositUserConfirm(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		DepositID string                 `json:"deposit_id"`
		Data      map[string]interface{} `json:"data,omitempty"`
	}
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var d *storage.Deposit
	err := s.store.WithQuerier(func(q storage.Querier) error {
		dep, err := s.store.GetDeposit(q, p.DepositID)
		if err != nil {
			return err
		}
		if err := s.deposits.UserConfirm(q, dep, p.Data); err != nil {
			return err
		}
		d = dep
		return nil
	})
	return d, err
}

func (s *Server) depositSetInProgress(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p depositIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var d *storage.Deposit
	err := s.store.WithQuerier(func(q storage.Querier) error {
		dep, err := s.store.GetDeposit(q, p.DepositID)
		if err != nil {
			return err
		}
		if err := s.deposits.SetInProgress(q, dep); err != nil {
			return err
		}
		d = dep
		return nil
	})
	return d, err
}

type depositProcessConfirmationParams struct {
	DepositID  string                 `json:"deposit_id"`
	Amount     int64                  `json:"amount"`
	PercentFee int64                  `json:"percent_fee"`
	FixedFee   int64                  `json:"fixed_fee"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

type depositProcessConfirmationResult struct {
	Deposit     *storage.Deposit     `json:"deposit"`
	Instruction *deposit.Instruction `json:"instruction,omitempty"`
}

func (s *Server) depositProcessConfirmation(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p depositProcessConfirmationParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	var result depositProcessConfirmationResult
	err := s.store.WithQuerier(func(q storage.Querier) error {
		dep, err := s.store.GetDeposit(q, p.DepositID)
		if err != nil {
			return err
		}

		if confirmations, ok := s.chainConfirmations(ctx, dep); ok {
			if p.Data == nil {
				p.Data = make(map[string]interface{})
			}
			p.Data["Confirmations"] = confirmations
		}

		accountParty, err := s.party(dep.AccountID, dep.BrokerID)
		if err != nil {
			return err
		}
		brokerParty, err := s.brokerParty(dep.BrokerID)
		if err != nil {
			return err
		}

		tiers := s.confirmationTiers(dep.BrokerID, dep.Currency)

		instr, err := s.deposits.ProcessConfirmation(q, dep, p.Amount, p.PercentFee, p.FixedFee, p.Data, tiers, accountParty, brokerParty)
		if err != nil {
			return err
		}
		result.Deposit = dep
		result.Instruction = instr
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Instruction != nil && result.Instruction.Symbol != "" {
		s.routeDepositInstruction(result.Deposit, result.Instruction)
	}
	return result, nil
}

type depositCancelParams struct {
	DepositID string `json:"deposit_id"`
	ReasonID  int64  `json:"reason_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) depositCancel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p depositCancelParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var d *storage.Deposit
	err := s.store.WithQuerier(func(q storage.Querier) error {
		dep, err := s.store.GetDeposit(q, p.DepositID)
		if err != nil {
			return err
		}
		accountParty, err := s.party(dep.AccountID, dep.BrokerID)
		if err != nil {
			return err
		}
		brokerParty, err := s.brokerParty(dep.BrokerID)
		if err != nil {
			return err
		}
		if err := s.deposits.Cancel(q, dep, p.ReasonID, p.Reason, accountParty, brokerParty); err != nil {
			return err
		}
		d = dep
		return nil
	})
	return d, err
}

func (s *Server) depositGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p depositIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.store.GetDeposit(s.store.DB(), p.DepositID)
}

type depositListParams struct {
	AccountID int64 `json:"account_id"`
	BrokerID  int64 `json:"broker_id"`
}

func (s *Server) depositList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p depositListParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.store.ListDepositsByAccount(s.store.DB(), p.AccountID, p.BrokerID)
}

// confirmationTiers resolves the broker-configured confirmation tiers for
// a crypto currency from the broker's stored CryptoCurrencies blob.
func (s *Server) confirmationTiers(brokerID int64, currency string) []deposit.ConfirmationTier {
	b, err := s.store.GetBroker(s.store.DB(), brokerID)
	if err != nil {
		return nil
	}
	var byCurrency map[string][]struct {
		AmountLo         int64 `json:"AmountLo"`
		AmountHi         int64 `json:"AmountHi"`
		MinConfirmations int   `json:"MinConfirmations"`
	}
	if err := json.Unmarshal([]byte(b.CryptoCurrencies), &byCurrency); err != nil {
		return nil
	}
	tiers := byCurrency[currency]
	out := make([]deposit.ConfirmationTier, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, deposit.ConfirmationTier{AmountLo: t.AmountLo, AmountHi: t.AmountHi, MinConfirmations: t.MinConfirmations})
	}
	return out
}

// chainConfirmations sources a CRY deposit's confirmation count straight
// from the chain via the backend registered for its currency, rather than
// trusting a caller-supplied count. It returns ok=false whenever no backend
// is wired for the currency, the deposit hasn't reported a broadcast txid
// yet, or the lookup fails — callers fall back to the caller-supplied
// count in all of those cases.
func (s *Server) chainConfirmations(ctx context.Context, d *storage.Deposit) (int64, bool) {
	if s.backends == nil || d.Type != "CRY" || d.TxID == "" {
		return 0, false
	}
	b, ok := s.backends.Get(d.Currency)
	if !ok {
		return 0, false
	}
	tx, err := b.GetTransaction(ctx, d.TxID)
	if err != nil {
		s.log.Warn("failed to fetch deposit transaction from chain backend", "deposit_id", d.ID, "currency", d.Currency, "error", err)
		return 0, false
	}
	return tx.Confirmations, true
}

// routeDepositInstruction turns a resolved deposit auto-route instruction
// into a new order placement.
func (s *Server) routeDepositInstruction(d *storage.Deposit, instr *deposit.Instruction) {
	var price, qty int64
	fmt.Sscanf(instr.Price, "%d", &price)
	fmt.Sscanf(instr.OrderQty, "%d", &qty)
	if qty <= 0 {
		return
	}

	orderType := storage.OrderTypeLimit
	if price <= 0 {
		orderType = storage.OrderTypeMarket
	}

	u, err := s.store.GetUser(s.store.DB(), d.AccountID)
	if err != nil {
		return
	}

	o := &storage.Order{
		UserID: d.UserID, AccountID: d.AccountID, BrokerID: d.BrokerID,
		ClientOrderID: instr.ClOrdID, Status: storage.OrderStatusNew,
		Symbol: instr.Symbol, Side: instr.Side, Type: orderType,
		TimeInForce: "0", Price: price, OrderQty: qty, LeavesQty: qty,
		Username: u.Username, AccountUsername: u.Username, BrokerUsername: u.BrokerUsername,
	}
	if _, _, err := s.matcher.PlaceOrder(o); err != nil {
		s.log.Warn("deposit auto-route order failed", "deposit_id", d.ID, "error", err)
	}
}

// --- withdraws --------------------------------------------------------------

type withdrawCreateParams struct {
	UserID              int64  `json:"user_id"`
	AccountID           int64  `json:"account_id"`
	BrokerID            int64  `json:"broker_id"`
	Currency            string `json:"currency"`
	Amount              int64  `json:"amount"`
	Method              string `json:"method"`
	Data                string `json:"data,omitempty"`
	ClientOrderID       string `json:"client_order_id,omitempty"`
	PercentFee          int64  `json:"percent_fee"`
	FixedFee            int64  `json:"fixed_fee"`
	RequireEmailConfirm bool   `json:"require_email_confirm"`
}

func (s *Server) withdrawCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p withdrawCreateParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(s.store.DB(), p.AccountID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.GetBroker(s.store.DB(), p.BrokerID)
	if err != nil {
		return nil, err
	}

	var w *storage.Withdraw
	err = s.store.WithQuerier(func(q storage.Querier) error {
		created, err := s.withdraws.Create(q, p.UserID, p.AccountID, p.BrokerID, u.Username, b.ShortName,
			p.Currency, p.Amount, p.Method, p.Data, p.ClientOrderID, p.PercentFee, p.FixedFee, p.RequireEmailConfirm)
		w = created
		return err
	})
	return w, err
}

type withdrawIDParams struct {
	WithdrawID int64 `json:"withdraw_id"`
}

func (s *Server) withdrawUserConfirm(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		WithdrawID int64  `json:"withdraw_id"`
		Token      string `json:"token"`
	}
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var w *storage.Withdraw
	err := s.store.WithQuerier(func(q storage.Querier) error {
		wd, err := s.store.GetWithdraw(q, p.WithdrawID)
		if err != nil {
			return err
		}
		if err := s.withdraws.UserConfirm(q, wd, p.Token); err != nil {
			return err
		}
		w = wd
		return nil
	})
	return w, err
}

func (s *Server) withdrawSetInProgress(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p withdrawIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var w *storage.Withdraw
	err := s.store.WithQuerier(func(q storage.Querier) error {
		wd, err := s.store.GetWithdraw(q, p.WithdrawID)
		if err != nil {
			return err
		}
		account, err := s.party(wd.AccountID, wd.BrokerID)
		if err != nil {
			return err
		}
		broker, err := s.brokerParty(wd.BrokerID)
		if err != nil {
			return err
		}
		const reasonInsufficientFunds = 1
		if err := s.withdraws.SetInProgress(q, wd, account, broker, reasonInsufficientFunds); err != nil {
			return err
		}
		w = wd
		return nil
	})
	return w, err
}

func (s *Server) withdrawComplete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		WithdrawID int64  `json:"withdraw_id"`
		Data       string `json:"data,omitempty"`
	}
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var w *storage.Withdraw
	err := s.store.WithQuerier(func(q storage.Querier) error {
		wd, err := s.store.GetWithdraw(q, p.WithdrawID)
		if err != nil {
			return err
		}
		account, err := s.party(wd.AccountID, wd.BrokerID)
		if err != nil {
			return err
		}
		broker, err := s.brokerParty(wd.BrokerID)
		if err != nil {
			return err
		}
		if err := s.withdraws.SetAsComplete(q, wd, account, broker, p.Data); err != nil {
			return err
		}
		w = wd
		return nil
	})
	return w, err
}

func (s *Server) withdrawCancel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		WithdrawID int64  `json:"withdraw_id"`
		ReasonID   int64  `json:"reason_id,omitempty"`
		Reason     string `json:"reason,omitempty"`
	}
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var w *storage.Withdraw
	err := s.store.WithQuerier(func(q storage.Querier) error {
		wd, err := s.store.GetWithdraw(q, p.WithdrawID)
		if err != nil {
			return err
		}
		account, err := s.party(wd.AccountID, wd.BrokerID)
		if err != nil {
			return err
		}
		broker, err := s.brokerParty(wd.BrokerID)
		if err != nil {
			return err
		}
		if err := s.withdraws.Cancel(q, wd, p.ReasonID, p.Reason, account, broker); err != nil {
			return err
		}
		w = wd
		return nil
	})
	return w, err
}

func (s *Server) withdrawGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p withdrawIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.store.GetWithdraw(s.store.DB(), p.WithdrawID)
}

type withdrawListParams struct {
	AccountID int64 `json:"account_id"`
	BrokerID  int64 `json:"broker_id"`
}

func (s *Server) withdrawList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p withdrawListParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.store.ListWithdrawsByAccount(s.store.DB(), p.AccountID, p.BrokerID)
}

// --- transfers / balances ----------------------------------------------------

type transferCreateParams struct {
	Currency      string `json:"currency"`
	FromAccountID int64  `json:"from_account_id"`
	FromBrokerID  int64  `json:"from_broker_id"`
	ToAccountID   int64  `json:"to_account_id"`
	ToBrokerID    int64  `json:"to_broker_id"`
	Amount        int64  `json:"amount"`
	Reference     string `json:"reference"`
	Description   string `json:"description,omitempty"`
}

func (s *Server) transferCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p transferCreateParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	from, err := s.party(p.FromAccountID, p.FromBrokerID)
	if err != nil {
		return nil, err
	}
	to, err := s.party(p.ToAccountID, p.ToBrokerID)
	if err != nil {
		return nil, err
	}
	desc := p.Description
	if desc == "" {
		desc = ledger.DescBonus
	}
	err = s.store.WithQuerier(func(q storage.Querier) error {
		return s.ledger.Transfer(q, p.Currency, from, to, p.Amount, p.Reference, desc)
	})
	return map[string]bool{"ok": err == nil}, err
}

type balanceGetParams struct {
	AccountID int64  `json:"account_id"`
	BrokerID  int64  `json:"broker_id"`
	Currency  string `json:"currency"`
}

func (s *Server) balanceGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p balanceGetParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	amount, err := s.balances.Get(s.store.DB(), p.AccountID, p.BrokerID, p.Currency)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"account_id": p.AccountID, "broker_id": p.BrokerID, "currency": p.Currency, "balance": amount}, nil
}

type balanceListParams struct {
	AccountID int64 `json:"account_id"`
	BrokerID  int64 `json:"broker_id"`
}

func (s *Server) balanceList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p balanceListParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.balances.List(s.store.DB(), p.AccountID, p.BrokerID)
}

// --- account verification -----------------------------------------------------

type userVerifyParams struct {
	AccountID        int64  `json:"account_id"`
	Verified         int    `json:"verified"`
	VerificationData string `json:"verification_data,omitempty"`
}

func (s *Server) userVerify(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p userVerifyParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var changed bool
	err := s.store.WithQuerier(func(q storage.Querier) error {
		u, err := s.store.GetUser(q, p.AccountID)
		if err != nil {
			return err
		}
		changed, err = s.accounts.SetVerified(q, u, p.Verified, p.VerificationData)
		return err
	})
	return map[string]bool{"changed": changed}, err
}

// --- reporting ------------------------------------------------------------

func (s *Server) reportingReconcile(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.reporting == nil {
		return nil, fmt.Errorf("rpc: reporting not configured")
	}
	return s.reporting.Reconcile(ctx)
}
