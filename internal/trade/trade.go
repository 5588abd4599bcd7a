// Package trade implements the Trade Recorder: appends a Trade row for
// every fill and drives its settlement through internal/ledger.
package trade

import (
	"fmt"
	"time"

	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
)

// Recorder appends trades and settles them.
type Recorder struct {
	db     *storage.Storage
	ledger *ledger.Ledger
}

// New creates a Recorder.
func New(db *storage.Storage, l *ledger.Ledger) *Recorder {
	return &Recorder{db: db, ledger: l}
}

// Fill describes one match between an aggressive order and a resting
// counter-order, already priced and sized by the matcher.
type Fill struct {
	Order        *storage.Order
	Counter      *storage.Order
	Symbol       string
	Qty          int64
	Price        int64
	BuyerName    string
	SellerName   string
	BuyerBroker  ledger.Party
	SellerBroker ledger.Party
	BuyerFeeBps  int64
	SellerFeeBps int64
}

// Record appends the Trade row with id "{order.id}.{counter.id}" and
// settles both legs via ExecuteOrder.
func (r *Recorder) Record(q storage.Querier, f Fill) (*storage.Trade, error) {
	id := fmt.Sprintf("%d.%d", f.Order.ID, f.Counter.ID)

	var buyerOrder, sellerOrder *storage.Order
	if f.Order.Side == storage.SideBuy {
		buyerOrder, sellerOrder = f.Order, f.Counter
	} else {
		buyerOrder, sellerOrder = f.Counter, f.Order
	}

	t := &storage.Trade{
		ID:             id,
		OrderID:        f.Order.ID,
		CounterOrderID: f.Counter.ID,
		BuyerUsername:  f.BuyerName,
		SellerUsername: f.SellerName,
		Side:           f.Order.Side,
		Symbol:         f.Symbol,
		Size:           f.Qty,
		Price:          f.Price,
		Created:        time.Now(),
	}
	if err := r.db.CreateTrade(q, t); err != nil {
		return nil, fmt.Errorf("trade: record failed: %w", err)
	}

	buyerSide := ledger.Side{
		Party:    ledger.Party{AccountID: buyerOrder.AccountID, Name: f.BuyerName, BrokerID: buyerOrder.BrokerID, BrokerName: f.BuyerBroker.BrokerName},
		IsBuyer:  true,
		FeeBps:   f.BuyerFeeBps,
	}
	sellerSide := ledger.Side{
		Party:    ledger.Party{AccountID: sellerOrder.AccountID, Name: f.SellerName, BrokerID: sellerOrder.BrokerID, BrokerName: f.SellerBroker.BrokerName},
		IsBuyer:  false,
		FeeBps:   f.SellerFeeBps,
	}

	if err := ledger.ExecuteOrder(r.ledger, q, f.Symbol, buyerSide, sellerSide, f.Qty, f.Price, id); err != nil {
		return nil, fmt.Errorf("trade: settlement failed: %w", err)
	}

	return t, nil
}
