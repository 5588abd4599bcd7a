package matching

import (
	"fmt"
	"sync"

	"github.com/klingon-exchange/exchanged/internal/balance"
	"github.com/klingon-exchange/exchanged/internal/events"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/storage"
	"github.com/klingon-exchange/exchanged/internal/trade"
	"github.com/klingon-exchange/exchanged/pkg/money"
)

const pip = 100000000

// ErrRejected is returned by PlaceOrder when the self-affordability cap
// reduces the order to zero executable quantity.
var ErrRejected = fmt.Errorf("matching: order rejected, insufficient balance")

// Matcher owns one Book per symbol and drives the order placement and
// matching algorithm.
type Matcher struct {
	db       *storage.Storage
	bal      *balance.Store
	recorder *trade.Recorder
	pub      events.Publisher

	mu    sync.Mutex
	books map[string]*Book
}

// New creates a Matcher. pub receives TopicOrder and TopicTrade events
// for every placement and fill; pass events.NopPublisher{} if nothing
// subscribes.
func New(db *storage.Storage, bal *balance.Store, recorder *trade.Recorder, pub events.Publisher) *Matcher {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Matcher{db: db, bal: bal, recorder: recorder, pub: pub, books: make(map[string]*Book)}
}

// BookFor returns (creating if necessary) the book for a symbol.
func (m *Matcher) BookFor(symbol string) *Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[symbol]
	if !ok {
		b = NewBook(symbol)
		m.books[symbol] = b
	}
	return b
}

// LoadRestingOrders seeds a symbol's book from persisted New/Partial
// orders, for matcher startup.
func (m *Matcher) LoadRestingOrders(symbol string) error {
	orders, err := m.db.GetRestingOrders(m.db.DB(), symbol)
	if err != nil {
		return fmt.Errorf("matching: failed to load resting orders: %w", err)
	}
	m.BookFor(symbol).Load(orders)
	return nil
}

func ledgerPartyFromBroker(b *storage.Broker) ledger.Party {
	return ledger.Party{AccountID: b.ID, Name: b.ShortName, BrokerID: b.ID, BrokerName: b.ShortName}
}

// affordability computes the self-affordability cap for order o
// against book: the maximum quantity the placing account can actually
// back with its own balance.
func (m *Matcher) affordability(o *storage.Order, symbol string, book *Book) (int64, error) {
	base := symbol[0:3]
	quote := symbol[3:6]

	if IsSell(o) {
		baseBalance, err := m.bal.Get(m.db.DB(), o.AccountID, o.BrokerID, base)
		if err != nil {
			return 0, err
		}
		if baseBalance < o.OrderQty {
			return baseBalance, nil
		}
		return o.OrderQty, nil
	}

	quoteBalance, err := m.bal.Get(m.db.DB(), o.AccountID, o.BrokerID, quote)
	if err != nil {
		return 0, err
	}

	price := o.Price
	if IsMarket(o) {
		if best, ok := book.bestHeadPrice(storage.SideBuy); ok {
			price = best
		} else {
			// No opposite liquidity to cap against; the order will
			// simply find nothing to cross and cancel.
			return o.OrderQty, nil
		}
	}
	if price <= 0 {
		return 0, fmt.Errorf("matching: invalid price for affordability check")
	}

	available := money.Notional(quoteBalance, pip, price)
	if available > o.OrderQty {
		available = o.OrderQty
	}
	return available, nil
}

// PlaceOrder runs the full placement algorithm for a new order: the
// affordability cap, the match loop against the opposite book, and
// residual placement or cancellation. The whole sequence runs under the
// symbol's book lock and a single storage transaction, so no external
// observer sees an intermediate state.
// PlaceOrder expects o.Fee to already carry the account's configured
// fee rate in basis points (resolved by the caller from the placing
// user's transaction_fee_buy/sell); counter orders carry their own Fee
// from when they were placed.
func (m *Matcher) PlaceOrder(o *storage.Order) (*storage.Order, []*storage.Trade, error) {
	book := m.BookFor(o.Symbol)
	book.Lock()
	defer book.Unlock()

	available, err := m.affordability(o, o.Symbol, book)
	if err != nil {
		return nil, nil, err
	}
	if available == 0 {
		return nil, nil, ErrRejected
	}
	o.OrderQty = available
	o.LeavesQty = available

	var trades []*storage.Trade

	txErr := m.db.WithQuerier(func(q storage.Querier) error {
		if err := m.db.CreateOrder(q, o); err != nil {
			return err
		}

		for HasLeaves(o) {
			head := book.peekHead(o.Side)
			if head == nil || !Crosses(o, head) {
				break
			}

			execQty := o.LeavesQty
			if head.LeavesQty < execQty {
				execQty = head.LeavesQty
			}

			var tradePrice int64
			switch {
			case !IsMarket(head):
				tradePrice = head.Price
			case !IsMarket(o):
				tradePrice = o.Price
			default:
				// Both market: no trade occurs, and neither side can make
				// further progress here.
			}
			if tradePrice == 0 {
				break
			}

			buyerOrder, sellerOrder := o, head
			if IsSell(o) {
				buyerOrder, sellerOrder = head, o
			}

			buyerBroker, err := m.db.GetBroker(q, buyerOrder.BrokerID)
			if err != nil {
				return fmt.Errorf("matching: buyer broker lookup failed: %w", err)
			}
			sellerBroker, err := m.db.GetBroker(q, sellerOrder.BrokerID)
			if err != nil {
				return fmt.Errorf("matching: seller broker lookup failed: %w", err)
			}

			t, err := m.recorder.Record(q, trade.Fill{
				Order: o, Counter: head, Symbol: o.Symbol, Qty: execQty, Price: tradePrice,
				BuyerName: buyerOrder.Username, SellerName: sellerOrder.Username,
				BuyerBroker:  ledgerPartyFromBroker(buyerBroker),
				SellerBroker: ledgerPartyFromBroker(sellerBroker),
				BuyerFeeBps:  buyerOrder.Fee,
				SellerFeeBps: sellerOrder.Fee,
			})
			if err != nil {
				return err
			}
			trades = append(trades, t)

			Execute(o, execQty, tradePrice)
			Execute(head, execQty, tradePrice)

			if err := m.db.UpdateOrder(q, o); err != nil {
				return err
			}
			if err := m.db.UpdateOrder(q, head); err != nil {
				return err
			}

			if !HasLeaves(head) {
				book.removeHead(o.Side)
			}
		}

		if HasLeaves(o) {
			if o.Type == storage.OrderTypeLimit {
				book.insert(o)
			} else {
				CancelQty(o, o.LeavesQty)
				if err := m.db.UpdateOrder(q, o); err != nil {
					return err
				}
			}
		}

		return nil
	})
	if txErr != nil {
		return nil, nil, txErr
	}

	m.pub.Publish(events.TopicOrder, o)
	for _, t := range trades {
		m.pub.Publish(events.TopicTrade, t)
	}

	return o, trades, nil
}

// CancelOrder cancels the remainder of a resting order, moving its
// leaves_qty to cxl_qty and removing it from the book if present. A
// no-op if the order has already fully filled or cancelled.
func (m *Matcher) CancelOrder(o *storage.Order) error {
	book := m.BookFor(o.Symbol)
	book.Lock()
	defer book.Unlock()

	if !HasLeaves(o) {
		return nil
	}

	if err := m.db.WithQuerier(func(q storage.Querier) error {
		CancelQty(o, o.LeavesQty)
		book.remove(o)
		return m.db.UpdateOrder(q, o)
	}); err != nil {
		return err
	}

	m.pub.Publish(events.TopicOrder, o)
	return nil
}
