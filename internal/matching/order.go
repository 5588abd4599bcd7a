// Package matching implements the order book and matcher: price-time
// priority, the self-affordability cap, and the order state machine.
package matching

import (
	"time"

	"github.com/klingon-exchange/exchanged/internal/storage"
)

// IsBuy reports whether o is on the buy side.
func IsBuy(o *storage.Order) bool { return o.Side == storage.SideBuy }

// IsSell reports whether o is on the sell side.
func IsSell(o *storage.Order) bool { return o.Side == storage.SideSell }

// IsMarket reports whether o is a market order.
func IsMarket(o *storage.Order) bool { return o.Type == storage.OrderTypeMarket }

// HasLeaves reports whether o still has quantity to fill.
func HasLeaves(o *storage.Order) bool { return o.LeavesQty > 0 }

// IsCancelled reports whether o has been cancelled.
func IsCancelled(o *storage.Order) bool { return o.Status == storage.OrderStatusCancelled }

// Crosses reports whether a and b, on opposite sides, can trade: either
// is a market order, or the buy price is at least the sell price.
func Crosses(a, b *storage.Order) bool {
	if a.Side == b.Side {
		return false
	}
	if IsMarket(a) || IsMarket(b) {
		return true
	}
	buy, sell := a, b
	if IsSell(a) {
		buy, sell = b, a
	}
	return buy.Price >= sell.Price
}

// Execute applies a fill of qty at price to o, updating cum_qty,
// leaves_qty, average_price, last_price, last_qty, and status.
func Execute(o *storage.Order, qty, price int64) {
	newCum := o.CumQty + qty
	o.AveragePrice = (price*qty + o.CumQty*o.AveragePrice) / newCum
	o.CumQty = newCum
	o.LeavesQty -= qty
	o.LastPrice = price
	o.LastQty = qty
	adjustStatus(o)
}

// CancelQty moves q from leaves_qty to cxl_qty and adjusts status.
func CancelQty(o *storage.Order, q int64) {
	if q > o.LeavesQty {
		q = o.LeavesQty
	}
	o.LeavesQty -= q
	o.CxlQty += q
	adjustStatus(o)
}

// adjustStatus derives an order's status from its fill/cancel totals.
func adjustStatus(o *storage.Order) {
	switch {
	case o.CumQty == o.OrderQty:
		o.Status = storage.OrderStatusFilled
	case o.CumQty > 0 && o.CumQty < o.OrderQty:
		o.Status = storage.OrderStatusPartiallyFilled
	case o.CumQty+o.CxlQty == o.OrderQty && o.CumQty < o.OrderQty:
		o.Status = storage.OrderStatusCancelled
	default:
		o.Status = storage.OrderStatusNew
	}
}

// Less reports whether a has priority over b on the same side — a sits
// closer to the book's head.
//
// Buys: market before limit; among markets, later created wins (a
// deliberately preserved LIFO oddity); among limits, higher price wins,
// ties by earlier created.
// Sells: market before limit; among limits, lower price wins, ties by
// earlier created. Two market sells (unspecified by the source
// comparator) fall back to earlier created, consistent with sells'
// general tie-break rule.
func Less(a, b *storage.Order) bool {
	aMarket, bMarket := IsMarket(a), IsMarket(b)
	if aMarket != bMarket {
		return aMarket
	}

	if IsBuy(a) {
		if aMarket && bMarket {
			return a.Created.After(b.Created)
		}
		if a.Price != b.Price {
			return a.Price > b.Price
		}
		return a.Created.Before(b.Created)
	}

	// Sell side.
	if aMarket && bMarket {
		return a.Created.Before(b.Created)
	}
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return a.Created.Before(b.Created)
}

// NewOrder constructs an Order in its initial New state.
func NewOrder(userID, accountID, brokerID int64, symbol, side, orderType, tif string, price, qty int64) *storage.Order {
	return &storage.Order{
		UserID:      userID,
		AccountID:   accountID,
		BrokerID:    brokerID,
		Status:      storage.OrderStatusNew,
		Symbol:      symbol,
		Side:        side,
		Type:        orderType,
		TimeInForce: tif,
		Price:       price,
		OrderQty:    qty,
		LeavesQty:   qty,
		Created:     time.Now(),
	}
}
