// Package storage - Trade storage operations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrTradeNotFound is returned when a trade id does not exist.
var ErrTradeNotFound = errors.New("trade not found")

// Trade represents one fill leg recorded against an order.
type Trade struct {
	ID              string
	OrderID         int64
	CounterOrderID  int64
	BuyerUsername   string
	SellerUsername  string
	Side            string
	Symbol          string
	Size            int64
	Price           int64
	Created         time.Time
	TradeType       string
}

// CreateTrade inserts a trade row.
func (s *Storage) CreateTrade(q Querier, t *Trade) error {
	_, err := q.Exec(`
		INSERT INTO trade (
			id, order_id, counter_order_id, buyer_username, seller_username,
			side, symbol, size, price, created, trade_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OrderID, t.CounterOrderID, t.BuyerUsername, t.SellerUsername,
		t.Side, t.Symbol, t.Size, t.Price, t.Created.Unix(), t.TradeType)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

func scanTrade(row interface{ Scan(...interface{}) error }) (*Trade, error) {
	var t Trade
	var created int64
	err := row.Scan(&t.ID, &t.OrderID, &t.CounterOrderID, &t.BuyerUsername,
		&t.SellerUsername, &t.Side, &t.Symbol, &t.Size, &t.Price, &created, &t.TradeType)
	if err != nil {
		return nil, err
	}
	t.Created = time.Unix(created, 0)
	return &t, nil
}

const tradeColumns = `id, order_id, counter_order_id, buyer_username, seller_username,
	side, symbol, size, price, created, trade_type`

// GetTrade retrieves a trade by id.
func (s *Storage) GetTrade(q Querier, id string) (*Trade, error) {
	row := q.QueryRow("SELECT "+tradeColumns+" FROM trade WHERE id = ?", id)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

// ListTradesByOrder returns every trade recorded against an order, oldest first.
func (s *Storage) ListTradesByOrder(q Querier, orderID int64) ([]*Trade, error) {
	rows, err := q.Query("SELECT "+tradeColumns+" FROM trade WHERE order_id = ? ORDER BY created ASC", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListTradesBySymbol returns the most recent trades for a symbol, newest first.
func (s *Storage) ListTradesBySymbol(q Querier, symbol string, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query("SELECT "+tradeColumns+" FROM trade WHERE symbol = ? ORDER BY created DESC LIMIT ?", symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
