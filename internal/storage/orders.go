// Package storage - Order storage operations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Order errors.
var (
	ErrOrderNotFound = errors.New("order not found")
)

// Order status codes, matching FIX-style status strings.
const (
	OrderStatusNew             = "0"
	OrderStatusPartiallyFilled = "1"
	OrderStatusFilled          = "2"
	OrderStatusCancelled       = "4"
	OrderStatusRejected        = "8"
)

// Order side.
const (
	SideBuy  = "1"
	SideSell = "2"
)

// Order type.
const (
	OrderTypeMarket = "1"
	OrderTypeLimit  = "2"
)

// Order represents an order row.
type Order struct {
	ID              int64
	UserID          int64
	AccountID       int64
	BrokerID        int64
	ClientOrderID   string
	Status          string
	Symbol          string
	Side            string
	Type            string
	TimeInForce     string
	Price           int64
	OrderQty        int64
	CumQty          int64
	LeavesQty       int64
	CxlQty          int64
	LastPrice       int64
	LastQty         int64
	AveragePrice    int64
	Fee             int64
	Username        string
	AccountUsername string
	BrokerUsername  string
	Created         time.Time
}

// CreateOrder inserts a new order and assigns its ID.
func (s *Storage) CreateOrder(q Querier, o *Order) error {
	res, err := q.Exec(`
		INSERT INTO orders (
			user_id, account_id, broker_id, client_order_id, status, symbol,
			side, type, time_in_force, price, order_qty, cum_qty, leaves_qty,
			cxl_qty, last_price, last_qty, average_price, fee,
			username, account_username, broker_username, created
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.UserID, o.AccountID, o.BrokerID, o.ClientOrderID, o.Status, o.Symbol,
		o.Side, o.Type, o.TimeInForce, o.Price, o.OrderQty, o.CumQty, o.LeavesQty,
		o.CxlQty, o.LastPrice, o.LastQty, o.AveragePrice, o.Fee,
		o.Username, o.AccountUsername, o.BrokerUsername, o.Created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new order id: %w", err)
	}
	o.ID = id
	return nil
}

func scanOrder(row interface{ Scan(...interface{}) error }) (*Order, error) {
	var o Order
	var created int64
	err := row.Scan(
		&o.ID, &o.UserID, &o.AccountID, &o.BrokerID, &o.ClientOrderID, &o.Status,
		&o.Symbol, &o.Side, &o.Type, &o.TimeInForce, &o.Price, &o.OrderQty,
		&o.CumQty, &o.LeavesQty, &o.CxlQty, &o.LastPrice, &o.LastQty,
		&o.AveragePrice, &o.Fee, &o.Username, &o.AccountUsername, &o.BrokerUsername,
		&created,
	)
	if err != nil {
		return nil, err
	}
	o.Created = time.Unix(created, 0)
	return &o, nil
}

const orderColumns = `id, user_id, account_id, broker_id, client_order_id, status,
	symbol, side, type, time_in_force, price, order_qty, cum_qty, leaves_qty,
	cxl_qty, last_price, last_qty, average_price, fee, username, account_username,
	broker_username, created`

// GetOrder retrieves an order by ID.
func (s *Storage) GetOrder(q Querier, id int64) (*Order, error) {
	row := q.QueryRow("SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// UpdateOrder persists the mutable fields of an order (status/qty/fee/price bookkeeping).
func (s *Storage) UpdateOrder(q Querier, o *Order) error {
	res, err := q.Exec(`
		UPDATE orders SET status = ?, cum_qty = ?, leaves_qty = ?, cxl_qty = ?,
			last_price = ?, last_qty = ?, average_price = ?, fee = ?
		WHERE id = ?
	`, o.Status, o.CumQty, o.LeavesQty, o.CxlQty, o.LastPrice, o.LastQty,
		o.AveragePrice, o.Fee, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// OrderFilter narrows ListOrders results.
type OrderFilter struct {
	AccountID *int64
	BrokerID  *int64
	Symbol    string
	Status    string
	Limit     int
}

// ListOrders returns orders matching the filter, newest first.
func (s *Storage) ListOrders(q Querier, filter OrderFilter) ([]*Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE 1=1"
	var args []interface{}

	if filter.AccountID != nil {
		query += " AND account_id = ?"
		args = append(args, *filter.AccountID)
	}
	if filter.BrokerID != nil {
		query += " AND broker_id = ?"
		args = append(args, *filter.BrokerID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetRestingOrders returns New/PartiallyFilled orders for a symbol, oldest
// first — the book's natural load order on matcher startup.
func (s *Storage) GetRestingOrders(q Querier, symbol string) ([]*Order, error) {
	rows, err := q.Query(`
		SELECT `+orderColumns+` FROM orders
		WHERE symbol = ? AND status IN (?, ?)
		ORDER BY created ASC, id ASC
	`, symbol, OrderStatusNew, OrderStatusPartiallyFilled)
	if err != nil {
		return nil, fmt.Errorf("failed to list resting orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
