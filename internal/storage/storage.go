// Package storage provides persistent storage for the exchange core
// using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the exchange core.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "exchange.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer; cap the pool accordingly. Atomic
	// multi-row operations additionally take s.mu so a WithTx body can
	// issue several statements without another goroutine interleaving.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Querier is satisfied by both *sql.DB and *sql.Tx, letting CRUD helpers
// run either standalone or as part of a caller-managed transaction.
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// WithTx runs fn inside a SQL transaction, committing on success and
// rolling back on error or panic. Callers of the ledger package
// (internal/rpc handlers, the matcher) reach it through WithQuerier so
// transfer/deposit/withdraw/execute_order are atomic across their several
// balance and ledger-row writes.
func (s *Storage) WithTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// WithQuerier is WithTx for callers that only need the Querier subset of
// *sql.Tx — the shape internal/ledger, internal/matching and friends are
// written against so their code works identically in and out of a
// transaction.
func (s *Storage) WithQuerier(fn func(q Querier) error) error {
	return s.WithTx(func(tx *sql.Tx) error {
		return fn(tx)
	})
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- =========================================================================
	-- Reference data
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS currencies (
		code TEXT PRIMARY KEY,
		sign TEXT,
		description TEXT,
		is_crypto INTEGER NOT NULL DEFAULT 0,
		pip INTEGER NOT NULL,
		format_precision INTEGER NOT NULL DEFAULT 8
	);

	CREATE TABLE IF NOT EXISTS instruments (
		symbol TEXT PRIMARY KEY,
		quote_currency TEXT NOT NULL,
		description TEXT
	);

	-- =========================================================================
	-- Users, accounts, brokers
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT,
		broker_id INTEGER,
		broker_username TEXT,
		country_code TEXT,
		state TEXT,
		verified INTEGER NOT NULL DEFAULT 0,
		verification_data TEXT,
		is_broker INTEGER NOT NULL DEFAULT 0,
		is_system INTEGER NOT NULL DEFAULT 0,
		two_factor_enabled INTEGER NOT NULL DEFAULT 0,
		two_factor_secret TEXT,
		transaction_fee_buy INTEGER NOT NULL DEFAULT 0,
		transaction_fee_sell INTEGER NOT NULL DEFAULT 0,
		withdraw_email_validation INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_login INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_users_broker ON users(broker_id);

	CREATE TABLE IF NOT EXISTS brokers (
		id INTEGER PRIMARY KEY,
		short_name TEXT NOT NULL UNIQUE,
		withdraw_structure TEXT,
		crypto_currencies TEXT,
		fee_structure TEXT,
		transaction_fee_buy INTEGER NOT NULL DEFAULT 0,
		transaction_fee_sell INTEGER NOT NULL DEFAULT 0,
		accept_customers_from TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		is_broker_hub INTEGER NOT NULL DEFAULT 0,
		verification_bonus TEXT
	);

	-- =========================================================================
	-- Balances and ledger
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS balances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		broker_id INTEGER NOT NULL,
		currency TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0,
		last_update INTEGER NOT NULL,
		UNIQUE(account_id, broker_id, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_account ON balances(account_id, broker_id);

	CREATE TABLE IF NOT EXISTS ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		currency TEXT NOT NULL,
		account_id INTEGER NOT NULL,
		account_name TEXT,
		broker_id INTEGER NOT NULL,
		broker_name TEXT,
		payee_id INTEGER,
		payee_name TEXT,
		payee_broker_id INTEGER,
		payee_broker_name TEXT,
		operation TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance INTEGER NOT NULL,
		reference TEXT NOT NULL,
		created INTEGER NOT NULL,
		description TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger(account_id, broker_id, currency);
	CREATE INDEX IF NOT EXISTS idx_ledger_reference ON ledger(reference);

	-- =========================================================================
	-- Orders and trades
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		broker_id INTEGER NOT NULL,
		client_order_id TEXT,
		status TEXT NOT NULL DEFAULT '0',
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		time_in_force TEXT NOT NULL DEFAULT '0',
		price INTEGER NOT NULL DEFAULT 0,
		order_qty INTEGER NOT NULL,
		cum_qty INTEGER NOT NULL DEFAULT 0,
		leaves_qty INTEGER NOT NULL,
		cxl_qty INTEGER NOT NULL DEFAULT 0,
		last_price INTEGER NOT NULL DEFAULT 0,
		last_qty INTEGER NOT NULL DEFAULT 0,
		average_price INTEGER NOT NULL DEFAULT 0,
		fee INTEGER NOT NULL DEFAULT 0,
		username TEXT,
		account_username TEXT,
		broker_username TEXT,
		created INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders(symbol, status);
	CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, broker_id);
	CREATE INDEX IF NOT EXISTS idx_orders_client_order_id ON orders(client_order_id);

	CREATE TABLE IF NOT EXISTS trade (
		id TEXT PRIMARY KEY,
		order_id INTEGER NOT NULL,
		counter_order_id INTEGER NOT NULL,
		buyer_username TEXT,
		seller_username TEXT,
		side TEXT NOT NULL,
		symbol TEXT NOT NULL,
		size INTEGER NOT NULL,
		price INTEGER NOT NULL,
		created INTEGER NOT NULL,
		trade_type TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_trade_order ON trade(order_id);
	CREATE INDEX IF NOT EXISTS idx_trade_symbol ON trade(symbol);

	-- =========================================================================
	-- Deposits and withdrawals
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS deposit (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		broker_id INTEGER NOT NULL,
		deposit_option_id INTEGER,
		broker_deposit_ctrl_num TEXT,
		secret TEXT,
		type TEXT NOT NULL,
		currency TEXT NOT NULL,
		address TEXT,
		tx_id TEXT,
		value INTEGER NOT NULL DEFAULT 0,
		paid_value INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 0,
		data TEXT,
		instructions TEXT,
		client_order_id TEXT,
		percent_fee INTEGER NOT NULL DEFAULT 0,
		fixed_fee INTEGER NOT NULL DEFAULT 0,
		reason_id INTEGER,
		reason TEXT,
		created INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposit_account ON deposit(account_id, broker_id);
	CREATE INDEX IF NOT EXISTS idx_deposit_status ON deposit(status);

	CREATE TABLE IF NOT EXISTS withdraws (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		broker_id INTEGER NOT NULL,
		username TEXT,
		broker_username TEXT,
		currency TEXT NOT NULL,
		amount INTEGER NOT NULL,
		method TEXT NOT NULL,
		data TEXT,
		confirmation_token TEXT UNIQUE,
		status INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL,
		reason_id INTEGER,
		reason TEXT,
		client_order_id TEXT,
		percent_fee INTEGER NOT NULL DEFAULT 0,
		fixed_fee INTEGER NOT NULL DEFAULT 0,
		paid_amount INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_withdraws_account ON withdraws(account_id, broker_id);
	CREATE INDEX IF NOT EXISTS idx_withdraws_status ON withdraws(status);

	CREATE TABLE IF NOT EXISTS deposit_options (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		broker_id INTEGER NOT NULL,
		name TEXT,
		description TEXT,
		disclaimer TEXT,
		type TEXT NOT NULL,
		broker_deposit_ctrl_num TEXT,
		currency TEXT NOT NULL,
		percent_fee INTEGER NOT NULL DEFAULT 0,
		fixed_fee INTEGER NOT NULL DEFAULT 0,
		parameters TEXT
	);

	-- =========================================================================
	-- Notification side-effects
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS user_email (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		subject TEXT,
		body TEXT,
		template TEXT,
		language TEXT,
		params TEXT,
		created INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_password_reset (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		token TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations runs schema migrations for existing databases. These are
// ALTER TABLE statements that add columns to existing tables; errors are
// ignored since the column may already exist.
func (s *Storage) runMigrations() error {
	migrations := []string{
		"ALTER TABLE brokers ADD COLUMN verification_bonus TEXT",
		"ALTER TABLE orders ADD COLUMN account_username TEXT",
	}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
