// Package reporting implements out-of-band ledger reconciliation:
// copying the live ledger/balance snapshot into an ephemeral DuckDB
// database and checking the zero-sum and balance-matches-posting
// invariants the ledger is expected to hold. It is read-only and
// advisory — it never mutates the ledger and never blocks matching or
// settlement.
package reporting

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/klingon-exchange/exchanged/internal/events"
	"github.com/klingon-exchange/exchanged/internal/storage"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

// Finding is one discrepancy surfaced by a reconciliation check.
type Finding struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// Report is the result of one Reconcile run.
type Report struct {
	Entries  int       `json:"entries_checked"`
	Balances int       `json:"balances_checked"`
	Findings []Finding `json:"findings"`
}

// Reconciler drives reconciliation runs against a live Storage.
type Reconciler struct {
	db  *storage.Storage
	pub events.Publisher
	log *logging.Logger
}

// New creates a Reconciler.
func New(db *storage.Storage, pub events.Publisher) *Reconciler {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Reconciler{db: db, pub: pub, log: logging.GetDefault().Component("reporting")}
}

// Reconcile loads the full ledger and balance snapshot into a fresh
// in-memory DuckDB database and runs the zero-sum-per-reference and
// balance-matches-last-posting checks. Any row the checks return is
// logged at Error level and published as a reconciliation_failure event
// — findings are reported, never silently dropped.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	entries, err := r.db.ListAllLedgerEntries(r.db.DB())
	if err != nil {
		return nil, fmt.Errorf("reporting: failed to load ledger entries: %w", err)
	}
	balances, err := r.db.ListAllBalances(r.db.DB())
	if err != nil {
		return nil, fmt.Errorf("reporting: failed to load balances: %w", err)
	}

	duck, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("reporting: failed to open duckdb: %w", err)
	}
	defer duck.Close()

	if err := r.loadSnapshot(ctx, duck, entries, balances); err != nil {
		return nil, err
	}

	report := &Report{Entries: len(entries), Balances: len(balances)}

	zeroSum, err := r.checkZeroSum(ctx, duck)
	if err != nil {
		return nil, err
	}
	report.Findings = append(report.Findings, zeroSum...)

	mismatches, err := r.checkBalanceMatchesPosting(ctx, duck)
	if err != nil {
		return nil, err
	}
	report.Findings = append(report.Findings, mismatches...)

	for _, f := range report.Findings {
		r.log.Error("reconciliation failure", "check", f.Check, "detail", f.Detail)
		r.pub.Publish(events.TopicReconciliation, events.ReconciliationFailure{
			MsgType: "reconciliation_failure", Check: f.Check, Detail: f.Detail,
		})
	}

	return report, nil
}

func (r *Reconciler) loadSnapshot(ctx context.Context, duck *sql.DB, entries []*storage.LedgerEntry, balances []*storage.Balance) error {
	if _, err := duck.ExecContext(ctx, `
		CREATE TABLE ledger (
			id BIGINT, currency VARCHAR, account_id BIGINT, broker_id BIGINT,
			operation VARCHAR, amount BIGINT, reference VARCHAR, created BIGINT
		)`); err != nil {
		return fmt.Errorf("reporting: failed to create ledger snapshot: %w", err)
	}
	if _, err := duck.ExecContext(ctx, `
		CREATE TABLE balances (
			account_id BIGINT, broker_id BIGINT, currency VARCHAR, balance BIGINT
		)`); err != nil {
		return fmt.Errorf("reporting: failed to create balances snapshot: %w", err)
	}

	stmt, err := duck.PrepareContext(ctx, `INSERT INTO ledger VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("reporting: failed to prepare ledger insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Currency, e.AccountID, e.BrokerID, e.Operation, e.Amount, e.Reference, e.Created.Unix()); err != nil {
			return fmt.Errorf("reporting: failed to load ledger entry %d: %w", e.ID, err)
		}
	}

	balStmt, err := duck.PrepareContext(ctx, `INSERT INTO balances VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("reporting: failed to prepare balance insert: %w", err)
	}
	defer balStmt.Close()
	for _, b := range balances {
		if _, err := balStmt.ExecContext(ctx, b.AccountID, b.BrokerID, b.Currency, b.Balance); err != nil {
			return fmt.Errorf("reporting: failed to load balance row: %w", err)
		}
	}
	return nil
}

// checkZeroSum verifies that every reference's debit/credit postings
// in a currency net to zero.
func (r *Reconciler) checkZeroSum(ctx context.Context, duck *sql.DB) ([]Finding, error) {
	rows, err := duck.QueryContext(ctx, `
		SELECT reference, currency,
			SUM(CASE WHEN operation = 'C' THEN amount ELSE -amount END) AS s
		FROM ledger
		GROUP BY reference, currency
		HAVING s != 0
	`)
	if err != nil {
		return nil, fmt.Errorf("reporting: zero-sum check failed: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var reference, currency string
		var sum int64
		if err := rows.Scan(&reference, &currency, &sum); err != nil {
			return nil, fmt.Errorf("reporting: failed to scan zero-sum row: %w", err)
		}
		findings = append(findings, Finding{
			Check:  "zero_sum_per_reference",
			Detail: fmt.Sprintf("reference %s currency %s imbalance %d", reference, currency, sum),
		})
	}
	return findings, rows.Err()
}

// checkBalanceMatchesPosting verifies that each (account, broker,
// currency)'s stored balance equals the balance derived from its full
// ledger posting history.
func (r *Reconciler) checkBalanceMatchesPosting(ctx context.Context, duck *sql.DB) ([]Finding, error) {
	rows, err := duck.QueryContext(ctx, `
		SELECT b.account_id, b.broker_id, b.currency, b.balance,
			COALESCE(SUM(CASE WHEN l.operation = 'C' THEN l.amount ELSE -l.amount END), 0) AS derived
		FROM balances b
		LEFT JOIN ledger l ON l.account_id = b.account_id
			AND l.broker_id = b.broker_id AND l.currency = b.currency
		GROUP BY b.account_id, b.broker_id, b.currency, b.balance
		HAVING b.balance != derived
	`)
	if err != nil {
		return nil, fmt.Errorf("reporting: balance-matches-posting check failed: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var accountID, brokerID, balance, derived int64
		var currency string
		if err := rows.Scan(&accountID, &brokerID, &currency, &balance, &derived); err != nil {
			return nil, fmt.Errorf("reporting: failed to scan balance-mismatch row: %w", err)
		}
		findings = append(findings, Finding{
			Check: "balance_matches_posting",
			Detail: fmt.Sprintf("account %d broker %d currency %s stored %d derived %d",
				accountID, brokerID, currency, balance, derived),
		})
	}
	return findings, rows.Err()
}
