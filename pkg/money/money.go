// Package money formats and parses pip-scaled integer amounts.
//
// Every monetary amount in the core is a 64-bit signed integer expressed
// in a currency's smallest unit: 1 whole unit = pip smallest units. This
// package converts between that representation and decimal strings for
// display/input — Parse rejects any input with more precision than the
// currency's pip allows — and provides the notional and fee formulas,
// which truncate their results to whole pips.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Format renders a pip-scaled integer amount as a decimal string.
// Format(40000000000, 100000000) returns "400".
func Format(amount int64, pip int64) string {
	if pip <= 0 {
		return fmt.Sprintf("%d", amount)
	}
	d := decimal.NewFromInt(amount).DivRound(decimal.NewFromInt(pip), 18)
	return d.String()
}

// Parse converts a decimal string into a pip-scaled integer amount.
// Parse("400", 100000000) returns 40000000000.
func Parse(s string, pip int64) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	if pip <= 0 {
		return 0, fmt.Errorf("money: invalid pip %d", pip)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("money: negative amount %q", s)
	}

	scaled := d.Mul(decimal.NewFromInt(pip))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("money: amount %q has more precision than pip %d allows", s, pip)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("money: amount %q overflows int64", s)
	}

	return scaled.IntPart(), nil
}

// Notional computes floor(price*qty/pip) — the quote-currency value of
// qty base units at price, truncated to integer pips.
func Notional(price, qty, pip int64) int64 {
	if pip == 0 {
		return 0
	}
	p := decimal.NewFromInt(price)
	q := decimal.NewFromInt(qty)
	n := p.Mul(q).Div(decimal.NewFromInt(pip))
	return n.Truncate(0).IntPart()
}

// Fee computes floor(baseAmount*bps/10000), the bps-based fee formula
// used for trade settlement fee legs (deposit/withdraw fees use
// PercentPlusFixed).
func Fee(baseAmount, bps int64) int64 {
	if bps == 0 {
		return 0
	}
	a := decimal.NewFromInt(baseAmount)
	f := a.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10000))
	return f.Truncate(0).IntPart()
}

// PercentPlusFixed computes floor((amount-fixedFee)*percentFee/100) + fixedFee,
// the total-fee formula shared by deposit confirmation and withdraw settlement.
func PercentPlusFixed(amount, fixedFee, percentFee int64) int64 {
	base := decimal.NewFromInt(amount - fixedFee)
	pct := base.Mul(decimal.NewFromInt(percentFee)).Div(decimal.NewFromInt(100)).Truncate(0)
	return pct.IntPart() + fixedFee
}
