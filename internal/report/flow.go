package report

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	FlowSpending = "spending"
	FlowTopUp    = "topup"
	FlowRefund   = "refund"
)

// normalizeFlow sorts an expense into spending, top-up (money moved into an
// e-wallet, which is not spending) or refund (a negative amount), and
// returns the amount as a positive magnitude. Signed restores the sign.
func (r Reporter) normalizeFlow(category string, amount decimal.Decimal) (string, decimal.Decimal) {
	switch {
	case r.ExcludedCategory != "" && strings.EqualFold(category, r.ExcludedCategory):
		return FlowTopUp, amount.Abs()
	case amount.IsNegative():
		return FlowRefund, amount.Abs()
	default:
		return FlowSpending, amount
	}
}

// Signed is the amount as it counts toward spending: refunds subtract.
func (e Expense) Signed() decimal.Decimal {
	if e.Flow == FlowRefund {
		return e.Amount.Neg()
	}
	return e.Amount
}

func (r Reporter) isCash(e Expense) bool {
	return strings.EqualFold(e.Payment, r.CashPayment)
}

func (r Reporter) isExcluded(e Expense) bool {
	return e.Flow == FlowTopUp
}

func sum(expenses []Expense) decimal.Decimal {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.Signed())
	}
	return total
}

func filter(expenses []Expense, keep func(Expense) bool) []Expense {
	var out []Expense
	for _, e := range expenses {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
