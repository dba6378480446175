package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tanq16/moneybook/internal/storage"
)

// Mapping names the Notion properties the reports read.
type Mapping struct {
	ID       string
	Date     string
	Amount   string
	Category string
	Payment  string
	Name     string
	Month    string
}

// Expense is the typed view of one cached row.
type Expense struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Payment  string          `json:"payment"`
	Month    string          `json:"month"`
	Amount   decimal.Decimal `json:"amount"`
	Date     time.Time       `json:"date"`
	Flow     string          `json:"flow"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if layout == "2006-01-02" || layout == "2006-01-02T15:04:05" {
				// no offset in the value; read it as local wall time
				return time.ParseInLocation(layout, s, loc)
			}
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseAmount(v any) (decimal.Decimal, error) {
	switch a := v.(type) {
	case float64:
		return decimal.NewFromFloat(a), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(a))
	case nil:
		return decimal.Zero, fmt.Errorf("amount is empty")
	default:
		return decimal.Zero, fmt.Errorf("amount has type %T", v)
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// FromTable converts cached rows into expenses. Rows without a usable date
// or amount are skipped and counted.
func (r Reporter) FromTable(table storage.Table, m Mapping) ([]Expense, int) {
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	expenses := make([]Expense, 0, len(table.Rows))
	skipped := 0
	for _, row := range table.Rows {
		rawDate := stringValue(row[m.Date])
		if rawDate == "" {
			skipped++
			continue
		}
		date, err := parseDate(rawDate, loc)
		if err != nil {
			skipped++
			continue
		}
		amount, err := parseAmount(row[m.Amount])
		if err != nil {
			skipped++
			continue
		}
		e := Expense{
			ID:       storage.RowKey(row, m.ID),
			Name:     stringValue(row[m.Name]),
			Category: stringValue(row[m.Category]),
			Payment:  stringValue(row[m.Payment]),
			Month:    stringValue(row[m.Month]),
			Amount:   amount,
			Date:     date,
		}
		if e.Month == "" {
			e.Month = date.Format("Jan 2006")
		}
		e.Flow, e.Amount = r.normalizeFlow(e.Category, amount)
		expenses = append(expenses, e)
	}
	return expenses, skipped
}
