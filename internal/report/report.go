package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	ChartPie  = "pie"
	ChartBar  = "bar"
	ChartArea = "area"

	amountLabel = "Total Spendings"

	DeltaInverse = "inverse"
	DeltaOff     = "off"
)

// Reporter holds the bucketing rules: which category is a wallet top-up
// rather than spending, and which payment method counts as cash.
type Reporter struct {
	ExcludedCategory string
	CashPayment      string
	Location         *time.Location
}

type Metric struct {
	Label      string          `json:"label"`
	Value      string          `json:"value"`
	Raw        decimal.Decimal `json:"raw"`
	Delta      string          `json:"delta,omitempty"`
	DeltaColor string          `json:"deltaColor,omitempty"`
}

type Point struct {
	X string          `json:"x"`
	Y decimal.Decimal `json:"y"`
}

type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

type Chart struct {
	Kind   string   `json:"kind"`
	Title  string   `json:"title"`
	XLabel string   `json:"xLabel"`
	YLabel string   `json:"yLabel"`
	Series []Series `json:"series"`
}

type CategoryTotal struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

type MonthlyReport struct {
	Month           string          `json:"month"`
	Period          string          `json:"period"`
	Total           decimal.Decimal `json:"total"`
	LastMonthTotal  decimal.Decimal `json:"lastMonthTotal"`
	DiffPercent     *float64        `json:"diffPercent"`
	HighestCategory *CategoryTotal  `json:"highestCategory"`
	Metrics         []Metric        `json:"metrics"`
	Charts          []Chart         `json:"charts"`
	Expenses        []Expense       `json:"expenses"`
}

type AllTimeReport struct {
	Total           decimal.Decimal `json:"total"`
	HighestCategory *CategoryTotal  `json:"highestCategory"`
	Metrics         []Metric        `json:"metrics"`
	Charts          []Chart         `json:"charts"`
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func inMonth(start time.Time) func(Expense) bool {
	end := start.AddDate(0, 1, 0)
	return func(e Expense) bool {
		d := e.Date.In(start.Location())
		return !d.Before(start) && d.Before(end)
	}
}

// Monthly reports on the calendar month containing month, compared with
// the month before it.
func (r Reporter) Monthly(expenses []Expense, month time.Time) MonthlyReport {
	if r.Location != nil {
		month = month.In(r.Location)
	}
	cur := monthStart(month)
	prev := cur.AddDate(0, -1, 0)

	current := filter(expenses, inMonth(cur))
	last := filter(expenses, inMonth(prev))
	notExcluded := func(e Expense) bool { return !r.isExcluded(e) }

	rep := MonthlyReport{
		Month:          cur.Format("Jan 2006"),
		Period:         cur.Format("2006-01"),
		Total:          sum(filter(current, notExcluded)),
		LastMonthTotal: sum(filter(last, notExcluded)),
		Expenses:       current,
	}
	rep.DiffPercent = percentDiff(rep.Total, rep.LastMonthTotal)
	rep.HighestCategory = highest(filter(current, notExcluded))

	thisMonth := Metric{
		Label:      "This Month Spendings",
		Value:      Millify(rep.Total, 2),
		Raw:        rep.Total,
		DeltaColor: DeltaInverse,
	}
	if rep.DiffPercent != nil {
		thisMonth.Delta = fmt.Sprintf("%.2f%%", *rep.DiffPercent)
	}
	rep.Metrics = []Metric{
		thisMonth,
		{Label: "Last Month Spendings", Value: Millify(rep.LastMonthTotal, 2), Raw: rep.LastMonthTotal},
	}
	if rep.HighestCategory != nil {
		rep.Metrics = append(rep.Metrics, highestMetric(rep.HighestCategory))
	}

	cash := filter(current, r.isCash)
	topUps := filter(current, r.isExcluded)
	rep.Charts = []Chart{
		pie("Category", groupBy(cash, byCategory)),
		pie("Emoney Topup", groupBy(topUps, byName)),
		pie("Payment", groupBy(current, byPayment)),
		comparison(last, current, prev, cur),
		{
			Kind:   ChartArea,
			Title:  "Spending Trends",
			XLabel: "Date Payment",
			YLabel: amountLabel,
			Series: []Series{{Name: amountLabel, Points: daily(cash)}},
		},
	}
	return rep
}

// AllTime reports over every cached expense. Totals count cash payments
// only.
func (r Reporter) AllTime(expenses []Expense) AllTimeReport {
	cash := filter(expenses, r.isCash)
	rep := AllTimeReport{
		Total:           sum(cash),
		HighestCategory: highest(cash),
	}
	rep.Metrics = []Metric{{Label: "Total Spendings", Value: Millify(rep.Total, 2), Raw: rep.Total}}
	if rep.HighestCategory != nil {
		rep.Metrics = append(rep.Metrics, highestMetric(rep.HighestCategory))
	}
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	rep.Charts = []Chart{
		{
			Kind:   ChartArea,
			Title:  "Spending Trends",
			XLabel: "Date Payment",
			YLabel: amountLabel,
			Series: []Series{{Name: amountLabel, Points: monthly(cash, loc)}},
		},
		bar("Spendings per Category", "Category", sortAscending(groupBy(cash, byCategory))),
		bar("Spendings per Method", "Payment", sortAscending(groupBy(expenses, byPayment))),
	}
	return rep
}

func highestMetric(c *CategoryTotal) Metric {
	return Metric{
		Label:      "Highest Spending Category",
		Value:      capitalize(c.Category),
		Raw:        c.Amount,
		Delta:      Millify(c.Amount, 2),
		DeltaColor: DeltaOff,
	}
}

// percentDiff is (cur-last)/last*100, or nil when last is zero.
func percentDiff(cur, last decimal.Decimal) *float64 {
	if last.IsZero() {
		return nil
	}
	diff, _ := cur.Sub(last).Div(last).Mul(decimal.NewFromInt(100)).Float64()
	return &diff
}

// highest returns the category with the largest total, ties going to the
// alphabetically first name.
func highest(expenses []Expense) *CategoryTotal {
	points := groupBy(expenses, byCategory)
	if len(points) == 0 {
		return nil
	}
	best := points[0]
	for _, p := range points[1:] {
		if p.Y.GreaterThan(best.Y) {
			best = p
		}
	}
	return &CategoryTotal{Category: best.X, Amount: best.Y}
}

func comparison(last, current []Expense, prev, cur time.Time) Chart {
	categories := map[string]bool{}
	for _, e := range append(append([]Expense{}, last...), current...) {
		categories[e.Category] = true
	}
	keys := make([]string, 0, len(categories))
	for k := range categories {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	chart := Chart{Kind: ChartBar, Title: "Spending Comparison", XLabel: "Category", YLabel: amountLabel}
	for _, period := range []struct {
		label    string
		expenses []Expense
	}{
		{prev.Format("Jan 2006"), last},
		{cur.Format("Jan 2006"), current},
	} {
		totals := map[string]decimal.Decimal{}
		label := period.label
		for _, e := range period.expenses {
			totals[e.Category] = totals[e.Category].Add(e.Signed())
			label = e.Month
		}
		series := Series{Name: label}
		for _, k := range keys {
			series.Points = append(series.Points, Point{X: k, Y: totals[k]})
		}
		chart.Series = append(chart.Series, series)
	}
	return chart
}

type keyFunc func(Expense) string

func byCategory(e Expense) string { return e.Category }
func byName(e Expense) string     { return e.Name }
func byPayment(e Expense) string  { return e.Payment }

// groupBy sums amounts per key, sorted by key.
func groupBy(expenses []Expense, key keyFunc) []Point {
	totals := map[string]decimal.Decimal{}
	for _, e := range expenses {
		k := key(e)
		totals[k] = totals[k].Add(e.Signed())
	}
	points := make([]Point, 0, len(totals))
	for k, v := range totals {
		points = append(points, Point{X: k, Y: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].X < points[j].X })
	return points
}

func sortAscending(points []Point) []Point {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Y.LessThan(points[j].Y) })
	return points
}

// daily sums per calendar day from the first to the last day with data,
// filling empty days with zero.
func daily(expenses []Expense) []Point {
	if len(expenses) == 0 {
		return []Point{}
	}
	totals := map[string]decimal.Decimal{}
	first, last := expenses[0].Date, expenses[0].Date
	for _, e := range expenses {
		totals[e.Date.Format("2006-01-02")] = totals[e.Date.Format("2006-01-02")].Add(e.Signed())
		if e.Date.Before(first) {
			first = e.Date
		}
		if e.Date.After(last) {
			last = e.Date
		}
	}
	var points []Point
	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, first.Location())
	for !day.After(last) {
		k := day.Format("2006-01-02")
		points = append(points, Point{X: k, Y: totals[k]})
		day = day.AddDate(0, 0, 1)
	}
	return points
}

// monthly sums per calendar month, filling empty months with zero.
func monthly(expenses []Expense, loc *time.Location) []Point {
	if len(expenses) == 0 {
		return []Point{}
	}
	totals := map[string]decimal.Decimal{}
	first, last := monthStart(expenses[0].Date.In(loc)), monthStart(expenses[0].Date.In(loc))
	for _, e := range expenses {
		m := monthStart(e.Date.In(loc))
		totals[m.Format("2006-01")] = totals[m.Format("2006-01")].Add(e.Signed())
		if m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}
	var points []Point
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		k := m.Format("2006-01")
		points = append(points, Point{X: k, Y: totals[k]})
	}
	return points
}

func pie(title string, points []Point) Chart {
	return Chart{Kind: ChartPie, Title: title, YLabel: amountLabel, Series: []Series{{Name: title, Points: points}}}
}

func bar(title, xLabel string, points []Point) Chart {
	return Chart{Kind: ChartBar, Title: title, XLabel: xLabel, YLabel: amountLabel, Series: []Series{{Name: amountLabel, Points: points}}}
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
