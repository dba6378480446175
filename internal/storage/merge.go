package storage

import (
	"strconv"
	"time"
)

// MergeResult counts what a merge did to the cached table.
type MergeResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Merge upserts fresh rows into old by record ID. Matching rows are replaced
// in place and unseen rows are appended in fetch order. Rows with no ID are
// always appended. The watermark moves to the newest value seen.
func Merge(old Table, fresh []Row, columns []string, idColumn, watermarkColumn string) (Table, MergeResult) {
	merged := Table{
		Columns:   mergeColumns(old.Columns, columns),
		Rows:      make([]Row, len(old.Rows), len(old.Rows)+len(fresh)),
		Watermark: old.Watermark,
		SyncedAt:  old.SyncedAt,
	}
	copy(merged.Rows, old.Rows)

	index := make(map[string]int, len(merged.Rows))
	for i, row := range merged.Rows {
		if key := RowKey(row, idColumn); key != "" {
			index[key] = i
		}
	}

	var result MergeResult
	for _, row := range fresh {
		key := RowKey(row, idColumn)
		if pos, ok := index[key]; ok && key != "" {
			merged.Rows[pos] = row
			result.Updated++
		} else {
			merged.Rows = append(merged.Rows, row)
			if key != "" {
				index[key] = len(merged.Rows) - 1
			}
			result.Inserted++
		}
		if wm, ok := row[watermarkColumn].(string); ok && WatermarkAfter(wm, merged.Watermark) {
			merged.Watermark = wm
		}
	}
	return merged, result
}

// RowKey returns the dedup key of a row: the ID column when set, else the
// Notion page id.
func RowKey(row Row, idColumn string) string {
	switch v := row[idColumn].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	if id, ok := row[PageIDKey].(string); ok {
		return id
	}
	return ""
}

// MaxWatermark scans rows for the newest watermark value.
func MaxWatermark(rows []Row, watermarkColumn string) string {
	var newest string
	for _, row := range rows {
		if wm, ok := row[watermarkColumn].(string); ok && WatermarkAfter(wm, newest) {
			newest = wm
		}
	}
	return newest
}

func mergeColumns(old, fresh []string) []string {
	seen := make(map[string]bool, len(old)+len(fresh))
	out := make([]string, 0, len(old)+len(fresh))
	for _, list := range [][]string{old, fresh} {
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

var watermarkLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"}

func parseWatermark(s string) (time.Time, bool) {
	for _, layout := range watermarkLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// WatermarkAfter reports whether a is newer than b. Unparseable values fall
// back to string order.
func WatermarkAfter(a, b string) bool {
	if a == "" {
		return false
	}
	if b == "" {
		return true
	}
	ta, okA := parseWatermark(a)
	tb, okB := parseWatermark(b)
	if okA && okB {
		return ta.After(tb)
	}
	return a > b
}
