package notion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/moneybook/internal/storage"
)

// fakeDatabase serves canned pages keyed by start cursor.
type fakeDatabase struct {
	schema   []string
	pages    map[notionapi.Cursor]*notionapi.DatabaseQueryResponse
	failures map[notionapi.Cursor][]error
	getErr   error
	requests []notionapi.DatabaseQueryRequest
}

func (f *fakeDatabase) Get(_ context.Context, _ notionapi.DatabaseID) (*notionapi.Database, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	props := notionapi.PropertyConfigs{}
	for _, name := range f.schema {
		props[name] = &notionapi.NumberPropertyConfig{Type: "number"}
	}
	return &notionapi.Database{Properties: props}, nil
}

func (f *fakeDatabase) Query(_ context.Context, _ notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	f.requests = append(f.requests, *req)
	if errs := f.failures[req.StartCursor]; len(errs) > 0 {
		f.failures[req.StartCursor] = errs[1:]
		return nil, errs[0]
	}
	resp, ok := f.pages[req.StartCursor]
	if !ok {
		return nil, &notionapi.Error{Status: http.StatusBadRequest, Code: "validation_error", Message: "bad cursor"}
	}
	return resp, nil
}

func expensePage(id string, amount float64, name string, updated time.Time) notionapi.Page {
	prefix := "EXP"
	paid := notionapi.Date(time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC))
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			"ID":      &notionapi.UniqueIDProperty{Type: "unique_id", UniqueID: notionapi.UniqueID{Prefix: &prefix, Number: len(id)}},
			"Amount":  &notionapi.NumberProperty{Type: "number", Number: amount},
			"Name":    &notionapi.TitleProperty{Type: "title", Title: []notionapi.RichText{{PlainText: name}, {PlainText: "latte"}}},
			"Payment": &notionapi.SelectProperty{Type: "select", Select: notionapi.Option{Name: "cash"}},
			"Date Payment": &notionapi.FormulaProperty{Type: "formula", Formula: notionapi.Formula{
				Type: "date",
				Date: &notionapi.DateObject{Start: &paid},
			}},
			"Updated At": &notionapi.LastEditedTimeProperty{Type: "last_edited_time", LastEditedTime: updated},
		},
	}
}

func newFake() *fakeDatabase {
	return &fakeDatabase{
		schema:   []string{"ID", "Amount", "Name", "Payment", "Date Payment", "Updated At"},
		pages:    map[notionapi.Cursor]*notionapi.DatabaseQueryResponse{},
		failures: map[notionapi.Cursor][]error{},
	}
}

func fastRetry() Option {
	return WithRetryOptions(retry.Delay(time.Millisecond), retry.MaxDelay(time.Millisecond))
}

func TestNewSyncDBReadsSchema(t *testing.T) {
	fake := newFake()
	db, err := NewSyncDB(context.Background(), fake, "db", fastRetry())
	require.NoError(t, err)
	assert.Equal(t, []string{"Amount", "Date Payment", "ID", "Name", "Payment", "Updated At"}, db.Columns())
}

func TestNewSyncDBSchemaError(t *testing.T) {
	fake := newFake()
	fake.getErr = &notionapi.Error{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "API token is invalid."}

	_, err := NewSyncDB(context.Background(), fake, "db", fastRetry())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "status 401")
}

func TestQueryDatabaseFollowsCursor(t *testing.T) {
	updated := time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)
	fake := newFake()
	fake.pages[""] = &notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{expensePage("p1", 10, "Coffee", updated)},
		HasMore:    true,
		NextCursor: "c2",
	}
	fake.pages["c2"] = &notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{expensePage("p22", 20, "Tea", updated.Add(time.Hour))},
	}

	db, err := NewSyncDB(context.Background(), fake, "db", fastRetry())
	require.NoError(t, err)

	rows, err := db.QueryDatabase(context.Background(), nil, AscendingBy("Updated At"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, fake.requests, 2)
	assert.Nil(t, fake.requests[0].Filter)
	assert.Equal(t, notionapi.Cursor("c2"), fake.requests[1].StartCursor)

	first := rows[0]
	assert.Equal(t, "p1", first[storage.PageIDKey])
	assert.Equal(t, "EXP-2", first["ID"])
	assert.Equal(t, 10.0, first["Amount"])
	assert.Equal(t, "Coffee latte", first["Name"])
	assert.Equal(t, "cash", first["Payment"])
	assert.Equal(t, "2024-03-05T14:30:00.000Z", first["Date Payment"])
	assert.Equal(t, "2024-03-06T09:00:00.000Z", first["Updated At"])
	assert.Equal(t, "2024-03-06T10:00:00.000Z", rows[1]["Updated At"])
}

func TestQueryDatabaseRetriesTransientFailures(t *testing.T) {
	fake := newFake()
	fake.pages[""] = &notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{expensePage("p1", 10, "Coffee", time.Now())},
	}
	fake.failures[""] = []error{
		&notionapi.Error{Status: http.StatusTooManyRequests, Code: "rate_limited"},
		errors.New("connection reset"),
	}

	db, err := NewSyncDB(context.Background(), fake, "db", fastRetry())
	require.NoError(t, err)

	rows, err := db.QueryDatabase(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Len(t, fake.requests, 3)
}

func TestQueryDatabaseFailsOnLaterPage(t *testing.T) {
	fake := newFake()
	fake.pages[""] = &notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{expensePage("p1", 10, "Coffee", time.Now())},
		HasMore:    true,
		NextCursor: "missing",
	}

	db, err := NewSyncDB(context.Background(), fake, "db", fastRetry())
	require.NoError(t, err)

	rows, err := db.QueryDatabase(context.Background(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAPI)
	assert.Nil(t, rows, "no partial data on failure")
	assert.Len(t, fake.requests, 2, "client errors are not retried")
}

func TestProcessRowSkipsBadProperties(t *testing.T) {
	fake := newFake()
	fake.schema = append(fake.schema, "Receipt", "Check")
	db, err := NewSyncDB(context.Background(), fake, "db", fastRetry())
	require.NoError(t, err)

	page := expensePage("p1", 5, "Snack", time.Now())
	page.Properties["Check"] = &notionapi.CheckboxProperty{Type: "checkbox", Checkbox: true}

	row := db.ProcessRow(page)
	assert.Equal(t, 5.0, row["Amount"])
	assert.NotContains(t, row, "Receipt", "missing property")
	assert.NotContains(t, row, "Check", "unsupported type")
}

func TestPropertyValueVariants(t *testing.T) {
	day := notionapi.Date(time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC))

	cases := []struct {
		name string
		prop notionapi.Property
		want any
	}{
		{"rich text", &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: "a"}, {PlainText: "b"}}}, "a b"},
		{"empty rich text", &notionapi.RichTextProperty{}, ""},
		{"formula number", &notionapi.FormulaProperty{Formula: notionapi.Formula{Type: "number", Number: 4.5}}, 4.5},
		{"formula string", &notionapi.FormulaProperty{Formula: notionapi.Formula{Type: "string", String: "Mar 2024"}}, "Mar 2024"},
		{"unique id without prefix", &notionapi.UniqueIDProperty{UniqueID: notionapi.UniqueID{Number: 42}}, 42.0},
		{"date only", &notionapi.DateProperty{Date: &notionapi.DateObject{Start: &day}}, "2024-01-09"},
		{"empty date", &notionapi.DateProperty{}, nil},
		{"created time", &notionapi.CreatedTimeProperty{CreatedTime: time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)}, "2024-01-09T08:00:00.000Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := propertyValue(tc.prop)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := propertyValue(&notionapi.FormulaProperty{Formula: notionapi.Formula{Type: "boolean", Boolean: true}})
	assert.Error(t, err)
}

func TestAfterWatermark(t *testing.T) {
	filter, err := AfterWatermark("Updated At", "2024-03-06T09:00:00.000Z")
	require.NoError(t, err)
	pf, ok := filter.(*notionapi.PropertyFilter)
	require.True(t, ok)
	assert.Equal(t, "Updated At", pf.Property)
	require.NotNil(t, pf.Date.After)
	assert.True(t, time.Time(*pf.Date.After).Equal(time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)))

	filter, err = AfterWatermark("Updated At", "2024-03-06T09:00:00.500Z")
	require.NoError(t, err)
	raw, err := json.Marshal(filter)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"after":"2024-03-06T09:00:00Z"`, "bound rounds down, never past the watermark")

	_, err = AfterWatermark("Updated At", "yesterday")
	assert.Error(t, err)
}
