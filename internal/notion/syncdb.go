package notion

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jomei/notionapi"
	"go.uber.org/zap"

	"github.com/tanq16/moneybook/internal/storage"
)

const (
	pageSize = 100
	// timeLayout matches the timestamps Notion itself returns.
	timeLayout = "2006-01-02T15:04:05.000Z07:00"
	dateLayout = "2006-01-02"
)

// SyncDB reads one Notion database into flat rows. The property schema is
// fetched once at construction and fixes the column set.
type SyncDB struct {
	service    DatabaseService
	databaseID notionapi.DatabaseID
	columns    []string
	logger     *zap.Logger
	retryOpts  []retry.Option
}

type Option func(*SyncDB)

func WithLogger(logger *zap.Logger) Option {
	return func(s *SyncDB) { s.logger = logger }
}

func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *SyncDB) { s.retryOpts = append(s.retryOpts, opts...) }
}

func NewSyncDB(ctx context.Context, service DatabaseService, databaseID string, opts ...Option) (*SyncDB, error) {
	s := &SyncDB{
		service:    service,
		databaseID: notionapi.DatabaseID(databaseID),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	columns, err := s.fetchColumns(ctx)
	if err != nil {
		return nil, err
	}
	s.columns = columns
	return s, nil
}

// Columns returns the property names of the database, sorted.
func (s *SyncDB) Columns() []string {
	return append([]string(nil), s.columns...)
}

func (s *SyncDB) fetchColumns(ctx context.Context) ([]string, error) {
	db, err := withRetry(ctx, func(ctx context.Context) (*notionapi.Database, error) {
		return s.service.Get(ctx, s.databaseID)
	}, s.retryOpts...)
	if err != nil {
		return nil, wrapAPIError("get database properties", err)
	}
	columns := make([]string, 0, len(db.Properties))
	for name := range db.Properties {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns, nil
}

// QueryDatabase runs a filtered, sorted query and follows the cursor until
// the API reports no more pages. Any failed page fails the whole query.
func (s *SyncDB) QueryDatabase(ctx context.Context, filter notionapi.Filter, sorts []notionapi.SortObject) ([]storage.Row, error) {
	req := &notionapi.DatabaseQueryRequest{
		Sorts:    sorts,
		PageSize: pageSize,
	}
	if filter != nil {
		req.Filter = filter
	}

	var rows []storage.Row
	for page := 1; ; page++ {
		resp, err := withRetry(ctx, func(ctx context.Context) (*notionapi.DatabaseQueryResponse, error) {
			return s.service.Query(ctx, s.databaseID, req)
		}, s.retryOpts...)
		if err != nil {
			return nil, wrapAPIError(fmt.Sprintf("query database page %d", page), err)
		}
		for i := range resp.Results {
			rows = append(rows, s.ProcessRow(resp.Results[i]))
		}
		s.logger.Debug("fetched page",
			zap.Int("page", page),
			zap.Int("results", len(resp.Results)),
			zap.Bool("hasMore", resp.HasMore))
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		req.StartCursor = resp.NextCursor
	}
	return rows, nil
}

// ProcessRow flattens a page to one value per schema property. Properties
// that are missing or of an unsupported type are logged and left out.
func (s *SyncDB) ProcessRow(page notionapi.Page) storage.Row {
	row := storage.Row{storage.PageIDKey: string(page.ID)}
	for _, name := range s.columns {
		prop, ok := page.Properties[name]
		if !ok || prop == nil {
			s.logger.Warn("property missing on page", zap.String("property", name), zap.String("page", string(page.ID)))
			continue
		}
		value, err := propertyValue(prop)
		if err != nil {
			s.logger.Warn("skipping property", zap.String("property", name), zap.String("page", string(page.ID)), zap.Error(err))
			continue
		}
		row[name] = value
	}
	return row
}

func propertyValue(prop notionapi.Property) (any, error) {
	switch p := prop.(type) {
	case *notionapi.NumberProperty:
		return p.Number, nil
	case *notionapi.CreatedTimeProperty:
		return formatTime(p.CreatedTime), nil
	case *notionapi.LastEditedTimeProperty:
		return formatTime(p.LastEditedTime), nil
	case *notionapi.RichTextProperty:
		return joinPlainText(p.RichText), nil
	case *notionapi.TitleProperty:
		return joinPlainText(p.Title), nil
	case *notionapi.SelectProperty:
		return p.Select.Name, nil
	case *notionapi.DateProperty:
		return dateStart(p.Date), nil
	case *notionapi.FormulaProperty:
		switch p.Formula.Type {
		case "number":
			return p.Formula.Number, nil
		case "string":
			return p.Formula.String, nil
		case "date":
			return dateStart(p.Formula.Date), nil
		default:
			return nil, fmt.Errorf("formula type %q not supported", p.Formula.Type)
		}
	case *notionapi.UniqueIDProperty:
		if p.UniqueID.Prefix != nil && *p.UniqueID.Prefix != "" {
			return fmt.Sprintf("%s-%d", *p.UniqueID.Prefix, p.UniqueID.Number), nil
		}
		return float64(p.UniqueID.Number), nil
	default:
		return nil, fmt.Errorf("property type %q not supported", prop.GetType())
	}
}

func joinPlainText(texts []notionapi.RichText) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, t.PlainText)
	}
	return strings.Join(parts, " ")
}

func dateStart(d *notionapi.DateObject) any {
	if d == nil || d.Start == nil {
		return nil
	}
	t := time.Time(*d.Start)
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 && t.Location() == time.UTC {
		return t.Format(dateLayout)
	}
	return formatTime(t)
}

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

// AfterWatermark filters the watermark property to rows newer than the
// given value. notionapi sends dates at second precision, so the bound is
// rounded down and callers drop rows that are not strictly newer.
func AfterWatermark(property, watermark string) (notionapi.Filter, error) {
	t, err := parseTimestamp(watermark)
	if err != nil {
		return nil, fmt.Errorf("invalid watermark %q: %w", watermark, err)
	}
	after := notionapi.Date(t.Truncate(time.Second))
	return &notionapi.PropertyFilter{
		Property: property,
		Date:     &notionapi.DateFilterCondition{After: &after},
	}, nil
}

func AscendingBy(property string) []notionapi.SortObject {
	return []notionapi.SortObject{{
		Property:  property,
		Direction: notionapi.SortOrderASC,
	}}
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, timeLayout, dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
