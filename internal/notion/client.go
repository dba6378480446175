package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jomei/notionapi"
)

// ErrAPI wraps every non-success answer from the Notion API.
var ErrAPI = errors.New("notion api error")

// DatabaseService is the part of the Notion client the sync needs.
// notionapi.Client.Database satisfies it.
type DatabaseService interface {
	Get(ctx context.Context, id notionapi.DatabaseID) (*notionapi.Database, error)
	Query(ctx context.Context, id notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

type ClientConfig struct {
	Token   string
	Version string
	// BaseURL replaces scheme and host of api.notion.com, for proxies.
	BaseURL string
	Timeout time.Duration
}

// NewClient builds a notionapi client. The library's own 429 retry is left
// off; QueryDatabase retries whole page requests itself.
func NewClient(cfg ClientConfig) (*notionapi.Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("invalid NOTION_URL %q", cfg.BaseURL)
		}
		httpClient.Transport = &baseURLTransport{base: base, next: http.DefaultTransport}
	}
	opts := []notionapi.ClientOption{notionapi.WithHTTPClient(httpClient)}
	if cfg.Version != "" {
		opts = append(opts, notionapi.WithVersion(cfg.Version))
	}
	return notionapi.NewClient(notionapi.Token(cfg.Token), opts...), nil
}

type baseURLTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.base.Scheme
	r.URL.Host = t.base.Host
	r.Host = t.base.Host
	return t.next.RoundTrip(r)
}

// wrapAPIError tags Notion error bodies with ErrAPI and the HTTP status.
func wrapAPIError(op string, err error) error {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w: status %d %s: %s", op, ErrAPI, apiErr.Status, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// retryable reports whether a failed request is worth repeating. Client
// errors other than rate limiting and conflicts will fail the same way again.
func retryable(err error) bool {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests ||
			apiErr.Status == http.StatusConflict ||
			apiErr.Status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}
