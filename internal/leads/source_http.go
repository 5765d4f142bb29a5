package leads

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPFetcher reads the latest untriaged lead from the CRM's REST API.
//
// Expected contract:
//
//	GET {base}/leads/latest?status=new
//	200 -> Lead JSON
//	204 or 404 -> nothing to show
type HTTPFetcher struct {
	client *resty.Client
}

type HTTPFetcherConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Retries happen inside a single poll; the poll loop itself never retries early.
	RetryCount int
}

func NewHTTPFetcher(cfg HTTPFetcherConfig) (*HTTPFetcher, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("leads: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	c := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	return &HTTPFetcher{client: c}, nil
}

func (f *HTTPFetcher) FetchLatestIncoming(ctx context.Context) (Lead, bool, error) {
	var out Lead
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("status", string(StatusNew)).
		SetResult(&out).
		Get("/leads/latest")
	if err != nil {
		return Lead{}, false, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		if out.ID == "" {
			return Lead{}, false, nil
		}
		return out, true, nil
	case http.StatusNoContent, http.StatusNotFound:
		return Lead{}, false, nil
	default:
		return Lead{}, false, fmt.Errorf("%w: unexpected status %s", ErrSourceUnavailable, resp.Status())
	}
}
