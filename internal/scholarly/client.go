package scholarly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client is the rate-limited, retrying HTTP client for the scholarly API
// (C3), used directly for the batch endpoint and for the per-paper
// reference-pagination endpoint (C4).
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	limiter     *limiter
	log         *slog.Logger
	backoffBase time.Duration
	backoffCap  time.Duration
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (tests inject one
// pointed at an httptest.Server).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit overrides the default K-calls-per-T-seconds window.
func WithRateLimit(k int, window time.Duration) Option {
	return func(c *Client) { c.limiter = newLimiter(k, window) }
}

// WithLogger overrides the component logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithBackoff overrides the retry backoff bounds (tests use this to avoid
// real sleeps while still exercising the retry-exhaustion path).
func WithBackoff(base, cap time.Duration) Option {
	return func(c *Client) { c.backoffBase, c.backoffCap = base, cap }
}

// NewClient builds a scholarly API client authenticated via the x-api-key
// header, with the default K=1 calls/T=1.0s rate limit from spec §4.3.
func NewClient(apiKey, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:     newLimiter(1, time.Second),
		log:         slog.With("component", "scholarly"),
		backoffBase: BackoffBase,
		backoffCap:  BackoffCap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sendRequest acquires the rate limiter, issues the call, and retries
// transient failures with exponential backoff up to MaxAttempts total
// attempts (spec §4.3). Retry-After is honored by sleeping before counting
// the attempt as a failure for backoff purposes.
func (c *Client) sendRequest(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	var respBody []byte
	attempt := 0

	op := func() error {
		attempt++
		if err := c.limiter.acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("content-type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Transport-level failure (timeout, connection reset): transient.
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			respBody = data
			return nil
		}

		apiErr := &apiError{
			statusCode: resp.StatusCode,
			msg:        string(data),
			retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusInternalServerError,
		}

		if apiErr.retryable {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil {
					apiErr.retryAfter = secs
					c.log.Warn("retry-after honored", "seconds", secs, "status", resp.StatusCode)
					if sleepErr := sleepCtx(ctx, time.Duration(secs)*time.Second); sleepErr != nil {
						return backoff.Permanent(sleepErr)
					}
				}
			}
			return apiErr
		}

		return backoff.Permanent(apiErr)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.MaxInterval = c.backoffCap
	bo.MaxElapsedTime = 0 // attempt count below bounds retries, not elapsed time

	err := backoff.Retry(func() error {
		if attempt >= MaxAttempts {
			return backoff.Permanent(fmt.Errorf("scholarly api: exhausted %d attempts", MaxAttempts))
		}
		return op()
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// FetchBatch issues the paper/batch POST for up to 100 IDs (spec §6).
func (c *Client) FetchBatch(ctx context.Context, ids []string) ([]BatchRecord, error) {
	body, err := json.Marshal(struct {
		IDs []string `json:"ids"`
	}{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}

	u := c.baseURL + "/paper/batch?fields=" + url.QueryEscape(batchFields)
	raw, err := c.sendRequest(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}

	var records []*BatchRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: batch response is not a list", ErrMalformedResponse)
	}

	out := make([]BatchRecord, 0, len(records))
	for _, r := range records {
		if r == nil || r.PaperID == "" {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// FetchReferencesPage issues one page of the dedicated references endpoint
// (spec §4.4/§6) at the given offset.
func (c *Client) FetchReferencesPage(ctx context.Context, paperID string, offset int) (ReferencesPage, error) {
	u := fmt.Sprintf("%s/paper/%s/references?fields=paperId&limit=%d&offset=%d",
		c.baseURL, url.PathEscape(paperID), PageSize, offset)

	raw, err := c.sendRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ReferencesPage{}, err
	}

	var page ReferencesPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return ReferencesPage{}, fmt.Errorf("%w: references page", ErrMalformedResponse)
	}
	return page, nil
}
