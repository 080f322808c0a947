package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/config"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/retry"
)

// MaxIDsPerLookup is the largest id list the /answers/{ids} endpoint accepts.
const MaxIDsPerLookup = 100

const (
	questionsEndpoint = "/questions"
	answersEndpoint   = "/answers"
)

// QuotaRecorder receives the quota_remaining of every successful response.
type QuotaRecorder interface {
	Update(remaining int)
}

// RequestRecorder observes every request the client makes.
type RequestRecorder interface {
	RecordRequest(ctx context.Context, endpoint, outcome string, elapsed time.Duration)
}

// Client talks to the StackExchange API
type Client struct {
	cfg        config.APIConfig
	httpClient *http.Client
	logger     *slog.Logger
	quota      QuotaRecorder
	requests   RequestRecorder

	mu        sync.Mutex
	notBefore time.Time // honours the API's backoff field
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// WithQuotaRecorder reports quota_remaining after every successful response.
func WithQuotaRecorder(q QuotaRecorder) Option {
	return func(c *Client) error {
		c.quota = q
		return nil
	}
}

// WithRequestRecorder reports every request outcome.
func WithRequestRecorder(r RequestRecorder) Option {
	return func(c *Client) error {
		c.requests = r
		return nil
	}
}

// NewClient creates a new API client
func NewClient(cfg config.APIConfig, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "api")
	return c, nil
}

// SearchQuestions fetches one page of questions tagged q.Tagged created at or
// after q.FromDate, oldest first. Each attempt is preceded by the configured
// search delay; timeouts are retried q.TimeoutRetries times.
func (c *Client) SearchQuestions(ctx context.Context, q QuestionQuery) (*Page[Question], error) {
	params := c.baseParams(c.cfg.QuestionFilter)
	params.Set("sort", "creation")
	params.Set("order", "asc")
	params.Set("tagged", q.Tagged)
	params.Set("fromdate", strconv.FormatInt(q.FromDate, 10))

	var lastErr error
	attempts := q.TimeoutRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := retry.Sleep(ctx, c.cfg.SearchDelay); err != nil {
			return nil, err
		}

		page, err := get[Question](ctx, c, questionsEndpoint, params)
		if err == nil {
			for _, item := range page.Items {
				if item.CreationDate > page.MaxCreationDate {
					page.MaxCreationDate = item.CreationDate
				}
			}
			return page, nil
		}

		var te *TimeoutError
		if !errors.As(err, &te) {
			return nil, err
		}
		lastErr = te.Err
		c.logger.Warn("question search timed out",
			"tagged", q.Tagged, "attempt", attempt, "max_attempts", attempts, "error", te.Err)
	}

	return nil, &TimeoutError{Endpoint: questionsEndpoint, Attempts: attempts, Err: lastErr}
}

// LookupAnswers fetches the answers with the given ids in one request.
func (c *Client) LookupAnswers(ctx context.Context, ids []int64) (*Page[Answer], error) {
	if len(ids) > MaxIDsPerLookup {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyIDs, len(ids), MaxIDsPerLookup)
	}
	if len(ids) == 0 {
		return &Page[Answer]{}, nil
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	return get[Answer](ctx, c, answersEndpoint+"/"+strings.Join(parts, ";"), c.baseParams(c.cfg.AnswerFilter))
}

func (c *Client) baseParams(filter string) url.Values {
	params := url.Values{}
	params.Set("site", c.cfg.Site)
	params.Set("pagesize", strconv.Itoa(c.cfg.PageSize))
	if filter != "" {
		params.Set("filter", filter)
	}
	if c.cfg.Key != "" {
		params.Set("key", c.cfg.Key)
	}
	return params
}

// waitBackoff blocks until the backoff requested by the previous response elapsed.
func (c *Client) waitBackoff(ctx context.Context) error {
	c.mu.Lock()
	wait := time.Until(c.notBefore)
	c.mu.Unlock()
	return retry.Sleep(ctx, wait)
}

func (c *Client) setBackoff(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := time.Now().Add(d); until.After(c.notBefore) {
		c.notBefore = until
	}
}

func (c *Client) record(ctx context.Context, endpoint, outcome string, start time.Time) {
	if c.requests != nil {
		c.requests.RecordRequest(ctx, endpoint, outcome, time.Since(start))
	}
}

// get performs a single request and decodes the response envelope.
func get[T any](ctx context.Context, c *Client, path string, params url.Values) (*Page[T], error) {
	if err := c.waitBackoff(ctx); err != nil {
		return nil, err
	}

	endpoint := questionsEndpoint
	if strings.HasPrefix(path, answersEndpoint) {
		endpoint = answersEndpoint
	}
	start := time.Now()

	reqCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			c.record(ctx, endpoint, "timeout", start)
			return nil, &TimeoutError{Endpoint: endpoint, Attempts: 1, Err: err}
		}
		c.record(ctx, endpoint, "error", start)
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			c.record(ctx, endpoint, "timeout", start)
			return nil, &TimeoutError{Endpoint: endpoint, Attempts: 1, Err: err}
		}
		c.record(ctx, endpoint, "error", start)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope[T]
	decodeErr := json.Unmarshal(body, &env)
	if env.Backoff > 0 {
		c.setBackoff(time.Duration(env.Backoff) * time.Second)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorID:    env.ErrorID,
			ErrorName:  env.ErrorName,
			Message:    env.ErrorMessage,
			Body:       string(body),
		}
		if env.ErrorName == throttleViolation {
			c.record(ctx, endpoint, "throttled", start)
			c.logger.Warn("throttle violation, pausing",
				"endpoint", endpoint, "cooldown", c.cfg.ThrottleCooldown, "body", string(body))
			if err := retry.Sleep(ctx, c.cfg.ThrottleCooldown); err != nil {
				return nil, err
			}
			return nil, apiErr
		}
		c.record(ctx, endpoint, "error", start)
		c.logger.Warn("request failed", "endpoint", endpoint, "status", resp.StatusCode, "body", string(body))
		return nil, apiErr
	}

	if decodeErr != nil {
		c.record(ctx, endpoint, "unexpected", start)
		return nil, fmt.Errorf("%w: %s: %v", ErrUnexpectedResponse, endpoint, decodeErr)
	}
	if env.HasMore == nil || env.QuotaRemaining == nil {
		c.record(ctx, endpoint, "unexpected", start)
		c.logger.Warn("unexpected response", "endpoint", endpoint, "body", string(body))
		return nil, fmt.Errorf("%w: %s: %s", ErrUnexpectedResponse, endpoint, string(body))
	}

	c.record(ctx, endpoint, "ok", start)
	if c.quota != nil {
		c.quota.Update(*env.QuotaRemaining)
	}

	return &Page[T]{
		Items:          env.Items,
		QuotaRemaining: *env.QuotaRemaining,
		HasMore:        *env.HasMore,
		Backoff:        time.Duration(env.Backoff) * time.Second,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
