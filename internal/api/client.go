package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/withobsrvr/streamctl/internal/config"
	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

const maxBodySize = 8 << 20

// RetryPolicy bounds transport retries. The delay before attempt n+1 is
// BaseDelay * Multiplier^(n-1), capped at MaxDelay when MaxDelay > 0.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 5 attempts starting at 500ms and doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: 30 * time.Second}
}

// RetryPolicyFrom converts the retry settings.
func RetryPolicyFrom(s config.RetrySettings) RetryPolicy {
	return RetryPolicy{MaxAttempts: s.MaxAttempts, BaseDelay: s.BaseDelay, Multiplier: s.Multiplier, MaxDelay: s.MaxDelay}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<63 - 1)
	}
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// Request describes one control-plane call. At most one of Form and JSON is
// used as the body.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
	JSON   any
}

func (r *Request) String() string {
	return r.Method + " " + r.Path
}

func (r *Request) encode() ([]byte, string, error) {
	switch {
	case r.JSON != nil:
		data, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	case r.Form != nil:
		return []byte(r.Form.Encode()), "application/x-www-form-urlencoded", nil
	}
	return nil, "", nil
}

// Response is the raw outcome of the last attempt.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Errors     []ErrorItem
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL of the control plane, e.g. http://localhost:9393.
	BaseURL string

	// HTTPClient overrides the default client built from Timeout and TLS.
	HTTPClient *http.Client

	// Timeout is the per-attempt request timeout.
	Timeout time.Duration

	// TLS configures the transport when HTTPClient is nil.
	TLS config.TLSConfig

	// TokenSource supplies the bearer token; nil sends no Authorization header.
	TokenSource oauth2.TokenSource

	Retry RetryPolicy

	// Timer drives the sleeps between attempts; nil uses real timers.
	Timer backoff.Timer

	Logger *zap.Logger
}

// Client executes control-plane requests with bounded retry. It owns
// transport resilience only: payload-level meaning is left to the caller.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     oauth2.TokenSource
	retry      RetryPolicy
	timer      backoff.Timer
	log        *zap.Logger
}

// NewClient creates a Client from opts.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("control plane URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid control plane URL: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		tlsConfig, err := opts.TLS.ClientTLSConfig()
		if err != nil {
			return nil, err
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		httpClient = &http.Client{Timeout: opts.Timeout, Transport: transport}
	}

	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	log := opts.Logger
	if log == nil {
		log = logger.Named("api")
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		tokens:     opts.TokenSource,
		retry:      retry,
		timer:      opts.Timer,
		log:        log,
	}, nil
}

// Execute issues req, retrying network failures, 5xx and 429 responses
// according to the retry policy. A response carrying a structured error list
// (whatever its status) or any other 4xx status is returned together with an
// *Error and is never retried.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	body, contentType, err := req.encode()
	if err != nil {
		return nil, &errdefs.ConfigError{Field: req.String(), Reason: "request body cannot be encoded", Err: err}
	}

	var (
		start    = time.Now()
		attempts int
		last     *Response
		lastErr  error
	)

	operation := func() error {
		attempts++
		resp, err := c.do(ctx, req, body, contentType)
		elapsed := time.Since(start)
		if err != nil {
			var permanent *backoff.PermanentError
			if errors.As(err, &permanent) || ctx.Err() != nil {
				last, lastErr = nil, nil
				return err
			}
			c.log.Warn("Control plane request failed",
				zap.String("op", req.String()),
				zap.Int("attempt", attempts),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			last, lastErr = nil, err
			return err
		}

		c.log.Debug("Control plane request completed",
			zap.String("op", req.String()),
			zap.Int("attempt", attempts),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))
		last = resp
		if retryableStatus(resp.StatusCode) && len(parseErrorItems(resp.Body)) == 0 {
			lastErr = fmt.Errorf("control plane answered %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
			return lastErr
		}
		return nil
	}

	b := backoff.WithContext(c.retry.backOff(), ctx)
	err = backoff.RetryNotifyWithTimer(operation, b, func(err error, wait time.Duration) {
		c.log.Info("Retrying control plane request",
			zap.String("op", req.String()),
			zap.Int("next_attempt", attempts+1),
			zap.Duration("backoff", wait))
	}, c.timer)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", req, ctx.Err())
		}
		if lastErr == nil {
			// permanent failure raised before a response was read
			return nil, fmt.Errorf("%s: %w", req, err)
		}
		status := 0
		if last != nil {
			status = last.StatusCode
		}
		return last, &errdefs.TransportError{Op: req.String(), Attempts: attempts, Status: status, Err: lastErr}
	}

	if items := parseErrorItems(last.Body); len(items) > 0 {
		last.Errors = items
		return last, &Error{Op: req.String(), StatusCode: last.StatusCode, Items: items}
	}
	if last.StatusCode >= 400 {
		return last, &Error{Op: req.String(), StatusCode: last.StatusCode, Body: string(last.Body)}
	}
	return last, nil
}

func (c *Client) do(ctx context.Context, req *Request, body []byte, contentType string) (*Response, error) {
	u := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to obtain access token: %w", err))
		}
		token.SetAuthHeader(httpReq)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}
