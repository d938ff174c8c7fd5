// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"social-inbox/internal/adapters/dto"
	"social-inbox/internal/core/domain"
)

// Custom errors for specific Graph API failures
var (
	// ErrTokenExpired indicates the access token has expired (code 190, subcode 463)
	ErrTokenExpired = fmt.Errorf("access token expired: %w", domain.ErrCredentialInvalid)

	// ErrTokenInvalid indicates any other rejected access token (code 190)
	ErrTokenInvalid = fmt.Errorf("access token invalid: %w", domain.ErrCredentialInvalid)

	// ErrRateLimited indicates the rate limit was exceeded (code 4, 17, 32, 613)
	ErrRateLimited = fmt.Errorf("rate limit exceeded: %w", domain.ErrTransient)

	// ErrPermissionDenied indicates missing permissions (code 10, 200, 299)
	ErrPermissionDenied = fmt.Errorf("permission denied: %w", domain.ErrPlatform)
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond

	// maxPages bounds cursor walks so a misbehaving API cannot loop forever
	maxPages = 50
)

// APIError is a Graph error response mapped onto the domain taxonomy
type APIError struct {
	Status    int
	Code      int
	Subcode   int
	Message   string
	FBTraceID string
	kind      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error (status %d, code %d): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// ClientConfig holds the transport settings shared by both platform clients
type ClientConfig struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	QPS        float64 // <= 0 means unlimited
	Burst      int
}

// graphClient is the HTTP core of both adapters: rate limited, with retries
// for idempotent reads on transport errors only.
type graphClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	platform   domain.Platform
}

func newGraphClient(platform domain.Platform, cfg ClientConfig) *graphClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIVersion != "" {
		base += "/" + cfg.APIVersion
	}

	return &graphClient{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		platform:   platform,
	}
}

// transportError marks failures where the request never got a Graph answer
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func (c *graphClient) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// get performs an idempotent GET with retry
func (c *graphClient) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.getURL(ctx, c.endpoint(path, query), out)
}

// getURL is get for absolute URLs such as paging.next
func (c *graphClient) getURL(ctx context.Context, rawURL string, out any) error {
	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err = c.do(ctx, http.MethodGet, rawURL, nil, out)
		if err == nil {
			return nil
		}

		// Only transport failures are retried; Graph answers are final.
		var te *transportError
		if !errors.As(err, &te) || ctx.Err() != nil {
			return err
		}

		if attempt < c.maxRetries {
			backoff := time.Duration(attempt) * c.backoff
			slog.Warn("Retrying Graph API call",
				"platform", c.platform,
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff_ms", backoff.Milliseconds(),
				"error", err,
			)
			select {
			case <-ctx.Done():
				return err
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries, err)
}

// post sends a JSON body once; sends are never retried
func (c *graphClient) post(ctx context.Context, path string, query url.Values, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.endpoint(path, query), data, out)
}

func (c *graphClient) do(ctx context.Context, method, rawURL string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", domain.ErrTransient, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the request URL, which carries the access token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return &transportError{err: fmt.Errorf("%w: %s request failed: %v", domain.ErrTransient, method, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: fmt.Errorf("%w: failed to read response: %v", domain.ErrTransient, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := mapGraphError(resp.StatusCode, data)
		slog.Error("Graph API error",
			"platform", c.platform,
			"status_code", apiErr.Status,
			"error_code", apiErr.Code,
			"error_subcode", apiErr.Subcode,
			"error_message", apiErr.Message,
			"fbtrace_id", apiErr.FBTraceID,
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	return nil
}

// mapGraphError maps a non-2xx response onto the domain error taxonomy
func mapGraphError(status int, body []byte) *APIError {
	var env dto.GraphErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		kind := domain.ErrPlatform
		if status >= 500 || status == http.StatusTooManyRequests {
			kind = domain.ErrTransient
		}
		return &APIError{Status: status, Message: truncate(string(body), 200), kind: kind}
	}

	ge := env.Error
	apiErr := &APIError{
		Status:    status,
		Code:      ge.Code,
		Subcode:   ge.ErrorSubcode,
		Message:   ge.Message,
		FBTraceID: ge.FBTraceID,
	}

	switch ge.Code {
	case 190: // Token expired/invalid
		apiErr.kind = ErrTokenInvalid
		if ge.ErrorSubcode == 463 {
			apiErr.kind = ErrTokenExpired
		}
	case 4, 17, 32, 613: // Rate limiting
		apiErr.kind = ErrRateLimited
	case 10, 200, 299: // Permission errors
		apiErr.kind = ErrPermissionDenied
	case 1, 2: // Unknown / service unavailable
		apiErr.kind = domain.ErrTransient
	default:
		apiErr.kind = domain.ErrPlatform
		if ge.IsTransient {
			apiErr.kind = domain.ErrTransient
		}
	}
	return apiErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// graphTimeLayout is the timestamp format of Graph list responses
const graphTimeLayout = "2006-01-02T15:04:05-0700"

func parseGraphTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(graphTimeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	slog.Debug("Unparseable Graph timestamp", "value", s)
	return time.Time{}
}

func tokenQuery(token string, kv ...string) url.Values {
	q := url.Values{}
	q.Set("access_token", token)
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	return q
}
