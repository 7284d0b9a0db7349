package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/silo/internal/domain"
)

// newClient builds a go-openai client whose transport records Retry-After on 429s.
func newClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &retryAfterDoer{inner: http.DefaultClient}
	return openai.NewClientWithConfig(cfg)
}

type retryAfterKey struct{}

// retryAfterSlot receives the Retry-After hint of the request it is attached to.
type retryAfterSlot struct {
	wait time.Duration
}

func withRetryAfterSlot(ctx context.Context) (context.Context, *retryAfterSlot) {
	slot := &retryAfterSlot{}
	return context.WithValue(ctx, retryAfterKey{}, slot), slot
}

// retryAfterDoer exposes the Retry-After header, which go-openai errors drop.
type retryAfterDoer struct {
	inner openai.HTTPDoer
}

func (d *retryAfterDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.inner.Do(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err //nolint:wrapcheck // transparent transport
	}
	if slot, ok := req.Context().Value(retryAfterKey{}).(*retryAfterSlot); ok {
		slot.wait = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return resp, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// parseAPIError extracts a human-readable error from the API response.
// Every error wraps domain.ErrProvider; 429 additionally wraps domain.ErrRateLimited.
// Transport errors keep their cause so deadlines and timeouts stay retryable.
func parseAPIError(op, provider string, err error, retryAfter time.Duration) error {
	var (
		status int
		detail string
	)

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, detail = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		detail = extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
	default:
		return fmt.Errorf("%s request failed: %w: %w", op, domain.ErrProvider, err)
	}

	base := fmt.Errorf("%s API error %d: %s", op, status, detail)
	if status == http.StatusTooManyRequests {
		return domain.NewRateLimitError(provider, retryAfter, base)
	}
	return fmt.Errorf("%w: %w", base, domain.ErrProvider)
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius-style providers).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
