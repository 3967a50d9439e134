package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// maxRetryAfter caps a server-requested wait.
const maxRetryAfter = 30 * time.Second

// retryPolicy retries transient HTTP failures with quadratic backoff and
// jitter. A Retry-After header, when present, replaces the computed wait.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

var defaultRetry = retryPolicy{maxRetries: 3, baseDelay: time.Second}

// statusError is a transient status that ran out of retries.
type statusError struct {
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// retryableStatus covers rate limits, request timeouts and server errors,
// including Anthropic's 529 overloaded.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func (p retryPolicy) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			return min(time.Duration(secs)*time.Second, maxRetryAfter)
		}
	}
	base := time.Duration(attempt*attempt) * p.baseDelay
	return base + time.Duration(rand.Int63n(int64(base/2+1)))
}

// do sends the request built by buildReq, rebuilding it for every attempt
// so the body can be replayed. Non-transient responses are returned as is
// for the caller to inspect.
func (p retryPolicy) do(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastResp *http.Response
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			wait := p.backoff(attempt, lastResp)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < p.maxRetries {
				logger.Warn("request failed, will retry", "err", err)
				lastResp = nil
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", p.maxRetries, err)
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if attempt >= p.maxRetries {
			return nil, fmt.Errorf("giving up after %d retries: %w", p.maxRetries, &statusError{statusCode: resp.StatusCode, body: string(body)})
		}
		logger.Warn("transient status, will retry", "status", resp.StatusCode)
		lastResp = resp
	}
}
