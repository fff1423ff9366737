package intuis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// do issues a request through the resilient request layer:
//
//   - waits out the circuit breaker if it is open
//   - acquires a throttle slot
//   - ensures a valid access token
//   - issues the call, classifying the response:
//     401 is retried exactly once after a token refresh; 429 is retried with
//     Retry-After or exponential backoff against its own budget; 5xx and
//     transport errors share a smaller budget with doubling backoff; any other
//     4xx is terminal.
//
// The retry state is carried explicitly (attempt counter, authRetried flag) so
// the budgets stay auditable.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	if wait := c.breaker.remainingWait(); wait > 0 {
		c.logger.Warn("circuit breaker open, waiting before request", "wait", wait, "path", path)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	if err := c.throttle.acquire(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	serverDelay := c.serverDelay
	var authRetried bool
	var lastErr error

	totalAttempts := max(defaultServerAttempts, c.rateLimitAttempts)
	for attempt := 1; attempt <= totalAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.requestURL(path), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.bearerToken())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < defaultServerAttempts {
				c.logger.Warn("network error, retrying", "method", method, "path", path, "attempt", attempt, "delay", serverDelay, "err", err)
				if err = sleep(ctx, serverDelay); err != nil {
					return nil, err
				}
				serverDelay *= 2
				continue
			}
			return nil, fmt.Errorf("%w: %s %s: %w", ErrConnectivity, method, path, lastErr)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			drain(resp)
			if authRetried {
				return nil, fmt.Errorf("%w: request unauthorized after token refresh", ErrAuth)
			}
			c.logger.Warn("request unauthorized, refreshing token and retrying", "method", method, "path", path)
			if err = c.refreshAccessToken(ctx); err != nil {
				return nil, err
			}
			authRetried = true
			// the 401 recovery doesn't count against the retry budgets
			attempt--

		case resp.StatusCode == http.StatusTooManyRequests:
			c.breaker.recordFailure()
			delay := rateLimitDelay(resp, c.rateLimitDelay, attempt)
			drain(resp)
			if attempt >= c.rateLimitAttempts {
				return nil, fmt.Errorf("%w: %s after %d attempts", ErrRateLimited, path, attempt)
			}
			c.logger.Warn("rate limited, retrying", "method", method, "path", path, "attempt", attempt, "delay", delay)
			if err = sleep(ctx, delay); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			drain(resp)
			if attempt >= defaultServerAttempts {
				return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
			}
			c.logger.Warn("server error, retrying", "method", method, "path", path, "code", resp.StatusCode, "attempt", attempt, "delay", serverDelay)
			if err = sleep(ctx, serverDelay); err != nil {
				return nil, err
			}
			serverDelay *= 2

		case resp.StatusCode >= 400:
			drain(resp)
			return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}

		default:
			responseBody, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: %s %s: %w", ErrConnectivity, method, path, err)
			}
			c.breaker.recordSuccess()
			return responseBody, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s: retries exhausted", ErrConnectivity, method, path)
}

func (c *Client) requestURL(path string) string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.baseURL + path
}

// rateLimitDelay determines how long to back off after a 429 response: the
// server's Retry-After when present, otherwise exponential backoff from the
// configured base delay. Either way the delay is capped.
func rateLimitDelay(resp *http.Response, baseDelay time.Duration, attempt int) time.Duration {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return min(time.Duration(seconds)*time.Second, defaultRateLimitMaxDelay)
		}
	}
	return min(baseDelay<<(attempt-1), defaultRateLimitMaxDelay)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
