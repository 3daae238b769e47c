package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// requestTimeout bounds every upstream call. Providers are on the login
// critical path; a hung upstream must not hold a request slot for long.
const requestTimeout = 10 * time.Second

type apiClient struct {
	http *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		http: &http.Client{Timeout: requestTimeout},
	}
}

// getJSON fetches a JSON resource with an optional bearer token. Transport
// failures are retried once; HTTP error statuses are returned as-is since
// the upstream already saw the request.
func (c *apiClient) getJSON(ctx context.Context, rawURL, bearer string, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return decodeResponse(resp, out)
	}
	return lastErr
}

// postForm submits a form exactly once. The code exchange burns the
// authorization code whether or not the response arrives, so a retry can
// never succeed and would only blur the audit trail.
func (c *apiClient) postForm(ctx context.Context, rawURL string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

// statusError carries a non-2xx upstream response. The body is truncated;
// provider error bodies hold error codes, not secrets, but they can be
// arbitrarily large.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// clientRejection reports whether the upstream explicitly rejected the
// request, as opposed to failing on its side.
func (e *statusError) clientRejection() bool {
	return e.status >= 400 && e.status < 500
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode, body: truncate(string(body), 256)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
