package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"pulse/internal/logger"
)

const (
	maxFetchAttempts = 3
	retryBaseDelay   = 250 * time.Millisecond
	// MaxPages bounds pagination for every adapter.
	MaxPages = 25
)

// secretParams are query parameters stripped from URLs before they are
// logged or stored on breadcrumbs.
var secretParams = map[string]bool{
	"key":          true,
	"api_key":      true,
	"apikey":       true,
	"token":        true,
	"access_token": true,
}

// RedactURL replaces secret-bearing query parameter values with REDACTED.
// Unparseable input is returned unchanged.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := parsed.Query()
	changed := false
	for name := range query {
		if secretParams[name] {
			query.Set(name, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// getJSON fetches a URL and decodes the JSON response into out, retrying
// transient failures with linear backoff (attempt * 250ms). 4xx responses
// other than 429 are not retried.
func getJSON(ctx context.Context, rawURL string, out any) error {
	body, err := getBody(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", RedactURL(rawURL), err)
	}
	return nil
}

// getBody fetches a URL with retries and returns the raw response body.
func getBody(ctx context.Context, rawURL, accept string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		if attempt > 1 {
			logger.Debug("Retrying fetch", "url", RedactURL(rawURL), "attempt", attempt)
			select {
			case <-time.After(time.Duration(attempt) * retryBaseDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, retryable, err := doGet(ctx, rawURL, accept)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("fetch failed for %s after %d attempts: %w", RedactURL(rawURL), maxFetchAttempts, lastErr)
}

func doGet(ctx context.Context, rawURL, accept string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}
