package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rickgao/lastvalue/internal/batch"
)

// ErrAbsent is matched by an APIError for an instrument with no stored price.
var ErrAbsent = errors.New("price absent")

// APIError represents an error response from the lastvalue API.
type APIError struct {
	StatusCode int
	Kind       string // ErrorResponse.Kind, empty if the body was not JSON
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("lastvalue api error %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("lastvalue api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Is lets callers match server-side kinds with the batch sentinels and ErrAbsent.
func (e *APIError) Is(target error) bool {
	switch e.Kind {
	case batch.KindAlreadyExists.String():
		return target == batch.ErrAlreadyExists
	case batch.KindNotFound.String():
		return target == batch.ErrNotFound
	case batch.KindInvalidState.String():
		return target == batch.ErrInvalidState
	case KindAbsent:
		return target == ErrAbsent
	}
	return false
}

// doRequest performs an HTTP request, encoding in as the JSON body when non-nil.
func (c *Client) doRequest(ctx context.Context, method, path string, in any) (*http.Response, []byte, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       data,
		}
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Kind != "" {
			apiErr.Kind = er.Kind
			apiErr.Message = er.Error
		}
		return nil, nil, apiErr
	}

	return resp, data, nil
}

// doWithRetry performs a request with exponential backoff retry. Only use it
// for requests that are safe to repeat.
func (c *Client) doWithRetry(ctx context.Context, method, path string) (*http.Response, []byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		resp, body, err := c.doRequest(ctx, method, path, nil)
		if err == nil {
			return resp, body, nil
		}

		lastErr = err

		// Check if error is retryable
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, nil, err
		}
	}

	return nil, nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// get performs a GET request with retries and decodes the response.
func (c *Client) get(ctx context.Context, path string, result any) (*http.Response, error) {
	resp, body, err := c.doWithRetry(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return resp, nil
}

// post performs a single POST request and decodes the response. Producer calls
// change server state, so they are never retried.
func (c *Client) post(ctx context.Context, path string, in, result any) error {
	_, body, err := c.doRequest(ctx, http.MethodPost, path, in)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
