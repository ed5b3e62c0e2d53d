package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidelane/convocore/internal/profile"
)

// Client talks to the remote decision service over HTTP JSON. It implements
// both Decider and Extractor; the Agent wrapping it owns timeout and
// fallback behavior, so errors returned here are raw transport errors.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

// NewClient builds a decision-service client for the given base URL.
// The API key may be empty for unauthenticated deployments.
func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With("component", "decision_client"),
	}
}

// Decide posts the decision request and decodes the service's Result.
func (c *Client) Decide(ctx context.Context, req Request) (*Result, error) {
	var res Result
	if err := c.post(ctx, "/v1/decide", req, &res); err != nil {
		return nil, err
	}
	res.Confidence = profile.ClampConfidence(res.Confidence)
	return &res, nil
}

type extractRequest struct {
	Message        string            `json:"message"`
	ProfileSummary map[string]string `json:"profile_summary,omitempty"`
}

// Extract posts the message for profile extraction. A 204 from the service
// means nothing was extracted and yields a nil patch.
func (c *Client) Extract(ctx context.Context, message string, priorSummary map[string]string) (*profile.ExtractionPatch, error) {
	var patch profile.ExtractionPatch
	ok, err := c.postMaybe(ctx, "/v1/extract", extractRequest{Message: message, ProfileSummary: priorSummary}, &patch)
	if err != nil || !ok {
		return nil, err
	}
	patch.Confidence = profile.ClampConfidence(patch.Confidence)
	return &patch, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	_, err := c.postMaybe(ctx, path, in, out)
	return err
}

// postMaybe sends one JSON request with a bounded retry on 429/5xx.
// Returns false when the service answered 204 No Content.
func (c *Client) postMaybe(ctx context.Context, path string, in, out any) (bool, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return false, fmt.Errorf("decision: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			if he, ok := lastErr.(*httpError); ok && he.retryAfter > 0 {
				backoff = he.retryAfter
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(backoff):
			}
			c.log.Debug("retrying decision service call", "path", path, "attempt", attempt)
		}

		ok, err := c.doRequest(ctx, path, data, out)
		if err == nil {
			return ok, nil
		}
		lastErr = err
		if he, isHTTP := err.(*httpError); isHTTP && !he.retryable() {
			return false, err
		}
		if ctx.Err() != nil {
			return false, err
		}
	}
	return false, lastErr
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("decision: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("decision: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return false, &httpError{
			status:     resp.StatusCode,
			body:       string(msg),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decision: decode response: %w", err)
	}
	return true, nil
}

type httpError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *httpError) Error() string {
	return fmt.Sprintf("decision: http %d: %s", e.status, e.body)
}

func (e *httpError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
