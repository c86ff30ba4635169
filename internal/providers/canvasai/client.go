package canvasai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"canvasapi/internal/infra"
)

// Remote analysis endpoints, relative to the configured base URL.
const (
	PathClassification = "/api/v1/torch-analysis"
	PathOCR            = "/api/v1/run-ocr"
	PathCritique       = "/api/v1/critique-analyser"
	PathHealth         = "/health"
)

// TunnelBypassHeader suppresses the interstitial page served by development
// tunnels. Other hosts ignore it.
const TunnelBypassHeader = "ngrok-skip-browser-warning"

const defaultRequestTimeout = 30 * time.Second

// Options configures the analysis service client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client issues single GET requests against the remote analysis services.
// It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with defaults for the optional dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("canvasai: invalid base url %q", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// BaseURL returns the configured host.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Invoke sends one GET to path with params encoded in the query string and
// returns the JSON body. A JSON-encoded string body is returned as-is.
// Failures are *NetworkError, *HTTPStatusError or *DecodeError.
func (c *Client) Invoke(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	body, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		var probe any
		decodeErr := json.Unmarshal(trimmed, &probe)
		if decodeErr == nil || len(trimmed) == 0 {
			decodeErr = ErrEmptyPayload
		}
		return nil, &DecodeError{Raw: string(body), Err: decodeErr}
	}
	return json.RawMessage(trimmed), nil
}

// Health probes the analysis host's health endpoint. Any 2xx counts as
// healthy; the body is returned only when it is JSON, otherwise nil.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	body, err := c.get(ctx, PathHealth, nil)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, nil
	}
	return json.RawMessage(trimmed), nil
}

// get performs the request and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &NetworkError{Endpoint: path, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(TunnelBypassHeader, "true")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Endpoint: path, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug().
		Str("endpoint", path).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("took", time.Since(start)).
		Msg("canvasai: stage response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}
