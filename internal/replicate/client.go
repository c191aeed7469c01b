package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Static errors for Replicate client operations.
var (
	// ErrAPITokenNotSet is returned when no API token is configured.
	ErrAPITokenNotSet = errors.New("replicate: REPLICATE_API_TOKEN environment variable is not set")
	// ErrModelRequired is returned when the model reference is empty or malformed.
	ErrModelRequired = errors.New("replicate: model is required as owner/name or owner/name:version")
	// ErrPredictionIDRequired is returned when the prediction ID is not provided.
	ErrPredictionIDRequired = errors.New("replicate: prediction ID is required")
	// ErrNoPredictionID is returned when the create response contains no prediction ID.
	ErrNoPredictionID = errors.New("replicate: create failed: no prediction ID returned")
	// ErrTransport is returned when the API could not be reached.
	ErrTransport = errors.New("replicate: transport failure")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("replicate: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("replicate: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-retryable status code.
	ErrRequestFailed = errors.New("replicate: request failed")
)

// Client defines the interface for interacting with the Replicate API.
type Client interface {
	// CreatePrediction starts a prediction for the given model and input.
	CreatePrediction(ctx context.Context, model string, input map[string]any) (Prediction, error)

	// GetPrediction fetches the current state of a prediction.
	GetPrediction(ctx context.Context, id string) (Prediction, error)

	// CancelPrediction asks Replicate to stop a running prediction.
	CancelPrediction(ctx context.Context, id string) error
}

// HTTPClient is the HTTP implementation of the Replicate Client interface.
type HTTPClient struct {
	apiToken    string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIToken sets the API token for authentication.
func WithAPIToken(token string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiToken = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the Replicate API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new Replicate HTTP client.
// The token can be set via the WithAPIToken option. If not provided,
// it is read from the environment variable REPLICATE_API_TOKEN.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:     "https://api.replicate.com/v1",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiToken == "" {
		c.apiToken = os.Getenv("REPLICATE_API_TOKEN")
	}

	if c.apiToken == "" {
		return nil, ErrAPITokenNotSet
	}

	return c, nil
}

// CreatePrediction starts a prediction. A model reference of the form
// owner/name:version targets a specific version through /predictions;
// owner/name uses the model's latest deployment endpoint.
// Transient failures are retried with exponential backoff.
func (c *HTTPClient) CreatePrediction(ctx context.Context, model string, input map[string]any) (Prediction, error) {
	url, version, err := c.createURL(model)
	if err != nil {
		return Prediction{}, err
	}

	bodyBytes, err := json.Marshal(createRequest{Version: version, Input: input})
	if err != nil {
		return Prediction{}, fmt.Errorf("replicate: marshal request: %w", err)
	}

	var resp predictionResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, url, bodyBytes, &resp); err != nil {
		return Prediction{}, err
	}

	if resp.ID == "" {
		if msg := errorString(resp.Error); msg != "" {
			return Prediction{}, fmt.Errorf("%w: %s", ErrRequestFailed, msg)
		}
		return Prediction{}, ErrNoPredictionID
	}

	return resp.toPrediction(), nil
}

// GetPrediction fetches a prediction with a single attempt. Callers polling on
// an interval own the retry budget.
func (c *HTTPClient) GetPrediction(ctx context.Context, id string) (Prediction, error) {
	if id == "" {
		return Prediction{}, ErrPredictionIDRequired
	}

	var resp predictionResponse
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil, &resp); err != nil {
		return Prediction{}, err
	}
	if resp.ID == "" {
		resp.ID = id
	}
	return resp.toPrediction(), nil
}

// CancelPrediction cancels a prediction. Canceling a finished prediction is a no-op upstream.
func (c *HTTPClient) CancelPrediction(ctx context.Context, id string) error {
	if id == "" {
		return ErrPredictionIDRequired
	}
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/predictions/"+id+"/cancel", nil, nil)
}

// createURL picks the endpoint for a model reference.
func (c *HTTPClient) createURL(model string) (url, version string, err error) {
	name, version, hasVersion := strings.Cut(strings.TrimSpace(model), ":")
	owner, modelName, ok := strings.Cut(name, "/")
	if !ok || owner == "" || modelName == "" || (hasVersion && version == "") {
		return "", "", ErrModelRequired
	}
	if hasVersion {
		return c.baseURL + "/predictions", version, nil
	}
	return fmt.Sprintf("%s/models/%s/%s/predictions", c.baseURL, owner, modelName), "", nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: context cancelled: %w", ErrTransport, ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("replicate: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("replicate: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%w: read response: %w", ErrTransport, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, truncate(string(respBody), 512))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, truncate(string(respBody), 512))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, apiDetail(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("replicate: unmarshal response: %w", err)
		}
	}

	return nil
}

// apiDetail extracts the "detail" message Replicate puts in error bodies.
func apiDetail(body []byte) string {
	var resp predictionResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Detail != "" {
		return resp.Detail
	}
	return truncate(string(body), 512)
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// IsRetryable returns true if the error is transient: a network failure, a 5xx
// response or rate limiting.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
