package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Static errors for Vertex client operations.
var (
	// ErrProjectIDRequired is returned when the Google Cloud project is not provided.
	ErrProjectIDRequired = errors.New("vertex: project ID is required")
	// ErrModelRequired is returned when the model is not provided.
	ErrModelRequired = errors.New("vertex: model is required")
	// ErrOperationNameRequired is returned when the operation name is missing or malformed.
	ErrOperationNameRequired = errors.New("vertex: operation name is required")
	// ErrNoOperationName is returned when the predict response contains no operation name.
	ErrNoOperationName = errors.New("vertex: predict failed: no operation name returned")
	// ErrAuth is returned when an access token cannot be obtained.
	ErrAuth = errors.New("vertex: authentication failed")
	// ErrTransport is returned when the API could not be reached.
	ErrTransport = errors.New("vertex: transport failure")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("vertex: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("vertex: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-retryable status code.
	ErrRequestFailed = errors.New("vertex: request failed")
)

// cloudPlatformScope is the OAuth scope required by Vertex AI.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Client defines the interface for Vertex AI long-running predictions.
type Client interface {
	// PredictLongRunning starts a generation and returns the operation.
	PredictLongRunning(ctx context.Context, model string, req PredictRequest) (Operation, error)

	// FetchOperation returns the current state of an operation.
	FetchOperation(ctx context.Context, operationName string) (Operation, error)
}

// HTTPClient is the HTTP implementation of the Vertex Client interface.
type HTTPClient struct {
	projectID   string
	location    string
	baseURL     string
	tokens      oauth2.TokenSource
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithLocation sets the Vertex region. Defaults to us-central1.
func WithLocation(location string) ClientOption {
	return func(hc *HTTPClient) {
		hc.location = location
	}
}

// WithTokenSource sets the OAuth2 token source.
func WithTokenSource(ts oauth2.TokenSource) ClientOption {
	return func(hc *HTTPClient) {
		hc.tokens = ts
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL overrides the regional endpoint, e.g. for tests.
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

// NewClient creates a new Vertex AI client for the given project.
// Without WithTokenSource, Application Default Credentials are used.
func NewClient(ctx context.Context, projectID string, opts ...ClientOption) (*HTTPClient, error) {
	if projectID == "" {
		return nil, ErrProjectIDRequired
	}

	c := &HTTPClient{
		projectID:   projectID,
		location:    "us-central1",
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.baseURL == "" {
		c.baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", c.location)
	}

	if c.tokens == nil {
		ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuth, err)
		}
		c.tokens = ts
	}

	return c, nil
}

// PredictLongRunning starts a video generation. Transient failures are retried
// with exponential backoff.
func (c *HTTPClient) PredictLongRunning(ctx context.Context, model string, req PredictRequest) (Operation, error) {
	if model == "" {
		return Operation{}, ErrModelRequired
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return Operation{}, fmt.Errorf("vertex: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/locations/%s/publishers/google/models/%s:predictLongRunning",
		c.baseURL, c.projectID, c.location, model)

	var op Operation
	if err := c.doRequestWithRetry(ctx, url, bodyBytes, &op); err != nil {
		return Operation{}, err
	}
	if op.Name == "" {
		return Operation{}, ErrNoOperationName
	}
	return op, nil
}

// FetchOperation polls an operation once. Callers polling on an interval own
// the retry budget.
func (c *HTTPClient) FetchOperation(ctx context.Context, operationName string) (Operation, error) {
	base, ok := modelPath(operationName)
	if !ok {
		return Operation{}, ErrOperationNameRequired
	}

	bodyBytes, err := json.Marshal(fetchRequest{OperationName: operationName})
	if err != nil {
		return Operation{}, fmt.Errorf("vertex: marshal request: %w", err)
	}

	var op Operation
	if err := c.doRequest(ctx, fmt.Sprintf("%s/%s:fetchPredictOperation", c.baseURL, base), bodyBytes, &op); err != nil {
		return Operation{}, err
	}
	if op.Name == "" {
		op.Name = operationName
	}
	return op, nil
}

// doRequestWithRetry performs a POST with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, url string, body []byte, result any) error {
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

		err := c.doRequest(ctx, url, body, result)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("vertex: max retries exceeded: %w", lastErr)
}

// doRequest performs a single authenticated POST.
func (c *HTTPClient) doRequest(ctx context.Context, url string, body []byte, result any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return &retryableError{err: fmt.Errorf("%w: %w", ErrAuth, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("vertex: create request: %w", err)
	}
	token.SetAuthHeader(req)
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
		detail := apiMessage(respBody)
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, detail)}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, detail)}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, detail)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("vertex: unmarshal response: %w", err)
	}
	return nil
}

func apiMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
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

// IsRetryable returns true if the error is transient.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
