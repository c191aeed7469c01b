package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, url string, opts ...ClientOption) *HTTPClient {
	t.Helper()
	base := []ClientOption{
		WithAPIToken("test-token"),
		WithBaseURL(url),
		WithBaseBackoff(10 * time.Millisecond),
	}
	c, err := NewClient(append(base, opts...)...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusStarting, false},
		{StatusProcessing, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusCanceled, true},
		{Status("booting"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestNewClient_MissingToken(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "")

	_, err := NewClient()
	if !errors.Is(err, ErrAPITokenNotSet) {
		t.Errorf("expected ErrAPITokenNotSet, got %v", err)
	}
}

func TestNewClient_TokenFromEnv(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "env-token")

	c, err := NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.apiToken != "env-token" {
		t.Errorf("expected token from env, got %q", c.apiToken)
	}
}

func TestCreatePrediction_VersionedModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/predictions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected Authorization header %q", got)
		}

		var body createRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Version != "abc123" {
			t.Errorf("expected version abc123, got %q", body.Version)
		}
		if body.Input["prompt_a"] != "lofi beats" {
			t.Errorf("unexpected input %v", body.Input)
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	p, err := c.CreatePrediction(context.Background(), "riffusion/riffusion:abc123", map[string]any{"prompt_a": "lofi beats"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "pred-1" || p.Status != StatusStarting {
		t.Errorf("unexpected prediction %+v", p)
	}
}

func TestCreatePrediction_OfficialModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/stability-ai/stable-diffusion-3/predictions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body createRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Version != "" {
			t.Errorf("expected no version, got %q", body.Version)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-2","status":"starting"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	p, err := c.CreatePrediction(context.Background(), "stability-ai/stable-diffusion-3", map[string]any{"prompt": "a cat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "pred-2" {
		t.Errorf("expected pred-2, got %q", p.ID)
	}
}

func TestCreatePrediction_InvalidModel(t *testing.T) {
	c := newTestClient(t, "http://unused")

	for _, model := range []string{"", "no-owner", "owner/", "owner/name:"} {
		_, err := c.CreatePrediction(context.Background(), model, nil)
		if !errors.Is(err, ErrModelRequired) {
			t.Errorf("model %q: expected ErrModelRequired, got %v", model, err)
		}
	}
}

func TestCreatePrediction_RetryOnServerError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-3","status":"starting"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	p, err := c.CreatePrediction(context.Background(), "owner/model", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "pred-3" {
		t.Errorf("expected pred-3, got %q", p.ID)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestCreatePrediction_MaxRetriesExceeded(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, WithMaxRetries(2))
	_, err := c.CreatePrediction(context.Background(), "owner/model", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("expected exhausted error to stay retryable")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestCreatePrediction_RejectedNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"NSFW content detected"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.CreatePrediction(context.Background(), "owner/model", nil)
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("expected non-retryable error")
	}
	if got := err.Error(); got != "replicate: request failed with status 422: NSFW content detected" {
		t.Errorf("unexpected message %q", got)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestCreatePrediction_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url, WithMaxRetries(1))
	_, err := c.CreatePrediction(context.Background(), "owner/model", nil)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestGetPrediction_SingleAttempt(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.GetPrediction(context.Background(), "pred-1")
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("expected retryable error")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestGetPrediction_Succeeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predictions/pred-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"succeeded","output":["https://replicate.delivery/a.png","https://replicate.delivery/b.png"],"error":null}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	p, err := c.GetPrediction(context.Background(), "pred-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != StatusSucceeded {
		t.Errorf("expected succeeded, got %s", p.Status)
	}
	if p.Error != "" {
		t.Errorf("expected empty error, got %q", p.Error)
	}
	urls, err := p.OutputURLs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 2 || urls[1] != "https://replicate.delivery/b.png" {
		t.Errorf("unexpected urls %v", urls)
	}
}

func TestGetPrediction_MissingID(t *testing.T) {
	c := newTestClient(t, "http://unused")
	if _, err := c.GetPrediction(context.Background(), ""); !errors.Is(err, ErrPredictionIDRequired) {
		t.Errorf("expected ErrPredictionIDRequired, got %v", err)
	}
}

func TestCancelPrediction(t *testing.T) {
	var called atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predictions/pred-1/cancel" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		called.Store(true)
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"canceled"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if err := c.CancelPrediction(context.Background(), "pred-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called.Load() {
		t.Error("expected cancel endpoint to be called")
	}
}

func TestPrediction_OutputURLs(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		preferred []string
		want      []string
		wantErr   bool
	}{
		{name: "single string", output: `"https://x/a.png"`, want: []string{"https://x/a.png"}},
		{name: "list", output: `["https://x/a.png","https://x/b.png"]`, want: []string{"https://x/a.png", "https://x/b.png"}},
		{name: "list keeps positions", output: `["https://x/a.png",null]`, want: []string{"https://x/a.png", ""}},
		{name: "object preferred key", output: `{"audio":"https://x/a.wav","spectrogram":"https://x/s.png"}`, preferred: []string{"audio"}, want: []string{"https://x/a.wav"}},
		{name: "object sorted keys", output: `{"b":"https://x/b","a":"https://x/a","n":1}`, want: []string{"https://x/a", "https://x/b"}},
		{name: "null", output: `null`, wantErr: true},
		{name: "number", output: `42`, wantErr: true},
		{name: "object without strings", output: `{"n":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Prediction{Output: json.RawMessage(tt.output)}
			got, err := p.OutputURLs(tt.preferred...)
			if tt.wantErr {
				if !errors.Is(err, ErrUnexpectedOutput) {
					t.Errorf("expected ErrUnexpectedOutput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("index %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"null", ""},
		{`"out of memory"`, "out of memory"},
		{`{"code":1}`, `{"code":1}`},
	}
	for _, tt := range tests {
		if got := errorString(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("errorString(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
