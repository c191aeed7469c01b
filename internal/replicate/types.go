// Package replicate provides an HTTP client for the Replicate predictions API.
package replicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Status represents the status of a Replicate prediction.
type Status string

// Replicate prediction statuses aligned with the Replicate API.
const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// ErrUnexpectedOutput is returned when a prediction output has no recognizable URLs.
var ErrUnexpectedOutput = errors.New("replicate: unexpected output shape")

// Prediction is a Replicate prediction as returned by create and get calls.
type Prediction struct {
	ID     string
	Status Status
	// Output is the raw model output. Its shape depends on the model.
	Output json.RawMessage
	// Error is the failure message for failed predictions.
	Error string
}

// OutputURLs extracts output references from the prediction output.
// Models return a single string, a list of strings, or an object whose string
// fields hold URLs. For objects, preferred keys are taken first, in order;
// without preferred keys every string field is returned sorted by key.
func (p Prediction) OutputURLs(preferred ...string) ([]string, error) {
	if len(p.Output) == 0 || string(p.Output) == "null" {
		return nil, fmt.Errorf("%w: empty output", ErrUnexpectedOutput)
	}

	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		return []string{single}, nil
	}

	var list []any
	if err := json.Unmarshal(p.Output, &list); err == nil {
		urls := make([]string, 0, len(list))
		for _, v := range list {
			// Keep positions stable so per-index failures line up with the model output.
			s, _ := v.(string)
			urls = append(urls, s)
		}
		return urls, nil
	}

	var object map[string]any
	if err := json.Unmarshal(p.Output, &object); err == nil {
		for _, key := range preferred {
			if s, ok := object[key].(string); ok && s != "" {
				return []string{s}, nil
			}
		}
		keys := make([]string, 0, len(object))
		for k, v := range object {
			if s, ok := v.(string); ok && s != "" {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w: object without string fields", ErrUnexpectedOutput)
		}
		sort.Strings(keys)
		urls := make([]string, 0, len(keys))
		for _, k := range keys {
			urls = append(urls, object[k].(string))
		}
		return urls, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnexpectedOutput, truncate(string(p.Output), 120))
}

// createRequest is the request body for the prediction endpoints.
type createRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// predictionResponse is the wire form of a prediction.
type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

func (r predictionResponse) toPrediction() Prediction {
	return Prediction{
		ID:     r.ID,
		Status: Status(r.Status),
		Output: r.Output,
		Error:  errorString(r.Error),
	}
}

// errorString flattens the prediction error field, which may be null, a string
// or an arbitrary JSON value.
func errorString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
