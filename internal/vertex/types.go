// Package vertex provides an HTTP client for Vertex AI long-running video
// predictions (Veo).
package vertex

import (
	"encoding/json"
	"strings"
)

// PredictRequest is the body of a predictLongRunning call.
type PredictRequest struct {
	Instances  []Instance `json:"instances"`
	Parameters Parameters `json:"parameters"`
}

// Instance is one prompt in a predict request.
type Instance struct {
	Prompt string `json:"prompt"`
}

// Parameters controls video generation.
type Parameters struct {
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	AspectRatio     string `json:"aspectRatio,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	GenerateAudio   bool   `json:"generateAudio"`
	SampleCount     int    `json:"sampleCount,omitempty"`
	// StorageURI asks Vertex to write outputs under a gs:// prefix instead of
	// returning inline bytes.
	StorageURI string `json:"storageUri,omitempty"`
}

// Operation is a Vertex long-running operation.
type Operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Error    *OperationError    `json:"error,omitempty"`
	Response *OperationResponse `json:"response,omitempty"`
}

// CodeCancelled is the google.rpc status code of a canceled operation.
const CodeCancelled = 1

// OperationError is the failure reported on a finished operation.
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OperationResponse holds the outputs of a finished operation.
type OperationResponse struct {
	Videos                  []Video  `json:"videos"`
	RAIMediaFilteredCount   int      `json:"raiMediaFilteredCount,omitempty"`
	RAIMediaFilteredReasons []string `json:"raiMediaFilteredReasons,omitempty"`
}

// Video is one generated clip. Either URI or BytesBase64 is set.
type Video struct {
	URI         string `json:"gcsUri,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
	BytesBase64 string `json:"bytesBase64Encoded,omitempty"`
}

// UnmarshalJSON accepts the camelCase, snake_case and plain "uri" spellings
// returned by different Veo model versions.
func (v *Video) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.URI = firstString(raw, "gcsUri", "uri", "gcs_uri")
	v.MIMEType = firstString(raw, "mimeType", "mime_type")
	v.BytesBase64 = firstString(raw, "bytesBase64Encoded", "bytes_base64_encoded")
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// fetchRequest is the body of a fetchPredictOperation call.
type fetchRequest struct {
	OperationName string `json:"operationName"`
}

// apiError is the error envelope returned by Google APIs.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// modelPath returns the resource path of the model an operation belongs to.
// Operation names look like
// projects/p/locations/l/publishers/google/models/m/operations/id.
func modelPath(operationName string) (string, bool) {
	base, _, ok := strings.Cut(operationName, "/operations/")
	if !ok || base == "" {
		return "", false
	}
	return base, true
}
