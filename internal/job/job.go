// Package job provides the domain types shared by every stage of a generation:
// job handles, normalized provider status, raw outputs, artifact references and the
// error taxonomy surfaced to callers. It also holds the Record read model and its
// repository port used by the HTTP layer.
package job

import (
	"time"
)

// Modality identifies the kind of content a job generates.
type Modality string

const (
	// ModalityImage generates still images.
	ModalityImage Modality = "image"
	// ModalityVideo generates video clips.
	ModalityVideo Modality = "video"
	// ModalityMusic generates audio tracks.
	ModalityMusic Modality = "music"
)

// Modalities lists every supported modality.
var Modalities = []Modality{ModalityImage, ModalityVideo, ModalityMusic}

// IsValid returns true if the modality is supported.
func (m Modality) IsValid() bool {
	return m == ModalityImage || m == ModalityVideo || m == ModalityMusic
}

// ParseModality converts a string into a Modality.
func ParseModality(s string) (Modality, bool) {
	m := Modality(s)
	return m, m.IsValid()
}

// Handle represents one submitted provider job. It is created by a generator on
// successful submission and never modified afterwards.
type Handle struct {
	// ID is the provider-assigned job identifier.
	ID string
	// Modality is the kind of content being generated.
	Modality Modality
	// SubmittedAt is when the provider accepted the job.
	SubmittedAt time.Time
}

// State is the provider job state normalized into a closed vocabulary.
type State string

const (
	// StateQueued indicates the job is waiting for provider capacity.
	StateQueued State = "queued"
	// StateRunning indicates the provider is working on the job.
	StateRunning State = "running"
	// StateSucceeded indicates the job produced output.
	StateSucceeded State = "succeeded"
	// StateFailed indicates the provider reported a failure.
	StateFailed State = "failed"
	// StateCanceled indicates the job was canceled on the provider side.
	StateCanceled State = "canceled"
)

// IsTerminal returns true if no further transition can occur from the state.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// Status is a snapshot of job progress produced by a single poll.
type Status struct {
	// State is the normalized provider state.
	State State
	// RawOutput carries the produced outputs. Only set when State is StateSucceeded.
	RawOutput RawOutput
	// ErrorDetail is the provider's explanation. Only set for failed or canceled jobs.
	ErrorDetail string
	// ObservedAt is when the status was fetched.
	ObservedAt time.Time
}

// OutputItem is one provider output in a provider-neutral form. Exactly one of
// URI or Data is expected to be set.
type OutputItem struct {
	// URI is a public URL, a data: URI, or a storage reference such as gs://bucket/key.
	URI string
	// MIMEType is the content type when the provider reports it.
	MIMEType string
	// Data is base64-encoded inline content.
	Data string
}

// RawOutput is the output payload of a succeeded job. The poller treats it as opaque.
type RawOutput struct {
	Items []OutputItem
}

// Len returns the number of output items.
func (r RawOutput) Len() int {
	return len(r.Items)
}

// ArtifactKind describes how an artifact payload is consumed.
type ArtifactKind string

const (
	// ArtifactInlineData means the payload is a data: URI that can be rendered directly.
	ArtifactInlineData ArtifactKind = "inline_data"
	// ArtifactRemoteURL means the payload is a URL that needs no further resolution.
	ArtifactRemoteURL ArtifactKind = "remote_url"
)

// Artifact is a consumable reference to one generated output.
type Artifact struct {
	// Index is the position of the source item in the raw output.
	Index int `json:"index"`
	// Kind describes the payload.
	Kind ArtifactKind `json:"kind"`
	// Payload is the URL or data: URI.
	Payload string `json:"payload"`
	// MIMEType is the content type, if known.
	MIMEType string `json:"mime_type,omitempty"`
	// ExpiresAt is set for signed URLs.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ArtifactFailure records why a single output item could not be resolved.
type ArtifactFailure struct {
	Index  int       `json:"index"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// Resolution is the outcome of resolving every item of a raw output.
// Artifacts and Failures are ordered by index.
type Resolution struct {
	Artifacts []Artifact
	Failures  []ArtifactFailure
}

// Partial returns true if some, but not all, items failed to resolve.
func (r Resolution) Partial() bool {
	return len(r.Artifacts) > 0 && len(r.Failures) > 0
}
