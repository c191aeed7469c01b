package job

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request is a modality-specific generation request.
type Request interface {
	// Modality returns the kind of content requested.
	Modality() Modality
	// PromptText returns the user prompt.
	PromptText() string
}

// ImageRequest asks for one or more still images.
type ImageRequest struct {
	Prompt string `validate:"required,max=4000"`
	// Amount is the number of images to generate.
	Amount int `validate:"min=1,max=4"`
	// Resolution is WIDTHxHEIGHT.
	Resolution string `validate:"oneof=1024x1024 1536x680 680x1536"`
}

// Modality implements Request.
func (r ImageRequest) Modality() Modality { return ModalityImage }

// PromptText implements Request.
func (r ImageRequest) PromptText() string { return r.Prompt }

// WithDefaults fills unset options.
func (r ImageRequest) WithDefaults() ImageRequest {
	if r.Amount == 0 {
		r.Amount = 1
	}
	if r.Resolution == "" {
		r.Resolution = "1024x1024"
	}
	return r
}

// Dimensions parses Resolution into width and height. It returns zeros for
// malformed values; validated requests are always well formed.
func (r ImageRequest) Dimensions() (width, height int) {
	w, h, ok := strings.Cut(r.Resolution, "x")
	if !ok {
		return 0, 0
	}
	width, _ = strconv.Atoi(w)
	height, _ = strconv.Atoi(h)
	return width, height
}

// VideoRequest asks for a single video clip.
type VideoRequest struct {
	Prompt          string `validate:"required,max=4000"`
	AspectRatio     string `validate:"oneof=16:9 9:16 1:1"`
	DurationSeconds int    `validate:"oneof=4 6 8"`
	Resolution      string `validate:"oneof=720p 1080p"`
	// GenerateAudio defaults to true when nil.
	GenerateAudio *bool
}

// Modality implements Request.
func (r VideoRequest) Modality() Modality { return ModalityVideo }

// PromptText implements Request.
func (r VideoRequest) PromptText() string { return r.Prompt }

// WithDefaults fills unset options.
func (r VideoRequest) WithDefaults() VideoRequest {
	if r.AspectRatio == "" {
		r.AspectRatio = "16:9"
	}
	if r.DurationSeconds == 0 {
		r.DurationSeconds = 4
	}
	if r.Resolution == "" {
		r.Resolution = "720p"
	}
	if r.GenerateAudio == nil {
		v := true
		r.GenerateAudio = &v
	}
	return r
}

// Audio reports whether the clip should include generated audio.
func (r VideoRequest) Audio() bool {
	return r.GenerateAudio == nil || *r.GenerateAudio
}

// MusicRequest asks for a music track.
type MusicRequest struct {
	Prompt string `validate:"required,max=4000"`
}

// Modality implements Request.
func (r MusicRequest) Modality() Modality { return ModalityMusic }

// PromptText implements Request.
func (r MusicRequest) PromptText() string { return r.Prompt }

var validate = validator.New()

// Normalize trims the prompt, applies defaults and validates the request.
// Failures are reported as ErrValidation.
func Normalize(req Request) (Request, error) {
	var out Request
	switch r := req.(type) {
	case ImageRequest:
		r.Prompt = strings.TrimSpace(r.Prompt)
		out = r.WithDefaults()
	case VideoRequest:
		r.Prompt = strings.TrimSpace(r.Prompt)
		out = r.WithDefaults()
	case MusicRequest:
		r.Prompt = strings.TrimSpace(r.Prompt)
		out = r
	case nil:
		return nil, Errorf(KindValidation, "request is required")
	default:
		return nil, Errorf(KindValidation, "unsupported request type %T", req)
	}

	if err := validate.Struct(out); err != nil {
		return nil, NewError(KindValidation, describeValidation(err), nil)
	}
	return out, nil
}

// describeValidation renders validator errors as a single readable sentence.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
