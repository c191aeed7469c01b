// Package config provides configuration loading from environment variables
// and an optional YAML polling policy file.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/poller"
)

// Static errors for configuration validation.
var (
	// ErrNoProvider is returned when neither Replicate nor Vertex AI is configured.
	ErrNoProvider = errors.New("config: REPLICATE_API_TOKEN or GOOGLE_PROJECT_ID is required")
	// ErrIncompleteGCSSigner is returned when only half of the GCS signer credentials are set.
	ErrIncompleteGCSSigner = errors.New("config: GCS_SIGNER_EMAIL and GCS_SIGNER_PRIVATE_KEY must be set together")
	// ErrInvalidPolicyFile is returned when the policy file cannot be used.
	ErrInvalidPolicyFile = errors.New("config: invalid policy file")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Replicate settings (image and music)
	ReplicateAPIToken   string `env:"REPLICATE_API_TOKEN" json:"-"` // Masked in JSON
	ReplicateImageModel string `env:"REPLICATE_IMAGE_MODEL" json:"replicate_image_model,omitempty"`
	ReplicateMusicModel string `env:"REPLICATE_MUSIC_MODEL" json:"replicate_music_model,omitempty"`

	// Vertex AI settings (video)
	GoogleProjectID string `env:"GOOGLE_PROJECT_ID" json:"google_project_id,omitempty"`
	GoogleLocation  string `env:"GOOGLE_LOCATION, default=us-central1" json:"google_location"`
	VeoModel        string `env:"VEO_MODEL" json:"veo_model,omitempty"`
	VideoOutputURI  string `env:"VIDEO_OUTPUT_URI" json:"video_output_uri,omitempty"`

	// Signed URL settings
	SignedURLTTL       time.Duration `env:"SIGNED_URL_TTL, default=15m" json:"signed_url_ttl"`
	GCSSignerEmail     string        `env:"GCS_SIGNER_EMAIL" json:"gcs_signer_email,omitempty"`
	GCSSignerKey       string        `env:"GCS_SIGNER_PRIVATE_KEY" json:"-"` // Masked in JSON
	S3Region           string        `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string        `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string        `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	ResolveConcurrency int           `env:"RESOLVE_CONCURRENCY, default=4" json:"resolve_concurrency"`

	// Polling settings. Zero durations fall back to the modality defaults.
	ImagePollInterval    time.Duration `env:"IMAGE_POLL_INTERVAL" json:"image_poll_interval,omitempty"`
	ImagePollTimeout     time.Duration `env:"IMAGE_POLL_TIMEOUT" json:"image_poll_timeout,omitempty"`
	VideoPollInterval    time.Duration `env:"VIDEO_POLL_INTERVAL" json:"video_poll_interval,omitempty"`
	VideoPollTimeout     time.Duration `env:"VIDEO_POLL_TIMEOUT" json:"video_poll_timeout,omitempty"`
	MusicPollInterval    time.Duration `env:"MUSIC_POLL_INTERVAL" json:"music_poll_interval,omitempty"`
	MusicPollTimeout     time.Duration `env:"MUSIC_POLL_TIMEOUT" json:"music_poll_timeout,omitempty"`
	MaxTransientFailures int           `env:"MAX_TRANSIENT_FAILURES, default=3" json:"max_transient_failures"`
	PolicyFile           string        `env:"POLICY_FILE" json:"policy_file,omitempty"`

	// Session settings
	CancelUpstream bool          `env:"CANCEL_UPSTREAM, default=false" json:"cancel_upstream"`
	RecordTTL      time.Duration `env:"RECORD_TTL, default=1h" json:"record_ttl"`
	PruneInterval  time.Duration `env:"PRUNE_INTERVAL, default=5m" json:"prune_interval"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// ReplicateEnabled returns true if image and music generation can be served.
func (c *Config) ReplicateEnabled() bool {
	return c.ReplicateAPIToken != ""
}

// VertexEnabled returns true if video generation can be served.
func (c *Config) VertexEnabled() bool {
	return c.GoogleProjectID != ""
}

// S3Enabled returns true if s3:// references can be signed.
func (c *Config) S3Enabled() bool {
	return c.S3Region != ""
}

// GCSSignerEnabled returns true if gs:// references can be signed.
func (c *Config) GCSSignerEnabled() bool {
	return c.GCSSignerEmail != "" && c.GCSSignerKey != ""
}

// GCSAmbientSigning returns true if gs:// references are signed with the
// ambient Google credentials. Video output lands in GCS, so this applies
// whenever Vertex is configured without an explicit key pair.
func (c *Config) GCSAmbientSigning() bool {
	return c.VertexEnabled() && !c.GCSSignerEnabled()
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

// LoadWith reads configuration from the given lookuper.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can serve at least one modality.
func (c *Config) Validate() error {
	if !c.ReplicateEnabled() && !c.VertexEnabled() {
		return ErrNoProvider
	}
	if (c.GCSSignerEmail == "") != (c.GCSSignerKey == "") {
		return ErrIncompleteGCSSigner
	}
	return nil
}

// policyEntry is one modality section of the policy file.
type policyEntry struct {
	PollIntervalMs       int `yaml:"poll_interval_ms"`
	TimeoutMs            int `yaml:"timeout_ms"`
	MaxTransientFailures int `yaml:"max_transient_failures"`
}

// LoadPolicyFile parses a YAML document keyed by modality:
//
//	video:
//	  poll_interval_ms: 7000
//	  timeout_ms: 600000
//	  max_transient_failures: 3
func LoadPolicyFile(path string) (poller.Policies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicyFile, err)
	}
	return parsePolicies(data)
}

func parsePolicies(data []byte) (poller.Policies, error) {
	var raw map[string]policyEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicyFile, err)
	}

	ps := make(poller.Policies, len(raw))
	for name, e := range raw {
		m := job.Modality(name)
		if !m.IsValid() {
			return nil, fmt.Errorf("%w: unknown modality %q", ErrInvalidPolicyFile, name)
		}
		if e.PollIntervalMs < 0 || e.TimeoutMs < 0 || e.MaxTransientFailures < 0 {
			return nil, fmt.Errorf("%w: negative value for %s", ErrInvalidPolicyFile, name)
		}
		ps[m] = poller.Policy{
			Interval:             time.Duration(e.PollIntervalMs) * time.Millisecond,
			Timeout:              time.Duration(e.TimeoutMs) * time.Millisecond,
			MaxTransientFailures: e.MaxTransientFailures,
		}
	}
	return ps, nil
}

// Policies builds the polling policy per modality. Environment variables take
// precedence over the policy file, which takes precedence over the defaults.
func (c *Config) Policies() (poller.Policies, error) {
	file := poller.Policies{}
	if c.PolicyFile != "" {
		var err error
		if file, err = LoadPolicyFile(c.PolicyFile); err != nil {
			return nil, err
		}
	}

	env := map[job.Modality]poller.Policy{
		job.ModalityImage: {Interval: c.ImagePollInterval, Timeout: c.ImagePollTimeout},
		job.ModalityVideo: {Interval: c.VideoPollInterval, Timeout: c.VideoPollTimeout},
		job.ModalityMusic: {Interval: c.MusicPollInterval, Timeout: c.MusicPollTimeout},
	}

	ps := make(poller.Policies, len(job.Modalities))
	for _, m := range job.Modalities {
		def := poller.DefaultPolicy(m)
		if c.MaxTransientFailures > 0 {
			def.MaxTransientFailures = c.MaxTransientFailures
		}
		p := env[m].Merge(file[m].Merge(def))
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("config: %s policy: %w", m, err)
		}
		ps[m] = p
	}
	return ps, nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, Replicate: %s, GoogleProjectID: %s, GoogleLocation: %s, VeoModel: %s, VideoOutputURI: %s, GCSSigner: %s, S3Region: %s, AWSAccessKeyID: %s, SignedURLTTL: %s, CancelUpstream: %t, PolicyFile: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		mask(c.ReplicateAPIToken),
		c.GoogleProjectID,
		c.GoogleLocation,
		c.VeoModel,
		c.VideoOutputURI,
		c.GCSSignerEmail,
		c.S3Region,
		mask(c.AWSAccessKeyID),
		c.SignedURLTTL,
		c.CancelUpstream,
		c.PolicyFile,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
