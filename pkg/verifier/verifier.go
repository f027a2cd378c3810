// Package verifier talks to remote AI services that judge liveness and
// compare faces from still images. Every provider returns the same typed
// results; any error means the signal is unavailable.
package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderHTTP   = "http"
	ProviderNone   = "none"
)

// DefaultMaxImageSize is the longest image side sent to a provider.
const DefaultMaxImageSize = 800

var (
	// ErrUnavailable is returned when no remote verifier is configured.
	ErrUnavailable = errors.New("remote verifier unavailable")

	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown verifier provider")

	// ErrMissingCredentials is returned when a provider needs an API key or URL.
	ErrMissingCredentials = errors.New("missing verifier credentials")

	// ErrMalformedResponse is returned when a provider's answer cannot be parsed.
	ErrMalformedResponse = errors.New("malformed verifier response")
)

// LivenessRequest asks whether a still image shows a live person.
type LivenessRequest struct {
	Image           []byte
	LivenessScore   float64
	GestureDetected bool
}

// LivenessResult is a remote liveness verdict.
type LivenessResult struct {
	IsLive     bool   `json:"is_live"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason,omitempty"`
}

// CompareRequest asks whether two images show the same person.
type CompareRequest struct {
	Reference []byte
	Candidate []byte
}

// CompareResult is a remote face comparison. IsMatch and Confidence are nil
// when the provider could not decide.
type CompareResult struct {
	IsMatch    *bool  `json:"is_match"`
	Confidence *int   `json:"confidence"`
	Reason     string `json:"reason,omitempty"`
}

// Verifier is a remote AI judge.
type Verifier interface {
	Name() string
	VerifyLiveness(ctx context.Context, req LivenessRequest) (*LivenessResult, error)
	CompareFaces(ctx context.Context, req CompareRequest) (*CompareResult, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxImageSize int
}

// New creates the configured verifier, wrapped with the per-call timeout.
func New(ctx context.Context, cfg Config) (Verifier, error) {
	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = DefaultMaxImageSize
	}

	var v Verifier
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai requires an API key", ErrMissingCredentials)
		}
		v = NewOpenAIVerifier(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxImageSize)
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: gemini requires an API key", ErrMissingCredentials)
		}
		g, err := NewGeminiVerifier(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxImageSize)
		if err != nil {
			return nil, err
		}
		v = g
	case ProviderHTTP:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: http provider requires a base URL", ErrMissingCredentials)
		}
		v = NewHTTPVerifier(cfg.BaseURL, cfg.APIKey, nil)
	case ProviderNone, "":
		return None{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}

	if cfg.Timeout > 0 {
		v = &timed{Verifier: v, timeout: cfg.Timeout}
	}
	return v, nil
}

// timed bounds every call with a timeout.
type timed struct {
	Verifier
	timeout time.Duration
}

func (t *timed) VerifyLiveness(ctx context.Context, req LivenessRequest) (*LivenessResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Verifier.VerifyLiveness(ctx, req)
}

func (t *timed) CompareFaces(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Verifier.CompareFaces(ctx, req)
}

// None is the verifier used when no provider is configured.
type None struct{}

func (None) Name() string { return ProviderNone }

func (None) VerifyLiveness(context.Context, LivenessRequest) (*LivenessResult, error) {
	return nil, ErrUnavailable
}

func (None) CompareFaces(context.Context, CompareRequest) (*CompareResult, error) {
	return nil, ErrUnavailable
}

// rawLiveness and rawCompare accept loosely typed provider output.
type rawLiveness struct {
	IsLive     *bool    `json:"is_live"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

type rawCompare struct {
	IsMatch    *bool    `json:"is_match"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// parseLiveness decodes a liveness verdict from model or service output.
func parseLiveness(content string) (*LivenessResult, error) {
	var raw rawLiveness
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.IsLive == nil {
		return nil, fmt.Errorf("%w: missing is_live", ErrMalformedResponse)
	}

	res := &LivenessResult{IsLive: *raw.IsLive, Reason: raw.Reason}
	if raw.Confidence != nil {
		res.Confidence = clampConfidence(*raw.Confidence)
	}
	return res, nil
}

// parseCompare decodes a comparison verdict from model or service output.
func parseCompare(content string) (*CompareResult, error) {
	var raw rawCompare
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	res := &CompareResult{IsMatch: raw.IsMatch, Reason: raw.Reason}
	if raw.Confidence != nil {
		c := clampConfidence(*raw.Confidence)
		res.Confidence = &c
	}
	return res, nil
}

// extractJSON strips markdown code fences some models wrap around JSON.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clampConfidence(c float64) int {
	if math.IsNaN(c) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, c))))
}
