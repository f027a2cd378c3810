// Package config provides configuration management for facecheck.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrCodeEU/facecheck/pkg/facematch"
	"github.com/MrCodeEU/facecheck/pkg/geometry"
	"github.com/MrCodeEU/facecheck/pkg/gesture"
	"github.com/MrCodeEU/facecheck/pkg/liveness"
	"github.com/MrCodeEU/facecheck/pkg/session"
	"github.com/MrCodeEU/facecheck/pkg/verifier"
)

// Environment variables holding verifier credentials.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvGeminiKey     = "GEMINI_API_KEY"
	EnvVerifierToken = "FACECHECK_VERIFIER_TOKEN"
)

// Config holds all facecheck configuration.
type Config struct {
	Session     SessionConfig     `yaml:"session"`
	Gesture     GestureConfig     `yaml:"gesture"`
	Geometry    GeometryConfig    `yaml:"geometry"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Match       MatchConfig       `yaml:"match"`
	Verifier    VerifierConfig    `yaml:"verifier"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SessionConfig holds capture gating and session lifecycle settings.
type SessionConfig struct {
	TickIntervalMs         int     `yaml:"tick_interval_ms"`
	RequiredCenteredFrames int     `yaml:"required_centered_frames"`
	ScoreThreshold         float64 `yaml:"score_threshold"`
	MinRemoteConfidence    int     `yaml:"min_remote_confidence"`
	RevalidationWaitMs     int     `yaml:"revalidation_wait_ms"`
	MaxDuration            int     `yaml:"max_duration"` // seconds, 0 disables
	RequireRemoteLiveness  bool    `yaml:"require_remote_liveness"`
	RejectInconclusive     bool    `yaml:"reject_inconclusive"`
}

// GestureConfig holds blink and expression challenge settings.
type GestureConfig struct {
	Mode                     string   `yaml:"mode"`
	RequiredBlinks           int      `yaml:"required_blinks"`
	EARThreshold             float64  `yaml:"ear_threshold"`
	BlinkCooldownTicks       int      `yaml:"blink_cooldown_ticks"`
	Expressions              []string `yaml:"expressions"`
	ExpressionMinProbability float64  `yaml:"expression_min_probability"`
	HoldTicks                int      `yaml:"hold_ticks"`
}

// GeometryConfig holds face placement limits.
type GeometryConfig struct {
	CenterTolerance float64 `yaml:"center_tolerance"`
	MinSizeRatio    float64 `yaml:"min_size_ratio"`
	MaxSizeRatio    float64 `yaml:"max_size_ratio"`
}

// LivenessConfig holds motion heuristic and scorer settings.
type LivenessConfig struct {
	MicroMovementThreshold  float64 `yaml:"micro_movement_threshold"`
	StaticFrameLimit        int     `yaml:"static_frame_limit"`
	PoseVarianceThreshold   float64 `yaml:"pose_variance_threshold"`
	PoseHistorySize         int     `yaml:"pose_history_size"`
	MinPoseSamples          int     `yaml:"min_pose_samples"`
	MinDetectionConfidence  float64 `yaml:"min_detection_confidence"`
	MovementThreshold       float64 `yaml:"movement_threshold"`
	CenterWindowSize        int     `yaml:"center_window_size"`
	CenterVarianceThreshold float64 `yaml:"center_variance_threshold"`
	Smoothing               float64 `yaml:"smoothing"`
	NoFaceDecay             float64 `yaml:"no_face_decay"`
}

// MatchConfig holds face-match fusion thresholds.
type MatchConfig struct {
	StrongDistance             float64 `yaml:"strong_distance"`
	FallbackDistance           float64 `yaml:"fallback_distance"`
	WeakDistance               float64 `yaml:"weak_distance"`
	RejectDistance             float64 `yaml:"reject_distance"`
	RemoteMatchConfidence      int     `yaml:"remote_match_confidence"`
	RemoteWeakMatchConfidence  int     `yaml:"remote_weak_match_confidence"`
	RemoteRejectConfidence     int     `yaml:"remote_reject_confidence"`
	RemoteWeakRejectConfidence int     `yaml:"remote_weak_reject_confidence"`
}

// VerifierConfig holds remote verifier settings. Credentials come from the
// environment, never from the file.
type VerifierConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	Timeout      int    `yaml:"timeout"` // seconds
	MaxImageSize int    `yaml:"max_image_size"`
}

// RecognitionConfig holds local face comparison settings.
type RecognitionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ModelPath string `yaml:"model_path"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Listen      string `yaml:"listen"`
	MaxSessions int    `yaml:"max_sessions"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	eng := session.DefaultConfig()

	return &Config{
		Session: SessionConfig{
			TickIntervalMs:         int(eng.TickInterval / time.Millisecond),
			RequiredCenteredFrames: eng.RequiredCenteredFrames,
			ScoreThreshold:         eng.ScoreThreshold,
			MinRemoteConfidence:    eng.MinRemoteConfidence,
			RevalidationWaitMs:     int(eng.RevalidationWait / time.Millisecond),
			MaxDuration:            60,
		},
		Gesture: GestureConfig{
			Mode:                     string(eng.Gesture.Kind),
			RequiredBlinks:           eng.Gesture.RequiredBlinks,
			EARThreshold:             eng.Gesture.EARThreshold,
			BlinkCooldownTicks:       eng.Gesture.BlinkCooldownTicks,
			Expressions:              eng.Gesture.Expressions,
			ExpressionMinProbability: eng.Gesture.ExpressionMinProbability,
			HoldTicks:                eng.Gesture.HoldTicks,
		},
		Geometry: GeometryConfig{
			CenterTolerance: eng.Geometry.CenterTolerance,
			MinSizeRatio:    eng.Geometry.MinSizeRatio,
			MaxSizeRatio:    eng.Geometry.MaxSizeRatio,
		},
		Liveness: LivenessConfig{
			MicroMovementThreshold:  eng.Motion.MicroMovementThreshold,
			StaticFrameLimit:        eng.Motion.StaticFrameLimit,
			PoseVarianceThreshold:   eng.Motion.PoseVarianceThreshold,
			PoseHistorySize:         eng.Motion.PoseHistorySize,
			MinPoseSamples:          eng.Motion.MinPoseSamples,
			MinDetectionConfidence:  eng.Score.MinDetectionConfidence,
			MovementThreshold:       eng.Score.MovementThreshold,
			CenterWindowSize:        eng.Score.CenterWindowSize,
			CenterVarianceThreshold: eng.Score.CenterVarianceThreshold,
			Smoothing:               eng.Score.Smoothing,
			NoFaceDecay:             eng.Score.NoFaceDecay,
		},
		Match: MatchConfig{
			StrongDistance:             eng.Match.StrongDistance,
			FallbackDistance:           eng.Match.FallbackDistance,
			WeakDistance:               eng.Match.WeakDistance,
			RejectDistance:             eng.Match.RejectDistance,
			RemoteMatchConfidence:      eng.Match.RemoteMatchConfidence,
			RemoteWeakMatchConfidence:  eng.Match.RemoteWeakMatchConfidence,
			RemoteRejectConfidence:     eng.Match.RemoteRejectConfidence,
			RemoteWeakRejectConfidence: eng.Match.RemoteWeakRejectConfidence,
		},
		Verifier: VerifierConfig{
			Provider:     verifier.ProviderNone,
			Timeout:      15,
			MaxImageSize: verifier.DefaultMaxImageSize,
		},
		Recognition: RecognitionConfig{
			Enabled:   true,
			ModelPath: filepath.Join(homeDir, ".local/share/facecheck/models"),
		},
		Storage: StorageConfig{
			DataDir:           filepath.Join(homeDir, ".local/share/facecheck"),
			EncryptionEnabled: true,
		},
		Server: ServerConfig{
			Listen:      "127.0.0.1:8080",
			MaxSessions: 32,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, ".local/share/facecheck/facecheck.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facecheck/facecheck.yaml"); err == nil {
		return Load("/etc/facecheck/facecheck.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facecheck/facecheck.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Session.TickIntervalMs <= 0 {
		return fmt.Errorf("tick_interval_ms must be positive, got %d", c.Session.TickIntervalMs)
	}
	if c.Session.RequiredCenteredFrames <= 0 {
		return fmt.Errorf("required_centered_frames must be positive, got %d", c.Session.RequiredCenteredFrames)
	}
	if c.Session.ScoreThreshold < 0 || c.Session.ScoreThreshold > 100 {
		return fmt.Errorf("score_threshold must be between 0 and 100, got %f", c.Session.ScoreThreshold)
	}
	if c.Session.MinRemoteConfidence < 0 || c.Session.MinRemoteConfidence > 100 {
		return fmt.Errorf("min_remote_confidence must be between 0 and 100, got %d", c.Session.MinRemoteConfidence)
	}
	if c.Session.MaxDuration < 0 {
		return fmt.Errorf("max_duration must not be negative, got %d", c.Session.MaxDuration)
	}

	validModes := map[string]bool{string(gesture.KindBlink): true, string(gesture.KindExpressions): true}
	if !validModes[c.Gesture.Mode] {
		return fmt.Errorf("invalid gesture mode: %s (must be blink or expressions)", c.Gesture.Mode)
	}

	if c.Geometry.CenterTolerance <= 0 || c.Geometry.CenterTolerance > 0.5 {
		return fmt.Errorf("center_tolerance must be in (0, 0.5], got %f", c.Geometry.CenterTolerance)
	}
	if c.Geometry.MinSizeRatio <= 0 || c.Geometry.MinSizeRatio >= c.Geometry.MaxSizeRatio {
		return fmt.Errorf("size ratios must satisfy 0 < min < max, got %f and %f", c.Geometry.MinSizeRatio, c.Geometry.MaxSizeRatio)
	}

	if c.Liveness.Smoothing <= 0 || c.Liveness.Smoothing > 1 {
		return fmt.Errorf("smoothing must be in (0, 1], got %f", c.Liveness.Smoothing)
	}
	if c.Liveness.PoseHistorySize < c.Liveness.MinPoseSamples {
		return fmt.Errorf("pose_history_size (%d) must be at least min_pose_samples (%d)", c.Liveness.PoseHistorySize, c.Liveness.MinPoseSamples)
	}

	m := c.Match
	if !(m.StrongDistance <= m.FallbackDistance && m.FallbackDistance <= m.WeakDistance && m.WeakDistance <= m.RejectDistance) {
		return fmt.Errorf("match distances must be ordered strong <= fallback <= weak <= reject")
	}

	validProviders := map[string]bool{
		verifier.ProviderOpenAI: true,
		verifier.ProviderGemini: true,
		verifier.ProviderHTTP:   true,
		verifier.ProviderNone:   true,
	}
	if !validProviders[strings.ToLower(c.Verifier.Provider)] {
		return fmt.Errorf("invalid verifier provider: %s (must be openai, gemini, http, or none)", c.Verifier.Provider)
	}
	if c.Verifier.Timeout <= 0 {
		return fmt.Errorf("verifier timeout must be positive, got %d", c.Verifier.Timeout)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// Engine converts the file configuration into a session configuration.
func (c *Config) Engine() session.Config {
	return session.Config{
		Gesture: gesture.Config{
			Kind:                     gesture.Kind(c.Gesture.Mode),
			RequiredBlinks:           c.Gesture.RequiredBlinks,
			EARThreshold:             c.Gesture.EARThreshold,
			BlinkCooldownTicks:       c.Gesture.BlinkCooldownTicks,
			Expressions:              append([]string(nil), c.Gesture.Expressions...),
			ExpressionMinProbability: c.Gesture.ExpressionMinProbability,
			HoldTicks:                c.Gesture.HoldTicks,
		},
		Geometry: geometry.Thresholds{
			CenterTolerance: c.Geometry.CenterTolerance,
			MinSizeRatio:    c.Geometry.MinSizeRatio,
			MaxSizeRatio:    c.Geometry.MaxSizeRatio,
		},
		Motion: liveness.MotionConfig{
			MicroMovementThreshold: c.Liveness.MicroMovementThreshold,
			StaticFrameLimit:       c.Liveness.StaticFrameLimit,
			PoseVarianceThreshold:  c.Liveness.PoseVarianceThreshold,
			PoseHistorySize:        c.Liveness.PoseHistorySize,
			MinPoseSamples:         c.Liveness.MinPoseSamples,
		},
		Score: liveness.ScoreConfig{
			MinDetectionConfidence:  c.Liveness.MinDetectionConfidence,
			MovementThreshold:       c.Liveness.MovementThreshold,
			CenterWindowSize:        c.Liveness.CenterWindowSize,
			CenterVarianceThreshold: c.Liveness.CenterVarianceThreshold,
			Smoothing:               c.Liveness.Smoothing,
			NoFaceDecay:             c.Liveness.NoFaceDecay,
		},
		Match: facematch.Thresholds{
			StrongDistance:             c.Match.StrongDistance,
			FallbackDistance:           c.Match.FallbackDistance,
			WeakDistance:               c.Match.WeakDistance,
			RejectDistance:             c.Match.RejectDistance,
			RemoteMatchConfidence:      c.Match.RemoteMatchConfidence,
			RemoteWeakMatchConfidence:  c.Match.RemoteWeakMatchConfidence,
			RemoteRejectConfidence:     c.Match.RemoteRejectConfidence,
			RemoteWeakRejectConfidence: c.Match.RemoteWeakRejectConfidence,
		},
		RequiredCenteredFrames: c.Session.RequiredCenteredFrames,
		ScoreThreshold:         c.Session.ScoreThreshold,
		MinRemoteConfidence:    c.Session.MinRemoteConfidence,
		TickInterval:           time.Duration(c.Session.TickIntervalMs) * time.Millisecond,
		RevalidationWait:       time.Duration(c.Session.RevalidationWaitMs) * time.Millisecond,
		MaxDuration:            time.Duration(c.Session.MaxDuration) * time.Second,
		RequireRemoteLiveness:  c.Session.RequireRemoteLiveness,
		RejectInconclusive:     c.Session.RejectInconclusive,
	}
}

// VerifierSettings returns the verifier configuration with credentials
// taken from the environment.
func (c *Config) VerifierSettings() verifier.Config {
	provider := strings.ToLower(c.Verifier.Provider)

	var key string
	switch provider {
	case verifier.ProviderOpenAI:
		key = os.Getenv(EnvOpenAIKey)
	case verifier.ProviderGemini:
		key = os.Getenv(EnvGeminiKey)
	case verifier.ProviderHTTP:
		key = os.Getenv(EnvVerifierToken)
	}

	return verifier.Config{
		Provider:     provider,
		Model:        c.Verifier.Model,
		APIKey:       key,
		BaseURL:      c.Verifier.BaseURL,
		Timeout:      time.Duration(c.Verifier.Timeout) * time.Second,
		MaxImageSize: c.Verifier.MaxImageSize,
	}
}
