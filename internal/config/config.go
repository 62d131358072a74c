// Package config loads runtime configuration for the bridge and viewer
// binaries from environment variables, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Bridge holds configuration for the server binary.
type Bridge struct {
	ListenAddr string
	LogLevel   string
	LogFormat  string

	EngineBaseURL string
	EngineToken   string

	HLSRoot     string
	PlayoutBase string

	FFmpegPath     string
	SegmentSeconds int
	PlaylistLength int
	ManifestGrace  time.Duration
	TerminateGrace time.Duration

	PortBase     int
	PortSpan     int
	PortAttempts int

	DeleteDelay  time.Duration
	PollInterval time.Duration

	RedisAddr     string
	RedisPassword string
	DirectoryTTL  time.Duration
}

// Viewer holds configuration for the client binary.
type Viewer struct {
	ServerURL          string
	LogLevel           string
	LogFormat          string
	RediscoverInterval time.Duration
	AttachMaxAttempts  int
	AttachBackoffStep  time.Duration
}

// Load reads the given .env files (default ".env") into the process
// environment. A missing file is not an error; system environment wins.
func Load(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	_ = godotenv.Load(paths...)
}

// BridgeFromEnv initialises a Bridge config from STREAMBRIDGE_* variables.
func BridgeFromEnv() (Bridge, error) {
	cfg := Bridge{
		ListenAddr:     getEnv("STREAMBRIDGE_LISTEN", ":8080"),
		LogLevel:       getEnv("STREAMBRIDGE_LOG_LEVEL", "info"),
		LogFormat:      getEnv("STREAMBRIDGE_LOG_FORMAT", "json"),
		EngineBaseURL:  getEnv("STREAMBRIDGE_ENGINE_API", ""),
		EngineToken:    getEnv("STREAMBRIDGE_ENGINE_TOKEN", ""),
		HLSRoot:        getEnv("STREAMBRIDGE_HLS_ROOT", "./hls"),
		PlayoutBase:    getEnv("STREAMBRIDGE_PLAYOUT_BASE", "/hls"),
		FFmpegPath:     getEnv("STREAMBRIDGE_FFMPEG", "ffmpeg"),
		RedisAddr:      getEnv("STREAMBRIDGE_REDIS_ADDR", ""),
		RedisPassword:  getEnv("STREAMBRIDGE_REDIS_PASSWORD", ""),
		SegmentSeconds: 2,
		PlaylistLength: 6,
		ManifestGrace:  10 * time.Second,
		TerminateGrace: 5 * time.Second,
		PortBase:       20000,
		PortSpan:       10000,
		PortAttempts:   10,
		DeleteDelay:    30 * time.Second,
		PollInterval:   5 * time.Second,
		DirectoryTTL:   30 * time.Second,
	}

	var err error
	if cfg.SegmentSeconds, err = getInt("STREAMBRIDGE_SEGMENT_SECONDS", cfg.SegmentSeconds); err != nil {
		return Bridge{}, err
	}
	if cfg.PlaylistLength, err = getInt("STREAMBRIDGE_PLAYLIST_LENGTH", cfg.PlaylistLength); err != nil {
		return Bridge{}, err
	}
	if cfg.PortBase, err = getInt("STREAMBRIDGE_PORT_BASE", cfg.PortBase); err != nil {
		return Bridge{}, err
	}
	if cfg.PortSpan, err = getInt("STREAMBRIDGE_PORT_SPAN", cfg.PortSpan); err != nil {
		return Bridge{}, err
	}
	if cfg.PortAttempts, err = getInt("STREAMBRIDGE_PORT_ATTEMPTS", cfg.PortAttempts); err != nil {
		return Bridge{}, err
	}
	if cfg.ManifestGrace, err = getDuration("STREAMBRIDGE_MANIFEST_GRACE", cfg.ManifestGrace); err != nil {
		return Bridge{}, err
	}
	if cfg.TerminateGrace, err = getDuration("STREAMBRIDGE_TERMINATE_GRACE", cfg.TerminateGrace); err != nil {
		return Bridge{}, err
	}
	if cfg.DeleteDelay, err = getDuration("STREAMBRIDGE_DELETE_DELAY", cfg.DeleteDelay); err != nil {
		return Bridge{}, err
	}
	if cfg.PollInterval, err = getDuration("STREAMBRIDGE_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return Bridge{}, err
	}
	if cfg.DirectoryTTL, err = getDuration("STREAMBRIDGE_DIRECTORY_TTL", cfg.DirectoryTTL); err != nil {
		return Bridge{}, err
	}

	if cfg.EngineBaseURL == "" {
		return Bridge{}, fmt.Errorf("STREAMBRIDGE_ENGINE_API is required")
	}
	return cfg, nil
}

// ViewerFromEnv initialises a Viewer config from STREAMBRIDGE_* variables.
func ViewerFromEnv() (Viewer, error) {
	cfg := Viewer{
		ServerURL:          getEnv("STREAMBRIDGE_SERVER_URL", "ws://127.0.0.1:8080/ws"),
		LogLevel:           getEnv("STREAMBRIDGE_LOG_LEVEL", "info"),
		LogFormat:          getEnv("STREAMBRIDGE_LOG_FORMAT", "text"),
		RediscoverInterval: 10 * time.Second,
		AttachMaxAttempts:  5,
		AttachBackoffStep:  250 * time.Millisecond,
	}

	var err error
	if cfg.RediscoverInterval, err = getDuration("STREAMBRIDGE_REDISCOVER_INTERVAL", cfg.RediscoverInterval); err != nil {
		return Viewer{}, err
	}
	if cfg.AttachMaxAttempts, err = getInt("STREAMBRIDGE_ATTACH_MAX_ATTEMPTS", cfg.AttachMaxAttempts); err != nil {
		return Viewer{}, err
	}
	if cfg.AttachBackoffStep, err = getDuration("STREAMBRIDGE_ATTACH_BACKOFF_STEP", cfg.AttachBackoffStep); err != nil {
		return Viewer{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive", key)
	}
	return parsed, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive", key)
	}
	return parsed, nil
}
