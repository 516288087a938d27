// Package config handles daemon configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr              string  `yaml:"http_addr"`
	BackendURL            string  `yaml:"backend_url"`
	RequestTimeoutSeconds float64 `yaml:"request_timeout_seconds"`
	SnapshotPath          string  `yaml:"snapshot_path"`
	DefaultLanguage       string  `yaml:"default_language"`

	SampleRate        int     `yaml:"sample_rate"`
	AudioChunkSeconds float64 `yaml:"audio_chunk_seconds"` // one value governs recorder rotation in every capture context

	FrameSampleSeconds float64 `yaml:"frame_sample_seconds"`
	MaxFrameWidth      int     `yaml:"max_frame_width"`
	JPEGQuality        int     `yaml:"jpeg_quality"`
	HashMaxDistance    int     `yaml:"hash_max_distance"` // perceptual hash Hamming distance at or below which a frame is skipped
	DedupCapacity      int     `yaml:"dedup_capacity"`

	KeyframeIntervalSeconds float64 `yaml:"keyframe_interval_seconds"`
	SeekTimeoutSeconds      float64 `yaml:"seek_timeout_seconds"`
	FrameSettleMillis       int     `yaml:"frame_settle_millis"`

	RestartSettleMillis int `yaml:"restart_settle_millis"`

	PollNotReadySeconds float64 `yaml:"poll_not_ready_seconds"`
	PollStageSeconds    float64 `yaml:"poll_stage_seconds"`
	PollMaxAttempts     int     `yaml:"poll_max_attempts"`

	SaveRetryAttempts    int `yaml:"save_retry_attempts"`
	SaveRetryDelayMillis int `yaml:"save_retry_delay_millis"`

	MessageRetryCount       int `yaml:"message_retry_count"`
	MessageRetryDelayMillis int `yaml:"message_retry_delay_millis"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:              ":8790",
		BackendURL:            "http://localhost:8000",
		RequestTimeoutSeconds: 30,
		SnapshotPath:          defaultSnapshotPath(),
		DefaultLanguage:       "en",

		SampleRate:        16000,
		AudioChunkSeconds: 5,

		FrameSampleSeconds: 3,
		MaxFrameWidth:      800,
		JPEGQuality:        80,
		HashMaxDistance:    5,
		DedupCapacity:      50,

		KeyframeIntervalSeconds: 5,
		SeekTimeoutSeconds:      2,
		FrameSettleMillis:       300,

		RestartSettleMillis: 500,

		PollNotReadySeconds: 5,
		PollStageSeconds:    2,
		PollMaxAttempts:     60,

		SaveRetryAttempts:    3,
		SaveRetryDelayMillis: 500,

		MessageRetryCount:       3,
		MessageRetryDelayMillis: 200,
	}
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return fromEnv(Default())
}

// LoadFile reads a YAML configuration file, then applies environment
// overrides on top. Missing keys keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return fromEnv(cfg), nil
}

func fromEnv(cfg *Config) *Config {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	cfg.RequestTimeoutSeconds = getEnvFloat("REQUEST_TIMEOUT_SECONDS", cfg.RequestTimeoutSeconds)
	cfg.SnapshotPath = getEnv("SNAPSHOT_PATH", cfg.SnapshotPath)
	cfg.DefaultLanguage = getEnv("DEFAULT_LANGUAGE", cfg.DefaultLanguage)
	cfg.SampleRate = getEnvInt("SAMPLE_RATE", cfg.SampleRate)
	cfg.AudioChunkSeconds = getEnvFloat("AUDIO_CHUNK_SECONDS", cfg.AudioChunkSeconds)
	cfg.FrameSampleSeconds = getEnvFloat("FRAME_SAMPLE_SECONDS", cfg.FrameSampleSeconds)
	cfg.MaxFrameWidth = getEnvInt("MAX_FRAME_WIDTH", cfg.MaxFrameWidth)
	cfg.JPEGQuality = getEnvInt("JPEG_QUALITY", cfg.JPEGQuality)
	cfg.HashMaxDistance = getEnvInt("HASH_MAX_DISTANCE", cfg.HashMaxDistance)
	cfg.DedupCapacity = getEnvInt("DEDUP_CAPACITY", cfg.DedupCapacity)
	cfg.KeyframeIntervalSeconds = getEnvFloat("KEYFRAME_INTERVAL_SECONDS", cfg.KeyframeIntervalSeconds)
	cfg.SeekTimeoutSeconds = getEnvFloat("SEEK_TIMEOUT_SECONDS", cfg.SeekTimeoutSeconds)
	cfg.FrameSettleMillis = getEnvInt("FRAME_SETTLE_MILLIS", cfg.FrameSettleMillis)
	cfg.RestartSettleMillis = getEnvInt("RESTART_SETTLE_MILLIS", cfg.RestartSettleMillis)
	cfg.PollNotReadySeconds = getEnvFloat("POLL_NOT_READY_SECONDS", cfg.PollNotReadySeconds)
	cfg.PollStageSeconds = getEnvFloat("POLL_STAGE_SECONDS", cfg.PollStageSeconds)
	cfg.PollMaxAttempts = getEnvInt("POLL_MAX_ATTEMPTS", cfg.PollMaxAttempts)
	cfg.SaveRetryAttempts = getEnvInt("SAVE_RETRY_ATTEMPTS", cfg.SaveRetryAttempts)
	cfg.SaveRetryDelayMillis = getEnvInt("SAVE_RETRY_DELAY_MILLIS", cfg.SaveRetryDelayMillis)
	cfg.MessageRetryCount = getEnvInt("MESSAGE_RETRY_COUNT", cfg.MessageRetryCount)
	cfg.MessageRetryDelayMillis = getEnvInt("MESSAGE_RETRY_DELAY_MILLIS", cfg.MessageRetryDelayMillis)
	return cfg
}

func defaultSnapshotPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "truelens-sessions.db"
	}
	return filepath.Join(home, ".truelens", "sessions.db")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
