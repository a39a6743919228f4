package config

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Preprocessing defaults, overridable per run
	Preprocess PreprocessConfig `yaml:"preprocess"`

	// FFmpeg settings
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`

	// Transcription service settings
	Transcribe TranscribeConfig `yaml:"transcribe"`

	// Vision model settings
	Vision VisionConfig `yaml:"vision"`

	// Analysis queue settings
	Queue QueueConfig `yaml:"queue"`

	// HTTP server settings
	Server ServerConfig `yaml:"server"`
}

type PreprocessConfig struct {
	SegmentLength        float64 `yaml:"segment_length"`
	FPS                  float64 `yaml:"fps"`
	GenerateTranscript   bool    `yaml:"generate_transcript"`
	TrimToNearestSecond  bool    `yaml:"trim_to_nearest_second"`
	AllowPartialSegments bool    `yaml:"allow_partial_segments"`
	// Divisor for splitting oversized audio, in MB. Historically 15-20.
	ChunkMB float64 `yaml:"chunk_mb"`
}

type FFmpegConfig struct {
	Threads int `yaml:"threads"`
}

type TranscribeConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type VisionConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type QueueConfig struct {
	MaxConcurrentJobs        int    `yaml:"max_concurrent_jobs"`
	MaxPendingJobs           int    `yaml:"max_pending_jobs"`
	MaxPreprocessWorkers     int    `yaml:"max_preprocess_workers"`
	DefaultPreprocessWorkers int    `yaml:"default_preprocess_workers"`
	TokensPerMinute          int64  `yaml:"tokens_per_minute"`
	BaseTokensPerRequest     int64  `yaml:"base_tokens_per_request"`
	TokensPerSegment         int64  `yaml:"tokens_per_segment"`
	LensCharsPerToken        int64  `yaml:"lens_chars_per_token"`
	MaxLensTokenBonus        int64  `yaml:"max_lens_token_bonus"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	UploadDir   string `yaml:"upload_dir"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
	FrameMaxDim int    `yaml:"frame_max_dim"`
}

// Load reads configuration from file or returns defaults. Environment
// variables override file values for secrets and endpoints.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func defaultConfig() *Config {
	return &Config{
		Preprocess: PreprocessConfig{
			SegmentLength:        10,
			FPS:                  0.33,
			GenerateTranscript:   true,
			TrimToNearestSecond:  false,
			AllowPartialSegments: true,
			ChunkMB:              18,
		},
		FFmpeg: FFmpegConfig{
			Threads: 0,
		},
		Transcribe: TranscribeConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "whisper-1",
			TimeoutSeconds: 300,
		},
		Vision: VisionConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o",
			TimeoutSeconds: 300,
		},
		Queue: QueueConfig{
			MaxConcurrentJobs:        2,
			MaxPendingJobs:           50,
			MaxPreprocessWorkers:     4,
			DefaultPreprocessWorkers: 2,
			TokensPerMinute:          1_000_000,
			BaseTokensPerRequest:     9_000,
			TokensPerSegment:         450,
			LensCharsPerToken:        4,
			MaxLensTokenBonus:        2_000,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			UploadDir:   "./uploads",
			MaxUploadMB: 2048,
			FrameMaxDim: 768,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./filmstrip.yaml",
		"./filmstrip.yml",
		filepath.Join(os.Getenv("HOME"), ".filmstrip", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FILMSTRIP_TRANSCRIBE_KEY"); v != "" {
		cfg.Transcribe.APIKey = v
	}
	if v := os.Getenv("FILMSTRIP_TRANSCRIBE_URL"); v != "" {
		cfg.Transcribe.BaseURL = v
	}
	if v := os.Getenv("FILMSTRIP_VISION_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}
	if v := os.Getenv("FILMSTRIP_VISION_URL"); v != "" {
		cfg.Vision.BaseURL = v
	}
	if v := os.Getenv("FILMSTRIP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
