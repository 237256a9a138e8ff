package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the streaming client
type Config struct {
	// Deepgram API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""` // Optional; self-hosted deployments need none
	DeepgramBaseURL  string `envconfig:"DEEPGRAM_BASE_URL" default:"https://api.deepgram.com"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// Streaming options, only sent when set
	StreamEncoding   string `envconfig:"STREAM_ENCODING" default:""`
	StreamSampleRate uint32 `envconfig:"STREAM_SAMPLE_RATE" default:"0"`
	StreamChannels   uint16 `envconfig:"STREAM_CHANNELS" default:"0"`

	// Session configuration
	StreamKeepAlive      bool          `envconfig:"STREAM_KEEP_ALIVE" default:"false"`
	KeepAliveInterval    time.Duration `envconfig:"KEEP_ALIVE_INTERVAL" default:"10s"`
	KeepAliveFatal       bool          `envconfig:"KEEP_ALIVE_FATAL" default:"false"` // Fail the session when a keep-alive cannot be written
	ResultBufferCapacity int           `envconfig:"RESULT_BUFFER_CAPACITY" default:"1"`
	WriteTimeout         time.Duration `envconfig:"WRITE_TIMEOUT" default:"0s"`

	// Audio framing configuration
	FrameSize  int           `envconfig:"FRAME_SIZE" default:"8192"` // Bytes per frame
	FrameDelay time.Duration `envconfig:"FRAME_DELAY" default:"0s"`  // Pacing between frames for file sources

	// Resilience configuration
	RetryMaxAttempts    int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`      // Maximum connect attempts
	RetryInitialBackoff int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`        // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`      // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"` // Serve Prometheus metrics
	MetricsAddr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express as constraints
func (c *Config) Validate() error {
	u, err := url.Parse(c.DeepgramBaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("DEEPGRAM_BASE_URL must be an absolute url, got %q", c.DeepgramBaseURL)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("FRAME_SIZE must be positive, got %d", c.FrameSize)
	}
	if c.FrameDelay < 0 {
		return fmt.Errorf("FRAME_DELAY must not be negative, got %v", c.FrameDelay)
	}
	if c.KeepAliveInterval <= 0 {
		return fmt.Errorf("KEEP_ALIVE_INTERVAL must be positive, got %v", c.KeepAliveInterval)
	}
	if c.ResultBufferCapacity < 1 {
		return fmt.Errorf("RESULT_BUFFER_CAPACITY must be at least 1, got %d", c.ResultBufferCapacity)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	return nil
}
