package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultRegion        = "us-east-1"
	DefaultListenAddr    = ":8080"
	DefaultPartSize      = 30 << 20
	DefaultPresignExpiry = 15 * time.Minute
)

type Config struct {
	// S3Endpoint is the base URL of the object-store data plane.
	S3Endpoint string
	// AdminEndpoint is the base URL of the administrative API. Defaults to
	// S3Endpoint + "/admin".
	AdminEndpoint string
	// RateLimitEndpoint is the base URL of the rate-limit channel. Defaults
	// to AdminEndpoint.
	RateLimitEndpoint string
	Region            string

	// AdminAccessKey and AdminSecretKey are the fixed operator credentials
	// used for every administrative call.
	AdminAccessKey string
	AdminSecretKey string

	ListenAddr        string
	PartSize          int64
	UploadConcurrency int
	PresignExpiry     time.Duration
}

type ConfigOption func(*Config)

func WithS3Endpoint(endpoint string) ConfigOption {
	return func(cfg *Config) {
		cfg.S3Endpoint = endpoint
	}
}

func WithAdminEndpoint(endpoint string) ConfigOption {
	return func(cfg *Config) {
		cfg.AdminEndpoint = endpoint
	}
}

func WithRateLimitEndpoint(endpoint string) ConfigOption {
	return func(cfg *Config) {
		cfg.RateLimitEndpoint = endpoint
	}
}

func WithRegion(region string) ConfigOption {
	return func(cfg *Config) {
		cfg.Region = region
	}
}

func WithAdminCredentials(accessKey string, secretKey string) ConfigOption {
	return func(cfg *Config) {
		cfg.AdminAccessKey = accessKey
		cfg.AdminSecretKey = secretKey
	}
}

func WithListenAddr(addr string) ConfigOption {
	return func(cfg *Config) {
		cfg.ListenAddr = addr
	}
}

func WithPartSize(size int64) ConfigOption {
	return func(cfg *Config) {
		cfg.PartSize = size
	}
}

func WithUploadConcurrency(n int) ConfigOption {
	return func(cfg *Config) {
		cfg.UploadConcurrency = n
	}
}

// NewConfig applies opts over the defaults and fills in derived endpoints.
func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		Region:            DefaultRegion,
		ListenAddr:        DefaultListenAddr,
		PartSize:          DefaultPartSize,
		UploadConcurrency: 1,
		PresignExpiry:     DefaultPresignExpiry,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.AdminEndpoint == "" && cfg.S3Endpoint != "" {
		cfg.AdminEndpoint = strings.TrimSuffix(cfg.S3Endpoint, "/") + "/admin"
	}
	if cfg.RateLimitEndpoint == "" {
		cfg.RateLimitEndpoint = cfg.AdminEndpoint
	}
	return cfg
}

// Validate reports every missing or malformed setting at once.
func (c Config) Validate() error {
	var problems []string
	if c.S3Endpoint == "" {
		problems = append(problems, "s3 endpoint is required")
	}
	if c.AdminAccessKey == "" || c.AdminSecretKey == "" {
		problems = append(problems, "admin credentials are required")
	}
	if c.PartSize <= 0 {
		problems = append(problems, "part size must be positive")
	}
	if c.UploadConcurrency <= 0 {
		problems = append(problems, "upload concurrency must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FromEnv builds a Config from GRANARY_* environment variables. All missing
// required variables are reported together.
func FromEnv(opts ...ConfigOption) (Config, error) {
	return fromLookup(os.LookupEnv, opts...)
}

func fromLookup(lookup func(string) (string, bool), opts ...ConfigOption) (Config, error) {
	var missing []string
	required := func(name string) string {
		v, ok := lookup(name)
		if !ok || v == "" {
			missing = append(missing, name)
		}
		return v
	}

	s3Endpoint := required("GRANARY_S3_ENDPOINT")
	accessKey := required("GRANARY_ADMIN_ACCESS_KEY")
	secretKey := required("GRANARY_ADMIN_SECRET_KEY")

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}

	envOpts := []ConfigOption{
		WithS3Endpoint(s3Endpoint),
		WithAdminCredentials(accessKey, secretKey),
	}
	if v, ok := lookup("GRANARY_ADMIN_ENDPOINT"); ok && v != "" {
		envOpts = append(envOpts, WithAdminEndpoint(v))
	}
	if v, ok := lookup("GRANARY_RATELIMIT_ENDPOINT"); ok && v != "" {
		envOpts = append(envOpts, WithRateLimitEndpoint(v))
	}
	if v, ok := lookup("GRANARY_REGION"); ok && v != "" {
		envOpts = append(envOpts, WithRegion(v))
	}
	if v, ok := lookup("GRANARY_LISTEN"); ok && v != "" {
		envOpts = append(envOpts, WithListenAddr(v))
	}
	if v, ok := lookup("GRANARY_PART_SIZE"); ok && v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse GRANARY_PART_SIZE: %w", err)
		}
		envOpts = append(envOpts, WithPartSize(size))
	}
	if v, ok := lookup("GRANARY_UPLOAD_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse GRANARY_UPLOAD_CONCURRENCY: %w", err)
		}
		envOpts = append(envOpts, WithUploadConcurrency(n))
	}

	cfg := NewConfig(append(envOpts, opts...)...)
	return cfg, cfg.Validate()
}
