package upload

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted in Config.
const (
	BackendNone   = ""
	BackendMemory = "memory"
	BackendMinIO  = "minio"
	BackendS3     = "s3"
)

// Config selects and configures an Uploader.
type Config struct {
	Backend   string `yaml:"backend"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`
	// PublicURL is the base of returned URLs. Default: derived from the
	// endpoint and bucket.
	PublicURL string `yaml:"public_url"`
}

// New builds the Uploader named by cfg.Backend. BackendNone returns nil:
// screenshots are then taken but not stored.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Uploader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemory(cfg.PublicURL), nil
	case BackendMinIO:
		return NewMinIO(cfg, logger)
	case BackendS3:
		return NewS3(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("upload: unknown backend %q", cfg.Backend)
	}
}
