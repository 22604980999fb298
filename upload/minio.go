package upload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO uploads to an S3-compatible server through minio-go.
type MinIO struct {
	client *minio.Client
	cfg    Config
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
}

// NewMinIO creates a MinIO uploader. The bucket is created on first use.
func NewMinIO(cfg Config, logger *slog.Logger) (*MinIO, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("upload: minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("upload: minio access key and secret key are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("upload: minio bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: minio client: %w", err)
	}
	if cfg.PublicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		cfg.PublicURL = scheme + "://" + endpoint + "/" + cfg.Bucket
	}
	return &MinIO{client: client, cfg: cfg, logger: logger}, nil
}

func (m *MinIO) ensureBucket(ctx context.Context) error {
	m.initOnce.Do(func() {
		exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
		if err != nil {
			m.initErr = err
			return
		}
		if exists {
			return
		}
		m.logger.Info("upload: creating bucket", "bucket", m.cfg.Bucket)
		m.initErr = m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region})
	})
	return m.initErr
}

func (m *MinIO) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("upload: ensure bucket: %w", err)
	}
	key = prefixed(m.cfg.Prefix, key)
	_, err := m.client.PutObject(ctx, m.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload: put %s: %w", key, err)
	}
	return objectURL(m.cfg.PublicURL, key)
}

func prefixed(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" || strings.HasPrefix(key, prefix+"/") {
		return key
	}
	return prefix + "/" + key
}
