// Package storage keeps files uploaded to forms: on local disk in
// development and in Cloudflare R2 in production.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Storage is an object store addressed by slash-separated keys.
type Storage interface {
	// Put stores data at key, replacing any existing object.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a fetchable URL for key. Without a public base URL the
	// link is presigned and valid for expires.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}

type PutOptions struct {
	ContentType string // detected from the key's extension when empty
	MaxSize     int64  // bytes; 0 means no limit
}

const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// Config selects a provider and carries the settings for each.
type Config struct {
	Provider string
	Local    LocalConfig
	R2       R2Config
}

type LocalConfig struct {
	BasePath string // e.g. "./storage"
	BaseURL  string // e.g. "http://localhost:8080/files"
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string // custom domain; presigned URLs are used when empty
	Region          string // defaults to "auto"
}

// New returns the Storage for cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Storage, error) {
	logger = logger.With("component", "storage", "provider", cfg.Provider)
	switch cfg.Provider {
	case ProviderLocal:
		return NewLocalStorage(cfg.Local, logger)
	case ProviderR2:
		return NewR2Storage(cfg.R2, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// FileKey builds the key for a file uploaded to formID:
// forms/{formID}/files/{uuid}{ext}. The extension comes from filename, or
// from contentType when filename has none.
func FileKey(formID uuid.UUID, filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = extensionForContentType(contentType)
	}
	return fmt.Sprintf("forms/%s/files/%s%s", formID, uuid.New(), ext)
}
