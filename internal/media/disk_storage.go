package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
)

// DiskStorage stores media assets as content-addressed files under a root
// directory, for local development and test environments without an IPFS
// node available.
type DiskStorage struct {
	root string
}

// NewDiskStorage builds a DiskStorage rooted at dir, creating it if absent.
func NewDiskStorage(dir string) (*DiskStorage, error) {
	if dir == "" {
		dir = "./data/media"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.InternalError, "failed to create media storage root")
	}
	return &DiskStorage{root: dir}, nil
}

// Store writes data to a content-addressed path and returns its sha256 hex
// digest as the storage_key.
func (s *DiskStorage) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	tracer := otel.Tracer("runner/media")
	_, span := tracer.Start(ctx, "DiskStorage.Store", oteltrace.WithAttributes(
		attribute.Int("media.bytes", len(data)),
		attribute.String("media.content_type", contentType),
	))
	defer span.End()

	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.InternalError, "failed to create media storage shard directory")
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", apperrors.Wrap(err, apperrors.InternalError, "failed to write media asset to disk")
	}
	span.SetAttributes(attribute.String("media.storage_key", key))
	return key, nil
}

// Retrieve reads back the file named by storageKey.
func (s *DiskStorage) Retrieve(ctx context.Context, storageKey string) ([]byte, error) {
	tracer := otel.Tracer("runner/media")
	_, span := tracer.Start(ctx, "DiskStorage.Retrieve", oteltrace.WithAttributes(
		attribute.String("media.storage_key", storageKey),
	))
	defer span.End()

	data, err := os.ReadFile(s.path(storageKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("media asset %s", storageKey))
		}
		return nil, apperrors.Wrap(err, apperrors.InternalError, "failed to read media asset from disk")
	}
	return data, nil
}

func (s *DiskStorage) path(key string) string {
	if len(key) >= 4 {
		return filepath.Join(s.root, key[:2], key[2:4], key)
	}
	return filepath.Join(s.root, key)
}
