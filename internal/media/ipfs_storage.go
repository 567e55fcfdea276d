package media

import (
	"bytes"
	"context"
	"io"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jamie-anson/placeflow-ingestor/internal/circuitbreaker"
	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
)

// IPFSStorage stores media assets on an IPFS node, pinning each one so it
// survives node garbage collection.
type IPFSStorage struct {
	shell     *shell.Shell
	cbManager *circuitbreaker.Manager
}

// NewIPFSStorage builds an IPFSStorage client talking to the node at apiURL.
func NewIPFSStorage(apiURL string) *IPFSStorage {
	if apiURL == "" {
		apiURL = "localhost:5001"
	}
	return &IPFSStorage{
		shell:     shell.NewShell(apiURL),
		cbManager: circuitbreaker.NewManager(),
	}
}

// Store adds data to IPFS and pins it, returning the CID as the storage_key.
func (s *IPFSStorage) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	tracer := otel.Tracer("runner/media")
	ctx, span := tracer.Start(ctx, "IPFSStorage.Store", oteltrace.WithAttributes(
		attribute.Int("media.bytes", len(data)),
		attribute.String("media.content_type", contentType),
	))
	defer span.End()

	cb := s.cbManager.GetOrCreate("ipfs-store", circuitbreaker.Config{
		Name: "ipfs-store", MaxFailures: 5, Timeout: 30 * time.Second,
		MaxRequests: 3, SuccessThreshold: 2,
		IsFailure: func(err error) bool { return err != nil },
	})

	var cid string
	err := cb.Execute(ctx, func(context.Context) error {
		id, err := s.shell.Add(bytes.NewReader(data))
		if err != nil {
			return apperrors.Wrap(err, apperrors.TransientErrorType, "ipfs add failed")
		}
		if err := s.shell.Pin(id); err != nil {
			return apperrors.Wrap(err, apperrors.TransientErrorType, "ipfs pin failed")
		}
		cid = id
		return nil
	})
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("media.storage_key", cid))
	return cid, nil
}

// Retrieve fetches the object addressed by CID from IPFS.
func (s *IPFSStorage) Retrieve(ctx context.Context, storageKey string) ([]byte, error) {
	tracer := otel.Tracer("runner/media")
	ctx, span := tracer.Start(ctx, "IPFSStorage.Retrieve", oteltrace.WithAttributes(
		attribute.String("media.storage_key", storageKey),
	))
	defer span.End()

	cb := s.cbManager.GetOrCreate("ipfs-retrieve", circuitbreaker.DefaultConfig("ipfs-retrieve"))

	var data []byte
	err := cb.Execute(ctx, func(context.Context) error {
		reader, err := s.shell.Cat(storageKey)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TransientErrorType, "ipfs cat failed")
		}
		defer reader.Close()
		b, err := io.ReadAll(reader)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to read ipfs object")
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
