// Package media implements the media-download collaborator's storage side:
// a fetched byte stream goes in, a storage_key comes out, backed by either
// an IPFS node or local disk depending on MEDIA_STORAGE_BACKEND.
package media

import "context"

// Storage persists a fetched media asset and returns the key other
// components use to retrieve it again.
type Storage interface {
	// Store persists data (of the given content type) and returns a storage_key.
	Store(ctx context.Context, data []byte, contentType string) (storageKey string, err error)
	// Retrieve fetches previously stored data by storage_key.
	Retrieve(ctx context.Context, storageKey string) ([]byte, error)
}

// Backend names accepted by MEDIA_STORAGE_BACKEND.
const (
	BackendIPFS = "ipfs"
	BackendDisk = "disk"
)

// New builds the Storage backend named by backend ("ipfs" or "disk").
func New(backend string, ipfsAPIURL, diskRoot string) (Storage, error) {
	switch backend {
	case BackendIPFS:
		return NewIPFSStorage(ipfsAPIURL), nil
	case BackendDisk:
		return NewDiskStorage(diskRoot)
	default:
		return nil, &UnknownBackendError{Backend: backend}
	}
}

// UnknownBackendError is returned when MEDIA_STORAGE_BACKEND names a backend
// this package does not implement.
type UnknownBackendError struct {
	Backend string
}

func (e *UnknownBackendError) Error() string {
	return "media: unknown storage backend " + e.Backend
}
