// Package storage keeps uploaded videos and detection thumbnails.
//
// This package defines a Storage interface with implementations for:
// - LocalStorage: File system storage, used for uploads and development
// - R2Storage: Cloudflare R2 (S3-compatible) storage for thumbnails in production
//
// Uploaded videos always go to a LocalStorage because the decoder reads them
// by path. Thumbnails go wherever STORAGE_PROVIDER points.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the interface for object storage operations.
//
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at the specified key. It fails with ErrKeyExists when
	// the key is taken and opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get retrieves the data at the specified key. The caller must close the
	// returned reader. Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at the specified key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType specifies the MIME type of the object.
	// If empty, it is detected from the key's extension.
	ContentType string

	// MaxSize is the maximum allowed size in bytes; 0 means no limit.
	// Larger objects fail with ErrTooLarge.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string    // Object key/path
	Size         int64     // Size in bytes
	ContentType  string    // MIME type
	LastModified time.Time // Last modification time
	ETag         string    // Entity tag (if available)
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where files are stored.
	// Example: "uploads" or "/var/lib/defectscan/thumbnails"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// KeyPrefix is prepended to every key, e.g. "thumbnails/".
	KeyPrefix string

	// Region is required by the AWS SDK; R2 accepts "auto". Default: "auto"
	Region string

	// Endpoint overrides https://{account}.r2.cloudflarestorage.com.
	Endpoint string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// =============================================================================
// Key Helpers
// =============================================================================

// ThumbnailName returns the object name of a detection thumbnail:
// "{sessionID}_{detectionID}.jpg". The same name is used in the public
// thumbnail URL.
func ThumbnailName(sessionID, detectionID string) string {
	return fmt.Sprintf("%s_%s.jpg", sessionID, detectionID)
}

// UploadName returns the object name of an uploaded video:
// "{sessionID}_{base filename}". Directory components of the client-supplied
// filename are dropped.
func UploadName(sessionID, filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "video"
	}
	return sessionID + "_" + base
}

// ValidateName rejects names that are empty or could escape a flat
// namespace. It is used on names taken from request paths.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return ErrInvalidKey
	}
	return nil
}
