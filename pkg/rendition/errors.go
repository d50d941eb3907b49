package rendition

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrNotFound indicates an object is absent from storage. It is expected
	// while polling and during cleanup.
	ErrNotFound = errors.New("object not found")

	// ErrTimedOut indicates an object never became available while polling.
	ErrTimedOut = errors.New("object not available before polling ceiling")

	// ErrEncode indicates the source bytes could not be encoded.
	ErrEncode = errors.New("encode failed")

	// ErrTransientIO indicates a storage or network failure other than
	// NotFound.
	ErrTransientIO = errors.New("transient storage failure")

	// ErrAssetNotFound indicates the asset record does not exist.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrProviderNotConfigured indicates no provider is available for a
	// locator.
	ErrProviderNotConfigured = errors.New("storage provider not configured")
)

// StorageError represents an error related to storage provider operations
type StorageError struct {
	Provider string
	Locator  string
	Op       string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for %s on provider %s: %v", e.Op, e.Locator, e.Provider, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// EncodeError represents a failure of the codec for one rendition
type EncodeError struct {
	TargetMime string
	Err        error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode to %s failed: %v", e.TargetMime, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrEncode) match any EncodeError.
func (e *EncodeError) Is(target error) bool {
	return target == ErrEncode
}

// AssetError represents an error related to asset record operations
type AssetError struct {
	AssetID uuid.UUID
	Op      string
	Err     error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset operation %s failed for asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err denotes an absent object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NotFound wraps ErrNotFound in a StorageError.
func NotFound(provider, op, locator string) error {
	return &StorageError{Provider: provider, Locator: locator, Op: op, Err: ErrNotFound}
}

// Transient wraps err as a transient storage failure.
func Transient(provider, op, locator string, err error) error {
	return &StorageError{Provider: provider, Locator: locator, Op: op, Err: fmt.Errorf("%w: %w", ErrTransientIO, err)}
}

// ErrorKind labels err for logs and metrics: "not_found", "timed_out",
// "encode" or "transient_io".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimedOut):
		return "timed_out"
	case errors.Is(err, ErrEncode):
		return "encode"
	default:
		return "transient_io"
	}
}
