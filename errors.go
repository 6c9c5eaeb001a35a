package embcache

import (
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/embcache/device"
	"github.com/hupe1980/embcache/fsbackend"
	"github.com/hupe1980/embcache/lookup"
	"github.com/hupe1980/embcache/table"
)

var (
	// ErrNotFound is returned when a forward names an unknown model, table
	// or replica.
	ErrNotFound = errors.New("not found")

	// ErrNotInitialized is returned when Forward or Shutdown reporting is
	// attempted before Init.
	ErrNotInitialized = errors.New("serving not initialized")
)

// ConfigError indicates an unusable serving configuration.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ConfigError struct {
	Path  string
	cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %v", e.Path, e.cause)
}

func (e *ConfigError) Unwrap() error { return e.cause }

// IOError indicates a failed read or write of table or staging files.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type IOError struct {
	Path  string
	cause error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("io error: %v", e.cause)
	}
	return fmt.Sprintf("io error on %q: %v", e.Path, e.cause)
}

func (e *IOError) Unwrap() error { return e.cause }

// ResourceError indicates an unusable execution resource. The failing call
// path is aborted; the resource is not recovered.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ResourceError struct {
	cause error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource error: %v", e.cause)
}

func (e *ResourceError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Initialization and registry lookups.
	if errors.Is(err, lookup.ErrNotInitialized) {
		return fmt.Errorf("%w: %w", ErrNotInitialized, err)
	}
	if errors.Is(err, lookup.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Execution resources.
	if errors.Is(err, device.ErrStreamClosed) || errors.Is(err, device.ErrHandleClosed) {
		return &ResourceError{cause: err}
	}

	// Synthetic table paths are configuration, not IO.
	if errors.Is(err, table.ErrMockPath) {
		return &ConfigError{cause: err}
	}

	// Child transfer processes surface as-is.
	var cpe *fsbackend.ChildProcessError
	if errors.As(err, &cpe) {
		return err
	}

	// Table and file IO normalization.
	if errors.Is(err, table.ErrSizeMismatch) {
		return &IOError{cause: err}
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		return &IOError{Path: pe.Path, cause: err}
	}
	if errors.Is(err, os.ErrNotExist) {
		return &IOError{cause: err}
	}

	return err
}
