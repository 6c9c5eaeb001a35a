// Package fsbackend provides the backing-filesystem collaborator used to
// stage embedding-table files: local and S3 implementations of a small
// read/write/copy/delete surface plus manifest-driven batch transfers.
package fsbackend

import (
	"context"
	"os"
)

// ErrNotFound is returned when a path does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrExists is returned by Write when the target exists and overwrite is
// false.
var ErrExists = os.ErrExist

// FileSystem is the backing-store surface the serving core stages table
// files through. Batch transfers move every regular file of a directory
// plus one manifest; their returned count is files+1.
type FileSystem interface {
	// Write stores data at path. An existing file is replaced only when
	// overwrite is set; otherwise ErrExists is returned.
	Write(ctx context.Context, path string, data []byte, overwrite bool) error

	// Read reads len(p) bytes at offset off into p. A short read at end
	// of file returns the byte count with no error.
	Read(ctx context.Context, path string, p []byte, off int64) (int, error)

	// GetFileSize returns the size of the file at path.
	GetFileSize(ctx context.Context, path string) (int64, error)

	// Copy duplicates src to dst within the backing store.
	Copy(ctx context.Context, src, dst string) error

	// DeleteFile removes path. Directories require recursive.
	DeleteFile(ctx context.Context, path string, recursive bool) error

	// BatchUpload transfers every data file under localDir to remoteDir
	// and writes a manifest. Returns the number of files transferred,
	// manifest included.
	BatchUpload(ctx context.Context, localDir, remoteDir string) (int, error)

	// BatchFetch transfers every manifest-listed file under remoteDir to
	// localDir. Returns the number of files transferred, manifest
	// included.
	BatchFetch(ctx context.Context, remoteDir, localDir string) (int, error)
}
