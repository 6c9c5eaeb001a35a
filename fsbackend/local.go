package fsbackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/embcache/resource"
)

// Local implements FileSystem on a local directory tree. An empty root
// resolves paths as given.
type Local struct {
	root     string
	ctrl     *resource.Controller
	compress bool
}

// LocalOption configures a Local filesystem.
type LocalOption func(*Local)

// WithLocalController attaches a resource controller that throttles batch
// transfers.
func WithLocalController(ctrl *resource.Controller) LocalOption {
	return func(l *Local) { l.ctrl = ctrl }
}

// WithLocalCompression stores batch-uploaded files zstd-compressed.
func WithLocalCompression(enabled bool) LocalOption {
	return func(l *Local) { l.compress = enabled }
}

// NewLocal creates a local filesystem rooted at root.
func NewLocal(root string, optFns ...LocalOption) *Local {
	l := &Local{root: root}

	for _, fn := range optFns {
		fn(l)
	}

	return l
}

func (l *Local) resolve(p string) string {
	if l.root == "" {
		return p
	}
	return filepath.Join(l.root, p)
}

// Write stores data at path, creating parent directories as needed.
func (l *Local) Write(_ context.Context, path string, data []byte, overwrite bool) error {
	full := l.resolve(path)

	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("fsbackend: mkdir for %s: %w", path, err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	f, err := os.OpenFile(full, flags, 0o600)
	if err != nil {
		return fmt.Errorf("fsbackend: write %s: %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("fsbackend: write %s: %w", path, err)
	}

	return f.Close()
}

// Read reads len(p) bytes at offset off. A short read at end of file
// returns the byte count with no error.
func (l *Local) Read(_ context.Context, path string, p []byte, off int64) (int, error) {
	f, err := os.Open(l.resolve(path))
	if err != nil {
		return 0, fmt.Errorf("fsbackend: read %s: %w", path, err)
	}
	defer f.Close()

	n, err := f.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("fsbackend: read %s: %w", path, err)
	}

	return n, nil
}

// ReadAll reads the whole file at path.
func (l *Local) ReadAll(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(l.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("fsbackend: read %s: %w", path, err)
	}
	return data, nil
}

// GetFileSize returns the size of the file at path.
func (l *Local) GetFileSize(_ context.Context, path string) (int64, error) {
	fi, err := os.Stat(l.resolve(path))
	if err != nil {
		return 0, fmt.Errorf("fsbackend: stat %s: %w", path, err)
	}
	return fi.Size(), nil
}

// Copy duplicates src to dst, honoring the controller's IO limit if one is
// attached.
func (l *Local) Copy(ctx context.Context, src, dst string) error {
	in, err := os.Open(l.resolve(src))
	if err != nil {
		return fmt.Errorf("fsbackend: copy %s: %w", src, err)
	}
	defer in.Close()

	full := l.resolve(dst)
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("fsbackend: mkdir for %s: %w", dst, err)
	}

	out, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("fsbackend: copy to %s: %w", dst, err)
	}

	var w io.Writer = out
	if l.ctrl != nil {
		w = resource.NewRateLimitedWriter(ctx, l.ctrl, out)
	}

	if _, err := io.Copy(w, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("fsbackend: copy %s to %s: %w", src, dst, err)
	}

	return out.Close()
}

// DeleteFile removes path. Directories require recursive.
func (l *Local) DeleteFile(_ context.Context, path string, recursive bool) error {
	full := l.resolve(path)

	fi, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("fsbackend: delete %s: %w", path, err)
	}

	if fi.IsDir() {
		if !recursive {
			return fmt.Errorf("fsbackend: delete %s: is a directory", path)
		}
		return os.RemoveAll(full)
	}

	return os.Remove(full)
}

// BatchUpload transfers every data file under localDir to remoteDir and
// writes a manifest. Returns the number of files transferred, manifest
// included.
func (l *Local) BatchUpload(ctx context.Context, localDir, remoteDir string) (int, error) {
	return uploadBatch(ctx, l, localDir, remoteDir, l.ctrl, l.compress)
}

// BatchFetch transfers every manifest-listed file under remoteDir to
// localDir. Returns the number of files transferred, manifest included.
func (l *Local) BatchFetch(ctx context.Context, remoteDir, localDir string) (int, error) {
	return fetchBatch(ctx, l, remoteDir, localDir, l.ctrl)
}
