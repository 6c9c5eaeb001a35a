package fsbackend

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/embcache/resource"
)

// compressSuffix marks zstd-compressed remote files.
const compressSuffix = ".zst"

// readAller is implemented by backends that can fetch a whole file in one
// call, e.g. via a parallel downloader.
type readAller interface {
	ReadAll(ctx context.Context, path string) ([]byte, error)
}

func readWhole(ctx context.Context, fs FileSystem, p string) ([]byte, error) {
	if ra, ok := fs.(readAller); ok {
		return ra.ReadAll(ctx, p)
	}

	size, err := fs.GetFileSize(ctx, p)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	n, err := fs.Read(ctx, p, buf, 0)
	if err != nil {
		return nil, err
	}
	if int64(n) != size {
		return nil, fmt.Errorf("fsbackend: short read of %s: %d of %d bytes", p, n, size)
	}

	return buf, nil
}

// uploadBatch transfers every regular file of localDir to remoteDir on dst,
// one transfer worker slot per file, then writes the manifest. The manifest
// accounts for the +1 in the returned count.
func uploadBatch(ctx context.Context, dst FileSystem, localDir, remoteDir string, ctrl *resource.Controller, compress bool) (int, error) {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return 0, fmt.Errorf("fsbackend: batch upload from %s: %w", localDir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == ManifestFileName {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var enc *zstd.Encoder
	if compress {
		enc, err = zstd.NewWriter(nil)
		if err != nil {
			return 0, fmt.Errorf("fsbackend: zstd encoder: %w", err)
		}
		defer enc.Close()
	}

	var (
		mu       sync.Mutex
		manifest Manifest
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := ctrl.AcquireTransfer(gctx); err != nil {
				return err
			}
			defer ctrl.ReleaseTransfer()

			data, err := os.ReadFile(filepath.Join(localDir, name))
			if err != nil {
				return fmt.Errorf("fsbackend: batch upload %s: %w", name, err)
			}

			entry := ManifestEntry{Name: name, Size: int64(len(data))}
			remoteName := name
			if compress {
				data = enc.EncodeAll(data, nil)
				remoteName += compressSuffix
				entry.Compressed = true
			}

			if err := ctrl.AcquireIO(gctx, len(data)); err != nil {
				return err
			}

			if err := dst.Write(gctx, path.Join(remoteDir, remoteName), data, true); err != nil {
				return err
			}

			mu.Lock()
			manifest.Files = append(manifest.Files, entry)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	sort.Slice(manifest.Files, func(i, j int) bool {
		return manifest.Files[i].Name < manifest.Files[j].Name
	})

	encoded, err := encodeManifest(&manifest)
	if err != nil {
		return 0, err
	}
	if err := dst.Write(ctx, path.Join(remoteDir, ManifestFileName), encoded, true); err != nil {
		return 0, err
	}

	return len(names) + 1, nil
}

// fetchBatch transfers every manifest-listed file of remoteDir on src to
// the local directory localDir. The manifest accounts for the +1 in the
// returned count.
func fetchBatch(ctx context.Context, src FileSystem, remoteDir, localDir string, ctrl *resource.Controller) (int, error) {
	raw, err := readWhole(ctx, src, path.Join(remoteDir, ManifestFileName))
	if err != nil {
		return 0, fmt.Errorf("fsbackend: batch fetch from %s: %w", remoteDir, err)
	}

	manifest, err := decodeManifest(raw)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(localDir, 0o700); err != nil {
		return 0, fmt.Errorf("fsbackend: batch fetch to %s: %w", localDir, err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return 0, fmt.Errorf("fsbackend: zstd decoder: %w", err)
	}
	defer dec.Close()

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range manifest.Files {
		entry := entry
		g.Go(func() error {
			if err := ctrl.AcquireTransfer(gctx); err != nil {
				return err
			}
			defer ctrl.ReleaseTransfer()

			remoteName := entry.Name
			if entry.Compressed {
				remoteName += compressSuffix
			}

			data, err := readWhole(gctx, src, path.Join(remoteDir, remoteName))
			if err != nil {
				return err
			}

			if err := ctrl.AcquireIO(gctx, len(data)); err != nil {
				return err
			}

			if entry.Compressed {
				data, err = dec.DecodeAll(data, nil)
				if err != nil {
					return fmt.Errorf("fsbackend: decompress %s: %w", entry.Name, err)
				}
			}

			if int64(len(data)) != entry.Size {
				return fmt.Errorf("fsbackend: fetch %s: got %d bytes, manifest says %d", entry.Name, len(data), entry.Size)
			}

			return os.WriteFile(filepath.Join(localDir, entry.Name), data, 0o600)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	return len(manifest.Files) + 1, nil
}
