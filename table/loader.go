package table

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/embcache/config"
	"github.com/hupe1980/embcache/internal/shm"
	"github.com/hupe1980/embcache/resource"
)

const (
	// KeyFileName and VecFileName are the flat files a table directory
	// must contain.
	KeyFileName = "key"
	VecFileName = "emb_vector"

	// MockPathPrefix tags a synthetic table path of the form
	// "mock_<numKeys>_<vecSize>".
	MockPathPrefix = "mock_"

	// SharedSegmentName is the well-known shared-memory segment backing
	// all synthetic tables.
	SharedSegmentName = "EMBCACHE_FEAT_SHM"

	// EnvEmptyFeat optionally holds a power-of-two exponent bounding the
	// physically mapped key count of synthetic tables, independent of the
	// declared key count.
	EnvEmptyFeat = "EMBCACHE_EMPTY_FEAT"

	// keyFileEntrySize is the fixed on-disk key width.
	keyFileEntrySize = 8
)

var (
	// ErrMockPath indicates a malformed synthetic path encoding.
	ErrMockPath = errors.New("table: malformed mock path")

	// ErrSizeMismatch indicates a vector file whose float count is not
	// exactly keyCount*vecSize.
	ErrSizeMismatch = errors.New("table: vector file size mismatch")
)

// Kind selects a loader implementation. The set is closed; configuration
// picks the kind via the table path.
type Kind uint8

const (
	KindRawFile Kind = iota
	KindMock
)

func (k Kind) String() string {
	switch k {
	case KindRawFile:
		return "raw-file"
	case KindMock:
		return "mock"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// KindForPath returns the loader kind encoded in a table path.
func KindForPath(path string) Kind {
	if strings.HasPrefix(filepath.Base(path), MockPathPrefix) {
		return KindMock
	}
	return KindRawFile
}

// Loader materializes an EmbeddingTable from a table path.
type Loader interface {
	Kind() Kind
	Load(ctx context.Context, tc config.TableConfig) (*EmbeddingTable, error)
}

// NewLoader returns the loader for the given kind. ctrl may be nil
// (no host memory budget).
func NewLoader(kind Kind, ctrl *resource.Controller) Loader {
	switch kind {
	case KindMock:
		return &mockLoader{ctrl: ctrl}
	default:
		return &rawFileLoader{ctrl: ctrl}
	}
}

// Load dispatches on the table path and loads the table.
func Load(ctx context.Context, tc config.TableConfig, ctrl *resource.Controller) (*EmbeddingTable, error) {
	return NewLoader(KindForPath(tc.Path), ctrl).Load(ctx, tc)
}

// rawFileLoader reads a table from flat "key" and "emb_vector" files.
type rawFileLoader struct {
	ctrl *resource.Controller
}

func (l *rawFileLoader) Kind() Kind { return KindRawFile }

func (l *rawFileLoader) Load(ctx context.Context, tc config.TableConfig) (*EmbeddingTable, error) {
	keyPath := filepath.Join(tc.Path, KeyFileName)
	vecPath := filepath.Join(tc.Path, VecFileName)

	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("table: read keys %q: %w", keyPath, err)
	}
	vecBytes, err := os.ReadFile(vecPath)
	if err != nil {
		return nil, fmt.Errorf("table: read vectors %q: %w", vecPath, err)
	}

	keyCount := len(keyBytes) / keyFileEntrySize
	floatCount := len(vecBytes) / 4
	if floatCount != keyCount*tc.EmbeddingVecSize {
		return nil, fmt.Errorf("%w: %d floats for %d keys of width %d",
			ErrSizeMismatch, floatCount, keyCount, tc.EmbeddingVecSize)
	}

	reserve := int64(keyCount)*keyFileEntrySize + int64(floatCount)*4
	if err := l.ctrl.AcquireMemory(ctx, reserve); err != nil {
		return nil, fmt.Errorf("table: reserve host memory: %w", err)
	}

	keyWidth := tc.KeyWidthOrDefault()
	keys := make([]uint64, keyCount)
	for i := range keys {
		v := binary.LittleEndian.Uint64(keyBytes[i*keyFileEntrySize:])
		if keyWidth == config.KeyWidth32 {
			// Narrow element-wise to the table's native width.
			v = uint64(uint32(v))
		}
		keys[i] = v
	}

	vectors := OwnedBuffer(floatCount)
	dst := vectors.Floats()
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(vecBytes[i*4:]))
	}

	return &EmbeddingTable{
		name:          tc.Name,
		keyCount:      keyCount,
		keys:          keys,
		keyWidth:      keyWidth,
		vecSize:       tc.EmbeddingVecSize,
		vectors:       vectors,
		ctrl:          l.ctrl,
		reservedBytes: reserve,
	}, nil
}

// mockLoader synthesizes a table backed by the shared feature segment.
type mockLoader struct {
	ctrl *resource.Controller
}

func (l *mockLoader) Kind() Kind { return KindMock }

func (l *mockLoader) Load(ctx context.Context, tc config.TableConfig) (*EmbeddingTable, error) {
	numKeys, vecSize, err := ParseMockPath(tc.Path)
	if err != nil {
		return nil, err
	}
	if tc.EmbeddingVecSize != vecSize {
		return nil, fmt.Errorf("%w: path width %d, configured width %d", ErrMockPath, vecSize, tc.EmbeddingVecSize)
	}

	vecBytes := int64(numKeys) * int64(vecSize) * 4
	if v := os.Getenv(EnvEmptyFeat); v != "" {
		exp, err := strconv.ParseUint(v, 10, 6)
		if err != nil {
			return nil, fmt.Errorf("table: parse %s=%q: %w", EnvEmptyFeat, v, err)
		}
		// Physically map 2^exp keys while keeping the declared key space.
		vecBytes = (int64(1) << exp) * int64(vecSize) * 4
	}

	seg, err := shm.OpenOrCreate(SharedSegmentName, vecBytes)
	if err != nil {
		return nil, fmt.Errorf("table: map feature segment: %w", err)
	}

	keys := make([]uint64, numKeys)
	for i := range keys {
		keys[i] = uint64(i)
	}

	return &EmbeddingTable{
		name:     tc.Name,
		keyCount: numKeys,
		keys:     keys,
		keyWidth: tc.KeyWidthOrDefault(),
		vecSize:  vecSize,
		vectors:  SegmentBuffer(seg, int(vecBytes/4)),
		mock:     true,
		ctrl:     l.ctrl,
	}, nil
}

// ParseMockPath extracts the declared key count and row width from a
// "mock_<numKeys>_<vecSize>" path.
func ParseMockPath(path string) (numKeys, vecSize int, err error) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, MockPathPrefix) {
		return 0, 0, fmt.Errorf("%w: %q", ErrMockPath, path)
	}
	parts := strings.Split(strings.TrimPrefix(base, MockPathPrefix), "_")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrMockPath, path)
	}
	numKeys, err = strconv.Atoi(parts[0])
	if err != nil || numKeys <= 0 {
		return 0, 0, fmt.Errorf("%w: bad key count in %q", ErrMockPath, path)
	}
	vecSize, err = strconv.Atoi(parts[1])
	if err != nil || vecSize <= 0 {
		return 0, 0, fmt.Errorf("%w: bad row width in %q", ErrMockPath, path)
	}
	return numKeys, vecSize, nil
}
