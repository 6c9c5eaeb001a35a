// Package lookup routes batched embedding lookups to per-replica sessions,
// coordinates one-time shared-cache construction across replicas and tracks
// cache effectiveness for reporting.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/embcache/config"
	"github.com/hupe1980/embcache/device"
	"github.com/hupe1980/embcache/resource"
	"github.com/hupe1980/embcache/table"
)

// ErrNotFound is returned when a lookup names an unregistered model, table
// or replica. The caller may re-register and retry.
var ErrNotFound = errors.New("lookup: not found")

// ErrNotInitialized is returned when Forward is called before Init.
var ErrNotInitialized = errors.New("lookup: manager not initialized")

// defaultCacheRows sizes the per-session hot-row cache when the model
// config gives no batch size to derive it from.
const defaultCacheRows = 4096

// tableKey identifies a loaded table shared by all replica sessions.
type tableKey struct {
	Model   string
	TableID int32
}

// Manager owns the session registry and the shared cache coordinator.
//
// Sessions are created lazily on first Forward for their triple; the
// registry is an index-addressed arena so a session, once created, keeps
// its slot for the manager's lifetime. Concurrent Forward calls for
// different triples run in parallel; calls for the same triple must be
// serialized by the caller.
type Manager struct {
	log  *slog.Logger
	ctrl *resource.Controller
	out  *CoordinatorConfig // report sink overrides, optional

	initMu      sync.Mutex
	initialized bool
	cfg         *config.ModelConfig
	globalBatch int
	numReplicas int

	mu       sync.RWMutex
	index    map[SessionKey]int
	arena    []*Session
	tables   map[tableKey]*table.EmbeddingTable
	bundles  map[int32]*device.ResourceBundle
	seedBase int64

	gate       *OnceGate
	coord      atomic.Pointer[CacheCoordinator]
	coordBuilt atomic.Int64 // construction counter, observable in tests
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithController sets the host resource controller used for table staging.
func WithController(ctrl *resource.Controller) ManagerOption {
	return func(m *Manager) { m.ctrl = ctrl }
}

// WithReportSink overrides where the coordinator writes its reports.
func WithReportSink(cfg CoordinatorConfig) ManagerOption {
	return func(m *Manager) { m.out = &cfg }
}

// WithSeedBase sets the base seed for the per-replica random generators.
func WithSeedBase(seed int64) ManagerOption {
	return func(m *Manager) { m.seedBase = seed }
}

// NewManager creates an uninitialized manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		log:      slog.Default(),
		index:    make(map[SessionKey]int),
		tables:   make(map[tableKey]*table.EmbeddingTable),
		bundles:  make(map[int32]*device.ResourceBundle),
		gate:     NewOnceGate(),
		seedBase: 42,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init wires the manager to a normalized model configuration. Repeated
// calls after the first are no-ops. Per-replica session infrastructure is
// not built here; it is created lazily on first Forward per triple.
func (m *Manager) Init(cfg *config.ModelConfig, globalBatchSize, numReplicasInSync int) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.initialized {
		return nil
	}
	if cfg == nil {
		return fmt.Errorf("lookup: nil config")
	}
	if numReplicasInSync <= 0 {
		return fmt.Errorf("lookup: num replicas in sync must be positive, got %d", numReplicasInSync)
	}

	m.cfg = cfg
	m.globalBatch = globalBatchSize
	m.numReplicas = numReplicasInSync
	m.initialized = true

	m.log.Info("lookup manager initialized",
		"models", len(cfg.Models),
		"global_batch_size", globalBatchSize,
		"num_replicas", numReplicasInSync,
	)
	return nil
}

// Initialized reports whether Init has completed.
func (m *Manager) Initialized() bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.initialized
}

// Coordinator returns the shared cache coordinator, or nil before the
// first Forward call constructs it.
func (m *Manager) Coordinator() *CacheCoordinator {
	return m.coord.Load()
}

// CoordinatorConstructions returns how many times the shared coordinator
// has been constructed. It is 1 after any number of concurrent first calls.
func (m *Manager) CoordinatorConstructions() int64 {
	return m.coordBuilt.Load()
}

func (m *Manager) ensureCoordinator() (*CacheCoordinator, error) {
	if c := m.coord.Load(); c != nil {
		return c, nil
	}
	err := m.gate.Do(func() error {
		ccfg := CoordinatorConfig{
			NumReplicas:        m.numReplicas,
			Epochs:             m.cfg.Epochs,
			IterationsPerEpoch: m.cfg.IterationsPerEpoch,
			Logger:             m.log,
		}
		if m.out != nil {
			ccfg.Out = m.out.Out
		}
		m.coord.Store(NewCacheCoordinator(ccfg))
		m.coordBuilt.Add(1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.coord.Load(), nil
}

// session returns the session for key, creating it (plus its table and
// replica bundle) on first use. First-creation races resolve to a single
// winner under the registry lock.
func (m *Manager) session(ctx context.Context, key SessionKey) (*Session, error) {
	m.mu.RLock()
	if i, ok := m.index[key]; ok {
		s := m.arena[i]
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	entry := m.cfg.Model(key.Model)
	if entry == nil {
		return nil, fmt.Errorf("%w: model %q", ErrNotFound, key.Model)
	}
	tc := m.cfg.Table(key.Model, key.TableID)
	if tc == nil {
		return nil, fmt.Errorf("%w: model %q table %d", ErrNotFound, key.Model, key.TableID)
	}
	if key.ReplicaID < 0 || int(key.ReplicaID) >= m.numReplicas {
		return nil, fmt.Errorf("%w: replica %d of %d", ErrNotFound, key.ReplicaID, m.numReplicas)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[key]; ok {
		return m.arena[i], nil
	}

	tb, err := m.tableLocked(ctx, key, *tc)
	if err != nil {
		return nil, err
	}
	bundle := m.bundleLocked(key.ReplicaID)

	cacheRows := defaultCacheRows
	if entry.MaxBatchSize > 0 {
		cacheRows = entry.MaxBatchSize * 4
	}
	s := newSession(key, tb, bundle, entry.DefaultValue, cacheRows)
	m.index[key] = len(m.arena)
	m.arena = append(m.arena, s)

	m.log.Info("lookup session created",
		"session", key.String(),
		"table", tb.Name(),
		"mock", tb.IsMock(),
	)
	return s, nil
}

func (m *Manager) tableLocked(ctx context.Context, key SessionKey, tc config.TableConfig) (*table.EmbeddingTable, error) {
	tk := tableKey{Model: key.Model, TableID: key.TableID}
	if tb, ok := m.tables[tk]; ok {
		return tb, nil
	}
	start := time.Now()
	tb, err := table.Load(ctx, tc, m.ctrl)
	if err != nil {
		return nil, err
	}
	m.tables[tk] = tb
	m.log.Info("embedding table loaded",
		"table", tb.Name(),
		"keys", tb.KeyCount(),
		"vec_size", tb.VecSize(),
		"mock", tb.IsMock(),
		"elapsed", time.Since(start),
	)
	return tb, nil
}

func (m *Manager) bundleLocked(replica int32) *device.ResourceBundle {
	if b, ok := m.bundles[replica]; ok {
		return b
	}
	b := device.NewResourceBundle(
		int(replica), int(replica), int(replica),
		m.seedBase, m.seedBase+int64(replica)+1,
		nil,
	)
	m.bundles[replica] = b
	return b
}

// Forward executes a batched lookup for the (model, tableID, replicaID)
// triple, writing len(keys)*vecSize floats into out. The session is
// created on first use; the shared cache coordinator is constructed exactly
// once across all replicas on first need.
func (m *Manager) Forward(ctx context.Context, model string, tableID, replicaID int32, keys []uint64, out []float32) error {
	if !m.Initialized() {
		return ErrNotInitialized
	}

	coord, err := m.ensureCoordinator()
	if err != nil {
		return fmt.Errorf("lookup: build cache coordinator: %w", err)
	}

	key := SessionKey{Model: model, TableID: tableID, ReplicaID: replicaID}
	s, err := m.session(ctx, key)
	if err != nil {
		return err
	}

	step := coord.RecordStep(replicaID)
	hits0, misses0 := s.CacheStats()

	start := time.Now()
	if err := s.Forward(keys, out); err != nil {
		return err
	}
	coord.RecordCacheCopyTime(replicaID, step, time.Since(start))

	hits1, misses1 := s.CacheStats()
	coord.RecordLookup(replicaID, hits1-hits0, misses1-misses0)
	coord.RecordAccess(replicaID, keys)

	return nil
}

// Close deletes loaded tables and releases replica bundles. The final
// reports must be flushed before closing.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for tk, tb := range m.tables {
		if err := tb.Delete(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.tables, tk)
	}
	for id, b := range m.bundles {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.bundles, id)
	}
	m.index = make(map[SessionKey]int)
	m.arena = nil
	return firstErr
}
