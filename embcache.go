package embcache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/embcache/config"
	"github.com/hupe1980/embcache/lookup"
)

// EnvWorkerID names the environment variable carrying the worker id of the
// current process. Worker "0" is the designated reporter at shutdown.
const EnvWorkerID = "EMBCACHE_WORKER_ID"

// StatusOK is returned by Shutdown after successful final reporting.
const StatusOK = "OK"

// Serving is the embedding lookup serving context: one initialized
// configuration, a lookup manager with lazily created per-replica sessions,
// and final-report bookkeeping.
//
// Init runs at most once per Serving; Forward may be called concurrently
// for different (model, table, replica) triples.
type Serving struct {
	opts options

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool
	closed   atomic.Bool

	cfg             *config.ModelConfig
	manager         *lookup.Manager
	globalReplicaID int32
}

// New creates an uninitialized serving context.
func New(optFns ...Option) *Serving {
	return &Serving{opts: applyOptions(optFns)}
}

// Init loads and normalizes the configuration at configPath and wires the
// lookup manager. Only the first call does work; subsequent calls return
// the first call's result.
func (s *Serving) Init(ctx context.Context, globalReplicaID int32, configPath string, globalBatchSize, numReplicasInSync int) error {
	s.initOnce.Do(func() {
		start := time.Now()
		err := s.init(ctx, globalReplicaID, configPath, globalBatchSize, numReplicasInSync)
		s.opts.metricsCollector.RecordInit(time.Since(start), err)
		s.opts.logger.LogInit(ctx, configPath, globalReplicaID, err)
		s.initErr = translateError(err)
	})
	return s.initErr
}

func (s *Serving) init(_ context.Context, globalReplicaID int32, configPath string, globalBatchSize, numReplicasInSync int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &ConfigError{Path: configPath, cause: err}
	}

	workerID := 0
	if v := os.Getenv(EnvWorkerID); v != "" {
		workerID, err = strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Path: configPath, cause: fmt.Errorf("parse %s: %w", EnvWorkerID, err)}
		}
	}
	if err := cfg.NormalizeForWorker(workerID); err != nil {
		return &ConfigError{Path: configPath, cause: err}
	}

	mgrOpts := []lookup.ManagerOption{
		lookup.WithLogger(s.opts.logger.Logger),
		lookup.WithController(s.opts.controller),
		lookup.WithSeedBase(s.opts.seedBase),
	}
	if s.opts.reportWriter != nil {
		mgrOpts = append(mgrOpts, lookup.WithReportSink(lookup.CoordinatorConfig{Out: s.opts.reportWriter}))
	}

	mgr := lookup.NewManager(mgrOpts...)
	if err := mgr.Init(cfg, globalBatchSize, numReplicasInSync); err != nil {
		return err
	}

	s.cfg = cfg
	s.manager = mgr
	s.globalReplicaID = globalReplicaID
	s.ready.Store(true)
	return nil
}

// Initialized reports whether Init has completed successfully.
func (s *Serving) Initialized() bool {
	return s.ready.Load()
}

// GlobalReplicaID returns the replica id this context was initialized for.
func (s *Serving) GlobalReplicaID() int32 {
	return s.globalReplicaID
}

// Forward executes a batched embedding lookup, writing
// len(keys) * embedding_vec_size floats into out.
func (s *Serving) Forward(ctx context.Context, model string, tableID, replicaID int32, keys []uint64, out []float32) error {
	if !s.ready.Load() {
		return translateError(lookup.ErrNotInitialized)
	}

	start := time.Now()
	err := s.manager.Forward(ctx, model, tableID, replicaID, keys, out)
	elapsed := time.Since(start)

	s.opts.metricsCollector.RecordForward(model, len(keys), elapsed, err)
	s.opts.logger.LogForward(ctx, model, tableID, replicaID, len(keys), elapsed, err)

	return translateError(err)
}

// Shutdown flushes the final cache reports and releases tables and replica
// resources. The cache intersection report is always written; the average
// step profile is written only by the designated reporter, the process with
// EnvWorkerID set to "0". Returns StatusOK on success. Safe to call more
// than once.
func (s *Serving) Shutdown(ctx context.Context) (string, error) {
	start := time.Now()
	err := s.shutdown()
	s.opts.metricsCollector.RecordShutdown(time.Since(start), err)

	if err != nil {
		s.opts.logger.LogShutdown(ctx, "", err)
		return "", translateError(err)
	}

	s.opts.logger.LogShutdown(ctx, StatusOK, nil)
	return StatusOK, nil
}

func (s *Serving) shutdown() error {
	if !s.ready.Load() {
		return nil
	}
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if coord := s.manager.Coordinator(); coord != nil {
		coord.ReportCacheIntersect()

		if os.Getenv(EnvWorkerID) == "0" && s.cfg.Epochs > 0 && s.cfg.IterationsPerEpoch > 0 {
			coord.ReportAvg(s.cfg.Epochs-1, s.cfg.IterationsPerEpoch-1)
		}
	}

	return s.manager.Close()
}
