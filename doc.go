// Package embcache serves batched embedding-vector lookups for deployed
// recommendation models, with host-staged tables, per-replica hot-row
// caches and shared cache-effectiveness reporting.
//
// # Quick Start
//
//	ctx := context.Background()
//	sv := embcache.New(embcache.WithLogLevel(slog.LevelInfo))
//
//	if err := sv.Init(ctx, 0, "serving.json", 1024, 2); err != nil {
//	    log.Fatal(err)
//	}
//
//	out := make([]float32, len(keys)*vecSize)
//	if err := sv.Forward(ctx, "dlrm", 0, 0, keys, out); err != nil {
//	    log.Fatal(err)
//	}
//
//	status, err := sv.Shutdown(ctx) // "OK" plus final cache reports
//
// # Table Sources
//
// Table paths in the configuration either point at a directory holding the
// raw "key" and "emb_vector" files, or use the synthetic
// "mock_<numKeys>_<vecSize>" form, which synthesizes a dense table backed
// by a shared memory segment.
//
// # Key Features
//
//   - Lazily created per-replica lookup sessions with hot-row caches
//   - Exactly-once shared cache construction across replicas
//   - Cache intersection and step-profile reporting at shutdown
//   - Local and S3 staging of table files with manifest-driven batches
//   - Host memory, worker and IO throttling via a resource controller
package embcache
