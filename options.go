package embcache

import (
	"io"
	"log/slog"

	"github.com/hupe1980/embcache/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	controller       *resource.Controller
	reportWriter     io.Writer // overrides where final reports go
	seedBase         int64
}

// Option configures Serving constructor behavior.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := embcache.NewJSONLogger(slog.LevelInfo)
//	sv := embcache.New(embcache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &embcache.BasicMetricsCollector{}
//	sv := embcache.New(embcache.WithMetricsCollector(metrics))
//	// ... use sv ...
//	stats := metrics.GetStats()
//	fmt.Printf("Forwards: %d, Avg latency: %dns\n", stats.ForwardCount, stats.ForwardAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithController configures the host resource controller shared by table
// staging and batch transfers.
func WithController(ctrl *resource.Controller) Option {
	return func(o *options) {
		o.controller = ctrl
	}
}

// WithReportWriter redirects the final cache reports. Defaults to stdout.
func WithReportWriter(w io.Writer) Option {
	return func(o *options) {
		o.reportWriter = w
	}
}

// WithSeedBase sets the base seed for per-replica random generators.
func WithSeedBase(seed int64) Option {
	return func(o *options) {
		o.seedBase = seed
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		seedBase:         42,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
