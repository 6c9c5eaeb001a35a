package embcache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    forwardCounter   prometheus.Counter
//	    forwardHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordForward(model string, numKeys int, duration time.Duration, err error) {
//	    p.forwardCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordInit is called once after initialization.
	// duration is the total time taken, err is nil if successful.
	RecordInit(duration time.Duration, err error)

	// RecordForward is called after each batched lookup.
	// numKeys is the number of keys requested, duration is the time taken,
	// err is nil if successful.
	RecordForward(model string, numKeys int, duration time.Duration, err error)

	// RecordBatchTransfer is called after each staged batch upload or fetch.
	// files is the number of files transferred, manifest included.
	RecordBatchTransfer(files int, duration time.Duration, err error)

	// RecordShutdown is called after shutdown reporting.
	RecordShutdown(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInit(time.Duration, error)                 {}
func (NoopMetricsCollector) RecordForward(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordBatchTransfer(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordShutdown(time.Duration, error)             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InitCount         atomic.Int64
	InitErrors        atomic.Int64
	ForwardCount      atomic.Int64
	ForwardErrors     atomic.Int64
	ForwardKeys       atomic.Int64
	ForwardTotalNanos atomic.Int64
	TransferCount     atomic.Int64
	TransferErrors    atomic.Int64
	TransferFiles     atomic.Int64
	ShutdownCount     atomic.Int64
	ShutdownErrors    atomic.Int64
}

// RecordInit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInit(duration time.Duration, err error) {
	b.InitCount.Add(1)
	if err != nil {
		b.InitErrors.Add(1)
	}
}

// RecordForward implements MetricsCollector.
func (b *BasicMetricsCollector) RecordForward(model string, numKeys int, duration time.Duration, err error) {
	b.ForwardCount.Add(1)
	b.ForwardKeys.Add(int64(numKeys))
	b.ForwardTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ForwardErrors.Add(1)
	}
}

// RecordBatchTransfer implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatchTransfer(files int, duration time.Duration, err error) {
	b.TransferCount.Add(1)
	b.TransferFiles.Add(int64(files))
	if err != nil {
		b.TransferErrors.Add(1)
	}
}

// RecordShutdown implements MetricsCollector.
func (b *BasicMetricsCollector) RecordShutdown(duration time.Duration, err error) {
	b.ShutdownCount.Add(1)
	if err != nil {
		b.ShutdownErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InitCount:       b.InitCount.Load(),
		InitErrors:      b.InitErrors.Load(),
		ForwardCount:    b.ForwardCount.Load(),
		ForwardErrors:   b.ForwardErrors.Load(),
		ForwardKeys:     b.ForwardKeys.Load(),
		ForwardAvgNanos: b.getAvgForwardNanos(),
		TransferCount:   b.TransferCount.Load(),
		TransferErrors:  b.TransferErrors.Load(),
		TransferFiles:   b.TransferFiles.Load(),
		ShutdownCount:   b.ShutdownCount.Load(),
		ShutdownErrors:  b.ShutdownErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgForwardNanos() int64 {
	count := b.ForwardCount.Load()
	if count == 0 {
		return 0
	}
	return b.ForwardTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InitCount       int64
	InitErrors      int64
	ForwardCount    int64
	ForwardErrors   int64
	ForwardKeys     int64
	ForwardAvgNanos int64
	TransferCount   int64
	TransferErrors  int64
	TransferFiles   int64
	ShutdownCount   int64
	ShutdownErrors  int64
}
