// Package metrics provides real-time metrics collection for the analytics service.
//
// It uses a channel-based event pipeline to asynchronously collect metrics about:
//   - Recording uploads and failures
//   - Pipeline stage durations with percentile calculations (P50, P95, P99)
//   - Realtime channel creations, rejections and failures
//   - Published live events
//
// The collector runs in a dedicated goroutine and processes events without blocking
// the request path or the pipeline workers. Events are sent via buffered channels
// with non-blocking semantics to prevent performance degradation under load.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	// Emit events during pipeline processing
//	collector.EventChannel() <- metrics.MetricEvent{
//		Type:     metrics.EventStageCompleted,
//		Stage:    "transcribe",
//		Duration: 150 * time.Millisecond,
//	}
//
//	// Get metrics snapshot
//	snapshot := collector.Snapshot()
//
// The package provides thread-safe metrics storage using sync.RWMutex and supports
// graceful shutdown with event draining to prevent data loss.
package metrics
