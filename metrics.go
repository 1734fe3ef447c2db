package offlinekit

import "time"

// MetricsCollector receives operational measurements from the manager.
// Implementations must be safe for concurrent use; the manager calls them
// from drain cycles and from the cached read path.
type MetricsCollector interface {
	// RecordDrainDuration reports how long a drain cycle took.
	RecordDrainDuration(d time.Duration)

	// RecordActions reports the per-cycle action counts.
	RecordActions(succeeded, failed, dropped int)

	// RecordCacheHit reports whether a cached read was served locally.
	RecordCacheHit(hit bool)
}

// NoOpMetricsCollector discards all measurements. It is the default when no
// collector is configured.
type NoOpMetricsCollector struct{}

var _ MetricsCollector = (*NoOpMetricsCollector)(nil)

func (*NoOpMetricsCollector) RecordDrainDuration(d time.Duration)          {}
func (*NoOpMetricsCollector) RecordActions(succeeded, failed, dropped int) {}
func (*NoOpMetricsCollector) RecordCacheHit(hit bool)                      {}
