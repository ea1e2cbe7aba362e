package sigberry

import "github.com/blockberries/sigberry/internal/observability"

// Metrics defines the metrics collection interface for sigberry.
// It is designed to be compatible with Prometheus and other metrics systems;
// see the prometheus subpackage for an implementation.
//
// Implementations must be safe for concurrent use.
type Metrics = observability.Metrics

// NopMetrics is a no-op metrics implementation that discards all metrics.
// It is the default when no metrics collector is configured.
type NopMetrics = observability.NopMetrics
