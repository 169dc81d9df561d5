package telemetry

import (
	"context"
	"time"

	recist "github.com/recist/recist/internal/model"
)

// EventsSource is the cluster.Client method EventsAdapter wraps. It is
// declared here rather than importing internal/cluster directly so the
// telemetry package's adapters — metrics, logs, events — stay peers of
// each other instead of one depending on the mutation-surface package.
type EventsSource interface {
	ListEvents(ctx context.Context, target recist.Target, since time.Duration) ([]recist.ClusterEvent, error)
}

// EventsAdapter is the third leg of the Diagnosis Agent's evidence
// assembly, alongside MetricsAdapter and LogsAdapter: the cluster event
// stream, queried per target over a lookback window the same way the
// other two sources are, so Assemble can treat metrics, logs, and
// events uniformly when building a TelemetrySlice.
type EventsAdapter struct {
	source EventsSource
}

func NewEventsAdapter(source EventsSource) *EventsAdapter {
	return &EventsAdapter{source: source}
}

func (e *EventsAdapter) QueryRange(ctx context.Context, target recist.Target, window time.Duration) ([]recist.ClusterEvent, error) {
	return e.source.ListEvents(ctx, target, window)
}
