package telemetry

import (
	"context"
	"errors"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	recist "github.com/recist/recist/internal/model"
)

// MetricsAdapter queries a Prometheus-compatible backend for the range
// series a TelemetrySlice needs, wrapping api/prometheus/v1's client
// the way platformbuilds-mirador-rca's extractors wrap their metrics
// backend.
type MetricsAdapter struct {
	api promv1.API
}

func NewMetricsAdapter(baseURL string) (*MetricsAdapter, error) {
	client, err := promapi.NewClient(promapi.Config{Address: baseURL})
	if err != nil {
		return nil, &recist.BackendUnavailable{Backend: "prometheus", Op: "NewMetricsAdapter", Err: err}
	}
	return &MetricsAdapter{api: promv1.NewAPI(client)}, nil
}

// QueryRange runs a PromQL range query over the window ending at now,
// distinguishing connection failures from deadline overruns.
func (m *MetricsAdapter) QueryRange(ctx context.Context, promQL string, window time.Duration, step time.Duration) (recist.MetricSeries, error) {
	series := recist.MetricSeries{Name: promQL, Labels: map[string]string{}}
	err := withRetry(ctx, isRetryable, func(ctx context.Context) error {
		end := time.Now()
		r := promv1.Range{Start: end.Add(-window), End: end, Step: step}
		value, warnings, err := m.api.QueryRange(ctx, promQL, r)
		if err != nil {
			return classify(err, "prometheus", "QueryRange")
		}
		_ = warnings
		matrix, ok := value.(model.Matrix)
		if !ok {
			return &recist.ParseError{Backend: "prometheus", Op: "QueryRange", Err: errUnexpectedType}
		}
		for _, stream := range matrix {
			for k, v := range stream.Metric {
				series.Labels[string(k)] = string(v)
			}
			for _, p := range stream.Values {
				series.Points = append(series.Points, recist.MetricPoint{
					Time:  p.Timestamp.Time(),
					Value: float64(p.Value),
				})
			}
		}
		return nil
	})
	return series, err
}

var errUnexpectedType = &typeErr{}

type typeErr struct{}

func (*typeErr) Error() string { return "prometheus query did not return a range matrix" }

func classify(err error, backend, op string) error {
	if ctxDeadline(err) {
		return &recist.BackendTimeout{Backend: backend, Op: op, Err: err}
	}
	return &recist.BackendUnavailable{Backend: backend, Op: op, Err: err}
}

func ctxDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func isRetryable(err error) bool {
	switch err.(type) {
	case *recist.BackendUnavailable, *recist.BackendTimeout:
		return true
	default:
		return false
	}
}
