// Package metrics exports pipeline events to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-rendition/pkg/rendition"
)

// DefaultNamespace prefixes every collector name.
const DefaultNamespace = "rendition"

// Deletion outcomes used as the result label.
const (
	ResultDeleted = "deleted"
	ResultMissing = "missing"
	ResultFailed  = "failed"
)

// Sink implements rendition.EventSink with Prometheus collectors.
type Sink struct {
	generated    prometheus.Counter
	encodedBytes prometheus.Counter
	skipped      *prometheus.CounterVec
	deleted      *prometheus.CounterVec
	processing   prometheus.Histogram
}

var _ rendition.EventSink = (*Sink)(nil)

// NewSink registers the pipeline collectors with reg. A nil reg falls back
// to the default registerer; collectors that already exist are reused.
func NewSink(namespace string, reg prometheus.Registerer) (*Sink, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var (
		s   Sink
		err error
	)
	if s.generated, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generated_total",
		Help:      "Renditions encoded and uploaded.",
	})); err != nil {
		return nil, err
	}
	if s.encodedBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "encoded_bytes_total",
		Help:      "Cumulative size of uploaded renditions.",
	})); err != nil {
		return nil, err
	}
	if s.skipped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skipped_total",
		Help:      "Source formats that produced no rendition, by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if s.deleted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deleted_total",
		Help:      "Rendition cleanup attempts, by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.processing, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "asset_processing_seconds",
		Help:      "Duration of one asset processing run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})); err != nil {
		return nil, err
	}
	return &s, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register rendition metric: %w", err)
	}
	return c, nil
}

func (s *Sink) RenditionCreated(ctx context.Context, assetID uuid.UUID, name string, r *rendition.Rendition) error {
	s.generated.Inc()
	if r != nil {
		s.encodedBytes.Add(float64(r.SizeBytes))
	}
	return nil
}

func (s *Sink) RenditionSkipped(ctx context.Context, assetID uuid.UUID, name string, reason error) error {
	kind := rendition.ErrorKind(reason)
	if kind == "" {
		kind = "unknown"
	}
	s.skipped.WithLabelValues(kind).Inc()
	return nil
}

func (s *Sink) AssetProcessed(ctx context.Context, result *rendition.ProcessResult, elapsed time.Duration) error {
	s.processing.Observe(elapsed.Seconds())
	return nil
}

func (s *Sink) RenditionDeleted(ctx context.Context, assetID uuid.UUID, name string, err error) error {
	s.deleted.WithLabelValues(deleteResult(err)).Inc()
	return nil
}

func deleteResult(err error) string {
	switch {
	case err == nil:
		return ResultDeleted
	case rendition.IsNotFound(err):
		return ResultMissing
	default:
		return ResultFailed
	}
}
