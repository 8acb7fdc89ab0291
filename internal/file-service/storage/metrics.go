package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for file operations.
type Observer interface {
	RecordUpload(duration time.Duration, sizeBytes uint64, err error)
	RecordDelete(duration time.Duration, err error)
	RecordDownload(duration time.Duration, err error)
}

// PrometheusObserver exports file operation metrics to Prometheus.
type PrometheusObserver struct {
	duration      *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	uploadedBytes prometheus.Counter
}

// NewPrometheusObserver registers the operation metrics on reg, or on the
// default registerer when reg is nil.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "file_service"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of file operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed file operations.",
		}, []string{"operation"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes of successfully uploaded files.",
		}),
	}

	if err := register(reg, o.duration, func(c prometheus.Collector) { o.duration = c.(*prometheus.HistogramVec) }); err != nil {
		return nil, err
	}
	if err := register(reg, o.failures, func(c prometheus.Collector) { o.failures = c.(*prometheus.CounterVec) }); err != nil {
		return nil, err
	}
	if err := register(reg, o.uploadedBytes, func(c prometheus.Collector) { o.uploadedBytes = c.(prometheus.Counter) }); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, reusing the collector registered before under
// the same name.
func register(reg prometheus.Registerer, c prometheus.Collector, reuse func(prometheus.Collector)) error {
	err := reg.Register(c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		reuse(are.ExistingCollector)
		return nil
	}
	return fmt.Errorf("register file service metric: %w", err)
}

func (o *PrometheusObserver) RecordUpload(duration time.Duration, sizeBytes uint64, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues("upload").Observe(duration.Seconds())
	if err != nil {
		o.failures.WithLabelValues("upload").Inc()
		return
	}
	o.uploadedBytes.Add(float64(sizeBytes))
}

func (o *PrometheusObserver) RecordDelete(duration time.Duration, err error) {
	recordOperation(o, "delete", duration, err)
}

func (o *PrometheusObserver) RecordDownload(duration time.Duration, err error) {
	recordOperation(o, "download", duration, err)
}

func recordOperation(o *PrometheusObserver, op string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		o.failures.WithLabelValues(op).Inc()
	}
}

type nopObserver struct{}

func (nopObserver) RecordUpload(time.Duration, uint64, error) {}

func (nopObserver) RecordDelete(time.Duration, error) {}

func (nopObserver) RecordDownload(time.Duration, error) {}
