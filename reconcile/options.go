package reconcile

import (
	"time"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/detect"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/metrics"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/strategy"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/syncqueue"
)

type serviceOptions struct {
	registry   *strategy.Registry
	queue      *syncqueue.Queue
	queueCfg   syncqueue.Config
	detector   *detect.Detector
	failClosed bool
	logger     *logging.Logger
	metrics    metrics.Collector
	now        func() time.Time
	newID      func() string
}

// Option configures a Service.
type Option interface{ apply(*serviceOptions) }

type optionFn func(*serviceOptions)

func (f optionFn) apply(o *serviceOptions) { f(o) }

// WithRegistry uses r instead of a registry built over the service store.
func WithRegistry(r *strategy.Registry) Option {
	return optionFn(func(o *serviceOptions) { o.registry = r })
}

// WithQueue uses q for replication instead of building one.
func WithQueue(q *syncqueue.Queue) Option {
	return optionFn(func(o *serviceOptions) { o.queue = q })
}

// WithQueueConfig configures the queue the service builds. Ignored when
// WithQueue is given.
func WithQueueConfig(cfg syncqueue.Config) Option {
	return optionFn(func(o *serviceOptions) { o.queueCfg = cfg })
}

// WithDetector uses d for conflict detection.
func WithDetector(d *detect.Detector) Option {
	return optionFn(func(o *serviceOptions) { o.detector = d })
}

// WithFailClosedDetection makes RecordConflict record a conflict when
// detection itself fails.
func WithFailClosedDetection() Option {
	return optionFn(func(o *serviceOptions) { o.failClosed = true })
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return optionFn(func(o *serviceOptions) { o.logger = l })
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return optionFn(func(o *serviceOptions) { o.metrics = m })
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return optionFn(func(o *serviceOptions) { o.now = now })
}

// WithIDGenerator overrides the conflict and sync entry id source.
func WithIDGenerator(f func() string) Option {
	return optionFn(func(o *serviceOptions) { o.newID = f })
}
