// Package signalpost is the entry point of the SignalPost telemetry
// delivery SDK. It assembles the configuration, transport client,
// metrics registry, request instrumentation and health aggregator into
// one explicit SDK value constructed once and passed by reference; the
// SDK keeps no implicit global state.
//
// Example:
//
//	sdk, err := signalpost.New(
//	    signalpost.WithCredentials("key", "secret"),
//	    signalpost.WithBaseURL("https://ingest.example.com"),
//	    signalpost.WithServiceIdentity("checkout", "1.4.2", "production"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sdk.Close()
//
//	r := mux.NewRouter()
//	r.Use(sdk.Middleware())
//	r.Handle("/metrics", sdk.MetricsHandler())
package signalpost

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost-go/core"
	"github.com/signalpost/signalpost-go/health"
	"github.com/signalpost/signalpost-go/metrics"
	"github.com/signalpost/signalpost-go/middleware"
	"github.com/signalpost/signalpost-go/transport"
)

// Re-export configuration types and options
type (
	Config      = core.Config
	Option      = core.Option
	Record      = core.Record
	UserRecord  = core.UserRecord
	DataEntry   = core.DataEntry
	Event       = core.Event
	ErrorReport = core.ErrorReport
	DataType    = core.DataType
	ListOptions = transport.ListOptions
	BatchResult = transport.BatchResult
)

// Re-export data type constants
const (
	DataTypeUser   = core.DataTypeUser
	DataTypeEvent  = core.DataTypeEvent
	DataTypeCustom = core.DataTypeCustom
)

// Re-export configuration options
var (
	NewConfig           = core.NewConfig
	DefaultConfig       = core.DefaultConfig
	WithCredentials     = core.WithCredentials
	WithBaseURL         = core.WithBaseURL
	WithTimeout         = core.WithTimeout
	WithRetry           = core.WithRetry
	WithServiceIdentity = core.WithServiceIdentity
	WithDefaultLabels   = core.WithDefaultLabels
	WithLogging         = core.WithLogging
	WithLogLevel        = core.WithLogLevel
	WithMetricsEnabled  = core.WithMetricsEnabled
	WithConfigFile      = core.WithConfigFile
)

// SDK bundles the components around one validated configuration.
// All fields are built once in New; construction order follows the
// dependency direction (config, then transport and registry, then the
// middleware and aggregator that consume them).
type SDK struct {
	cfg        *core.Config
	logger     *zap.Logger
	client     *transport.Client
	registry   *metrics.Registry
	instrument *middleware.Instrumentation
	aggregator *health.Aggregator
}

// New builds an SDK from defaults, environment and options
func New(opts ...Option) (*SDK, error) {
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds an SDK around an already-validated Config
func NewWithConfig(cfg *core.Config) (*SDK, error) {
	logger := core.NewLogger(cfg)
	client := transport.NewClient(cfg, logger)
	registry := metrics.NewRegistry(cfg, logger)

	instrument, err := middleware.NewInstrumentation(cfg, registry, client, logger)
	if err != nil {
		return nil, err
	}

	return &SDK{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		registry:   registry,
		instrument: instrument,
		aggregator: health.NewAggregator(client, logger),
	}, nil
}

// Config returns the immutable configuration snapshot
func (s *SDK) Config() *core.Config { return s.cfg }

// Client returns the transport client
func (s *SDK) Client() *transport.Client { return s.client }

// Metrics returns the metrics registry
func (s *SDK) Metrics() *metrics.Registry { return s.registry }

// Health returns the health aggregator
func (s *SDK) Health() *health.Aggregator { return s.aggregator }

// Middleware returns the request instrumentation for the host's chain
func (s *SDK) Middleware() func(http.Handler) http.Handler {
	return s.instrument.Handler()
}

// ErrorMiddleware returns the panic-tracking middleware
func (s *SDK) ErrorMiddleware() func(http.Handler) http.Handler {
	return s.instrument.ErrorHandler()
}

// TrackError records and forwards a framework-level unhandled error
func (s *SDK) TrackError(r *http.Request, body string, err error, status int) {
	s.instrument.TrackError(r, body, err, status)
}

// MetricsHandler serves the text exposition of the registry
func (s *SDK) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry.Gatherer(), promhttp.HandlerOpts{})
}

// PublishMetrics captures a fresh exposition snapshot of the registry
// and forwards it to the collection endpoint as a metrics record.
func (s *SDK) PublishMetrics(ctx context.Context) (map[string]interface{}, error) {
	exposition, err := s.registry.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.client.SubmitMetrics(ctx, &core.MetricsSnapshot{
		ExternalID: core.NewExternalID(),
		Exposition: exposition,
		CapturedAt: time.Now().UTC(),
	})
}

// CheckHealth produces a fresh health report
func (s *SDK) CheckHealth(ctx context.Context) health.Report {
	return s.aggregator.Check(ctx)
}

// Close stops background work and flushes the logger
func (s *SDK) Close() error {
	s.registry.StopPeriodicSampling()
	// Sync returns spurious errors on stderr sinks, nothing actionable
	_ = s.logger.Sync()
	return nil
}
