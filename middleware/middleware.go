// Package middleware observes the host's request/response life cycle:
// it measures duration, normalizes the route, updates the metrics
// registry synchronously and forwards best-effort telemetry events
// asynchronously, never blocking the response path.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost-go/core"
	"github.com/signalpost/signalpost-go/metrics"
)

// EventSender forwards telemetry to the collection endpoint.
// *transport.Client satisfies it; tests substitute fakes.
type EventSender interface {
	SubmitEvent(ctx context.Context, event *core.Event) (map[string]interface{}, error)
	SubmitErrorReport(ctx context.Context, report *core.ErrorReport) (map[string]interface{}, error)
}

// detachedSendTimeout bounds a fire-and-forget send, retries included
const detachedSendTimeout = 30 * time.Second

// Instrumentation wraps an inbound request/response cycle, observing
// it exactly once. Metric updates are synchronous; event forwarding is
// a detached task whose failure reaches the error sink (the logger)
// and never the response already sent.
type Instrumentation struct {
	cfg      *core.Config
	registry *metrics.Registry
	sender   EventSender
	logger   *zap.Logger

	requests *metrics.Counter
	duration *metrics.Histogram
	errors   *metrics.Counter
}

// NewInstrumentation creates the middleware and registers its metrics.
// sender may be nil, in which case only the registry is updated.
func NewInstrumentation(cfg *core.Config, registry *metrics.Registry, sender EventSender, logger *zap.Logger) (*Instrumentation, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	requests, err := registry.CreateCounter(
		"http_requests_total",
		"Total inbound HTTP requests by method, route and status.",
		[]string{"method", "route", "status"},
	)
	if err != nil {
		return nil, err
	}
	duration, err := registry.CreateHistogram(
		"http_request_duration_seconds",
		"Inbound HTTP request duration by method, route and status.",
		[]string{"method", "route", "status"},
		nil,
	)
	if err != nil {
		return nil, err
	}
	errors, err := registry.CreateCounter(
		"errors_total",
		"Tracked application errors by type and severity.",
		[]string{"type", "severity"},
	)
	if err != nil {
		return nil, err
	}

	return &Instrumentation{
		cfg:      cfg,
		registry: registry,
		sender:   sender,
		logger:   logger.Named("middleware"),
		requests: requests,
		duration: duration,
		errors:   errors,
	}, nil
}

// observation is the ephemeral per-request record, owned by the
// middleware for one request and discarded after its completion hook
// runs exactly once.
type observation struct {
	start  time.Time
	method string
	route  string
	status int

	once sync.Once
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher for streaming handlers
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Handler returns the instrumentation middleware for the host's chain.
// The request flows through unaltered; completion is observed after the
// response is fully written, and only the first completion signal
// produces metrics and telemetry.
func (i *Instrumentation) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			obs := &observation{
				start:  time.Now(),
				method: r.Method,
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				obs.status = wrapped.statusCode
				obs.route = routeOf(r)
				i.complete(obs)
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}

// routeOf prefers the exact route template when the host router
// exposes one, falling back to placeholder normalization of the raw
// path.
func routeOf(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if template, err := current.GetPathTemplate(); err == nil && template != "" {
			return template
		}
	}
	return NormalizeRoute(r.URL.Path)
}

// complete runs the completion hook at most once per observation
func (i *Instrumentation) complete(obs *observation) {
	obs.once.Do(func() {
		elapsed := time.Since(obs.start)
		labels := map[string]string{
			"method": obs.method,
			"route":  obs.route,
			"status": strconv.Itoa(obs.status),
		}

		if err := i.requests.Inc(labels, 1); err != nil {
			i.logger.Warn("request counter update failed", zap.Error(err))
		}
		if err := i.duration.Observe(labels, elapsed.Seconds()); err != nil {
			i.logger.Warn("duration histogram update failed", zap.Error(err))
		}

		if i.sender == nil {
			return
		}
		event := core.NewEvent("http_request", map[string]interface{}{
			"method":      obs.method,
			"route":       obs.route,
			"status":      obs.status,
			"duration_ms": float64(elapsed.Microseconds()) / 1000.0,
		})
		event.Timestamp = obs.start.UTC()
		i.spawnDetached("request_event", func(ctx context.Context) error {
			_, err := i.sender.SubmitEvent(ctx, event)
			return err
		})
	})
}

// spawnDetached runs fn on its own goroutine with a bounded context.
// Failures and panics are captured by the error sink and never
// propagate to the request that triggered the task.
func (i *Instrumentation) spawnDetached(name string, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("detached task panicked",
					zap.String("task", name),
					zap.Any("panic", r),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), detachedSendTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			i.logger.Warn("detached task failed",
				zap.String("task", name),
				zap.Error(err),
			)
		}
	}()
}
