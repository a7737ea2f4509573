// Package health runs independent probes and reduces them to one
// overall status report.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost-go/core"
)

// Status is the reduced health of the system or of one probe
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one probe's individual outcome
type CheckResult struct {
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is produced fresh on every health-check invocation, never
// cached. Overall status is healthy only if every individual check is
// healthy; any single failing check downgrades it to degraded.
// Unhealthy is reserved for a failure of the aggregation itself.
type Report struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	CheckedAt time.Time              `json:"checked_at"`

	// Err folds every probe failure for programmatic callers
	Err error `json:"-"`
}

// Probe is one caller-supplied health check
type Probe func(ctx context.Context) error

// Pinger is the built-in transport health probe dependency
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Aggregator runs a fixed built-in transport ping plus zero or more
// registered probes. Each probe's failure is caught individually so one
// broken probe cannot suppress the results of the others.
type Aggregator struct {
	pinger Pinger
	logger *zap.Logger

	mu     sync.RWMutex
	probes map[string]Probe
}

// NewAggregator creates an aggregator around the transport ping
func NewAggregator(pinger Pinger, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		pinger: pinger,
		logger: logger.Named("health"),
		probes: make(map[string]Probe),
	}
}

// RegisterProbe adds a named probe; a later registration under the
// same name replaces the earlier one.
func (a *Aggregator) RegisterProbe(name string, probe Probe) {
	a.mu.Lock()
	a.probes[name] = probe
	a.mu.Unlock()
}

// Check runs every probe concurrently and reduces their outcomes.
func (a *Aggregator) Check(ctx context.Context) (report Report) {
	report = Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult),
		CheckedAt: time.Now().UTC(),
	}

	// A panic escaping the aggregation logic itself, not an individual
	// probe, is the one case reserved for unhealthy.
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("health aggregation panicked", zap.Any("panic", r))
			report.Status = StatusUnhealthy
			report.Err = multierr.Append(report.Err, &core.Error{
				Op:      "health.Check",
				Kind:    core.KindAggregation,
				Message: fmt.Sprintf("aggregation failed: %v", r),
				Err:     core.ErrAggregationFailed,
			})
		}
	}()

	a.mu.RLock()
	probes := make(map[string]Probe, len(a.probes)+1)
	for name, probe := range a.probes {
		probes[name] = probe
	}
	a.mu.RUnlock()
	if a.pinger != nil {
		probes["transport"] = a.pinger.HealthCheck
	}

	results := make(chan outcome, len(probes))

	var wg sync.WaitGroup
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			results <- runProbe(ctx, name, probe)
		}(name, probe)
	}
	wg.Wait()
	close(results)

	for out := range results {
		report.Checks[out.name] = out.result
		if out.err != nil {
			report.Status = StatusDegraded
			report.Err = multierr.Append(report.Err, fmt.Errorf("%s: %w", out.name, out.err))
		}
	}

	return report
}

type outcome struct {
	name   string
	result CheckResult
	err    error
}

// runProbe executes one probe with its own panic boundary
func runProbe(ctx context.Context, name string, probe Probe) (out outcome) {
	out.name = name
	start := time.Now()

	defer func() {
		out.result.Duration = time.Since(start)
		if r := recover(); r != nil {
			out.err = fmt.Errorf("probe panicked: %v", r)
		}
		if out.err != nil {
			out.result.Status = StatusUnhealthy
			out.result.Error = out.err.Error()
		} else {
			out.result.Status = StatusHealthy
		}
	}()

	out.err = probe(ctx)
	return out
}
