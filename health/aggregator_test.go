package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) HealthCheck(ctx context.Context) error { return p.err }

func TestCheckAllHealthy(t *testing.T) {
	a := NewAggregator(&stubPinger{}, zap.NewNop())
	a.RegisterProbe("cache", func(ctx context.Context) error { return nil })
	a.RegisterProbe("queue", func(ctx context.Context) error { return nil })

	report := a.Check(context.Background())

	assert.Equal(t, StatusHealthy, report.Status)
	assert.NoError(t, report.Err)
	assert.Len(t, report.Checks, 3)
	for name, result := range report.Checks {
		assert.Equal(t, StatusHealthy, result.Status, "check %s", name)
		assert.Empty(t, result.Error)
	}
	assert.False(t, report.CheckedAt.IsZero())
}

func TestCheckSingleFailureDegrades(t *testing.T) {
	a := NewAggregator(&stubPinger{}, zap.NewNop())
	a.RegisterProbe("cache", func(ctx context.Context) error { return nil })
	a.RegisterProbe("queue", func(ctx context.Context) error { return errors.New("broker down") })

	report := a.Check(context.Background())

	assert.Equal(t, StatusDegraded, report.Status)
	require.Error(t, report.Err)
	assert.Contains(t, report.Err.Error(), "broker down")

	assert.Equal(t, StatusHealthy, report.Checks["cache"].Status)
	assert.Equal(t, StatusHealthy, report.Checks["transport"].Status)
	assert.Equal(t, StatusUnhealthy, report.Checks["queue"].Status)
	assert.Equal(t, "broker down", report.Checks["queue"].Error)
}

func TestCheckTransportFailureDegrades(t *testing.T) {
	a := NewAggregator(&stubPinger{err: errors.New("connection refused")}, zap.NewNop())

	report := a.Check(context.Background())

	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Checks["transport"].Status)
}

func TestCheckProbePanicIsContained(t *testing.T) {
	a := NewAggregator(&stubPinger{}, zap.NewNop())
	a.RegisterProbe("flaky", func(ctx context.Context) error { panic("probe bug") })
	a.RegisterProbe("solid", func(ctx context.Context) error { return nil })

	report := a.Check(context.Background())

	// A broken probe degrades the system but never crashes the check or
	// hides the other results.
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Checks["flaky"].Status)
	assert.Contains(t, report.Checks["flaky"].Error, "probe bug")
	assert.Equal(t, StatusHealthy, report.Checks["solid"].Status)
}

func TestCheckMultipleFailuresFolded(t *testing.T) {
	a := NewAggregator(&stubPinger{err: errors.New("ping failed")}, zap.NewNop())
	a.RegisterProbe("cache", func(ctx context.Context) error { return errors.New("cache cold") })

	report := a.Check(context.Background())

	assert.Equal(t, StatusDegraded, report.Status)
	require.Error(t, report.Err)
	assert.Contains(t, report.Err.Error(), "ping failed")
	assert.Contains(t, report.Err.Error(), "cache cold")
}

func TestCheckNilPinger(t *testing.T) {
	a := NewAggregator(nil, zap.NewNop())
	a.RegisterProbe("cache", func(ctx context.Context) error { return nil })

	report := a.Check(context.Background())

	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Checks, 1)
	assert.NotContains(t, report.Checks, "transport")
}

func TestCheckReportsAreFresh(t *testing.T) {
	calls := 0
	a := NewAggregator(&stubPinger{}, zap.NewNop())
	a.RegisterProbe("counter", func(ctx context.Context) error {
		calls++
		return nil
	})

	first := a.Check(context.Background())
	time.Sleep(time.Millisecond)
	second := a.Check(context.Background())

	assert.Equal(t, 2, calls)
	assert.True(t, second.CheckedAt.After(first.CheckedAt))
}

func TestRegisterProbeReplaces(t *testing.T) {
	a := NewAggregator(nil, zap.NewNop())
	a.RegisterProbe("db", func(ctx context.Context) error { return errors.New("old") })
	a.RegisterProbe("db", func(ctx context.Context) error { return nil })

	report := a.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestCheckHonorsContext(t *testing.T) {
	a := NewAggregator(nil, zap.NewNop())
	a.RegisterProbe("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	report := a.Check(ctx)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusDegraded, report.Status)
	assert.ErrorIs(t, report.Err, context.DeadlineExceeded)
}
