package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost-go/core"
)

func TestSamplerDeliversToSubscribers(t *testing.T) {
	s := NewSampler(zap.NewNop())
	samples := s.Subscribe()

	require.NoError(t, s.Start(10*time.Millisecond))
	defer s.Stop()

	select {
	case sample := <-samples:
		assert.False(t, sample.Timestamp.IsZero())
		assert.Greater(t, sample.Goroutines, 0)
		assert.NotZero(t, sample.HeapAllocBytes)
	case <-time.After(2 * time.Second):
		t.Fatal("no sample within deadline")
	}
}

func TestSamplerDoubleStart(t *testing.T) {
	s := NewSampler(zap.NewNop())

	require.NoError(t, s.Start(time.Minute))
	defer s.Stop()

	assert.ErrorIs(t, s.Start(time.Minute), core.ErrAlreadySampling)
}

func TestSamplerStopIdempotent(t *testing.T) {
	s := NewSampler(zap.NewNop())

	// Stopping a sampler that never ran is a no-op
	s.Stop()

	require.NoError(t, s.Start(time.Minute))
	s.Stop()
	s.Stop()

	// A stopped sampler can be restarted
	require.NoError(t, s.Start(time.Minute))
	s.Stop()
}

func TestSlowSubscriberDoesNotBlockSampling(t *testing.T) {
	s := NewSampler(zap.NewNop())
	_ = s.Subscribe() // never drained

	fast := s.Subscribe()

	require.NoError(t, s.Start(5*time.Millisecond))
	defer s.Stop()

	// Even with an abandoned subscriber the loop keeps publishing
	for i := 0; i < 10; i++ {
		select {
		case <-fast:
		case <-time.After(2 * time.Second):
			t.Fatalf("sample %d not delivered", i)
		}
	}
}

func TestRegistrySamplingLifecycle(t *testing.T) {
	r := testRegistry(t)

	samples := r.SubscribeSystemSamples()
	require.NoError(t, r.StartPeriodicSampling(10*time.Millisecond))
	defer r.StopPeriodicSampling()

	assert.ErrorIs(t, r.StartPeriodicSampling(10*time.Millisecond), core.ErrAlreadySampling)

	select {
	case <-samples:
	case <-time.After(2 * time.Second):
		t.Fatal("no sample within deadline")
	}
}
