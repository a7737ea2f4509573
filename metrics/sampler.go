package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost-go/core"
)

// SystemSample is one periodic reading of process-level figures.
// Samples are emitted to subscribers instead of being written into the
// registry directly, so logging and forwarding observers stay decoupled.
type SystemSample struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryUsedBytes uint64    `json:"memory_used_bytes"`
	MemoryPercent   float64   `json:"memory_percent"`
	Load1           float64   `json:"load_1"`
	Load5           float64   `json:"load_5"`
	Load15          float64   `json:"load_15"`
	HeapAllocBytes  uint64    `json:"heap_alloc_bytes"`
	Goroutines      int       `json:"goroutines"`
}

// Sampler runs recurring background sampling of CPU, memory and load.
// Tick failures are logged and never escalated; a broken reading must
// not crash the process.
type Sampler struct {
	logger *zap.Logger

	mu          sync.Mutex
	running     bool
	stop        chan struct{}
	done        chan struct{}
	subscribers []chan SystemSample
}

// NewSampler creates a stopped sampler
func NewSampler(logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{logger: logger.Named("sampler")}
}

// Subscribe returns a channel receiving every future sample. Delivery
// is best-effort: a subscriber that falls behind misses samples rather
// than blocking the sampling loop.
func (s *Sampler) Subscribe() <-chan SystemSample {
	ch := make(chan SystemSample, 8)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Start begins sampling at the given cadence. Calling Start twice
// without stopping is a caller error surfaced as a warning, not a
// fatal failure; the second call is ignored.
func (s *Sampler) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("periodic sampling already running, ignoring start")
		return core.ErrAlreadySampling
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go s.run(interval, stop, done)
	return nil
}

// Stop halts the recurring timer if running; idempotent
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *Sampler) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sample, err := s.collect()
			if err != nil {
				s.logger.Warn("system sample failed", zap.Error(err))
				continue
			}
			s.publish(sample)
		}
	}
}

func (s *Sampler) collect() (SystemSample, error) {
	sample := SystemSample{
		Timestamp:  time.Now().UTC(),
		Goroutines: runtime.NumGoroutine(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	sample.HeapAllocBytes = ms.HeapAlloc

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemoryUsedBytes = vm.Used
		sample.MemoryPercent = vm.UsedPercent
	}
	// Load averages are unavailable on some platforms; partial samples
	// are still published.
	if avg, err := load.Avg(); err == nil {
		sample.Load1 = avg.Load1
		sample.Load5 = avg.Load5
		sample.Load15 = avg.Load15
	}

	return sample, nil
}

func (s *Sampler) publish(sample SystemSample) {
	s.mu.Lock()
	subscribers := make([]chan SystemSample, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- sample:
		default:
			s.logger.Debug("dropping system sample for slow subscriber")
		}
	}
}
