package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ResourceSnapshot captures process resource state at a point in time.
type ResourceSnapshot struct {
	Timestamp     time.Time     `json:"timestamp"`
	Goroutines    int           `json:"goroutines"`
	HeapAllocMB   float64       `json:"heap_alloc_mb"`
	HeapInUseMB   float64       `json:"heap_in_use_mb"`
	StackInUseMB  float64       `json:"stack_in_use_mb"`
	RSSMB         float64       `json:"rss_mb"`
	OpenFDs       int           `json:"open_fds"`
	NumGC         uint32        `json:"num_gc"`
	GCPauseNS     uint64        `json:"gc_pause_ns"`
	ProcessUptime time.Duration `json:"process_uptime"`
}

// HealthWarning represents a single resource concern.
type HealthWarning struct {
	Level   string  `json:"level"` // "warning" or "critical"
	Type    string  `json:"type"`  // "goroutine", "memory"
	Message string  `json:"message"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
}

// MonitorConfig configures a ResourceMonitor. Zero thresholds disable the
// corresponding check.
type MonitorConfig struct {
	Interval           time.Duration
	GoroutineThreshold int
	MemoryThresholdMB  int
	HistorySize        int
}

// ResourceMonitor samples the process periodically.
type ResourceMonitor struct {
	cfg    MonitorConfig
	logger *slog.Logger
	proc   *process.Process

	history []ResourceSnapshot
	mu      sync.RWMutex

	stopCh  chan struct{}
	stopped atomic.Bool
	started time.Time
}

// NewResourceMonitor creates a monitor for the current process.
func NewResourceMonitor(cfg MonitorConfig, logger *slog.Logger) *ResourceMonitor {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 120 // one hour at 30s intervals
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	// A missing process handle only disables RSS and FD sampling.
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &ResourceMonitor{
		cfg:     cfg,
		logger:  logger,
		proc:    proc,
		history: make([]ResourceSnapshot, 0, cfg.HistorySize),
		stopCh:  make(chan struct{}),
		started: time.Now(),
	}
}

// Start begins periodic sampling until ctx is done or Stop is called.
func (m *ResourceMonitor) Start(ctx context.Context) {
	go func() {
		m.recordSnapshot(m.TakeSnapshot())

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.recordSnapshot(m.TakeSnapshot())
				for _, w := range m.CheckHealth() {
					m.logger.Warn("resource threshold exceeded",
						"level", w.Level,
						"type", w.Type,
						"message", w.Message,
					)
				}
			}
		}
	}()
}

// Stop halts sampling. It is safe to call more than once.
func (m *ResourceMonitor) Stop() {
	if m.stopped.CompareAndSwap(false, true) {
		close(m.stopCh)
	}
}

// TakeSnapshot samples the process now.
func (m *ResourceMonitor) TakeSnapshot() ResourceSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s := ResourceSnapshot{
		Timestamp:     time.Now(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(memStats.HeapAlloc) / 1024 / 1024,
		HeapInUseMB:   float64(memStats.HeapInuse) / 1024 / 1024,
		StackInUseMB:  float64(memStats.StackInuse) / 1024 / 1024,
		NumGC:         memStats.NumGC,
		GCPauseNS:     memStats.PauseNs[(memStats.NumGC+255)%256],
		ProcessUptime: time.Since(m.started),
	}
	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil {
			s.RSSMB = float64(info.RSS) / 1024 / 1024
		}
		if fds, err := m.proc.NumFDs(); err == nil {
			s.OpenFDs = int(fds)
		}
	}
	return s
}

func (m *ResourceMonitor) recordSnapshot(s ResourceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, s)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
}

// GetHistory returns recorded snapshots, oldest first.
func (m *ResourceMonitor) GetHistory() []ResourceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ResourceSnapshot, len(m.history))
	copy(result, m.history)
	return result
}

// GetLatest returns the most recent snapshot.
func (m *ResourceMonitor) GetLatest() (ResourceSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return ResourceSnapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// CheckHealth returns warnings for exceeded thresholds.
func (m *ResourceMonitor) CheckHealth() []HealthWarning {
	snapshot, ok := m.GetLatest()
	if !ok {
		snapshot = m.TakeSnapshot()
	}

	var warnings []HealthWarning

	if limit := m.cfg.GoroutineThreshold; limit > 0 && snapshot.Goroutines > limit {
		level := "warning"
		if snapshot.Goroutines > limit*2 {
			level = "critical"
		}
		warnings = append(warnings, HealthWarning{
			Level:   level,
			Type:    "goroutine",
			Message: fmt.Sprintf("Goroutine count at %d (threshold: %d)", snapshot.Goroutines, limit),
			Value:   float64(snapshot.Goroutines),
			Limit:   float64(limit),
		})
	}

	if limit := m.cfg.MemoryThresholdMB; limit > 0 && snapshot.HeapAllocMB > float64(limit) {
		level := "warning"
		if snapshot.HeapAllocMB > float64(limit)*1.5 {
			level = "critical"
		}
		warnings = append(warnings, HealthWarning{
			Level:   level,
			Type:    "memory",
			Message: fmt.Sprintf("Heap usage at %.1f MB (threshold: %d MB)", snapshot.HeapAllocMB, limit),
			Value:   snapshot.HeapAllocMB,
			Limit:   float64(limit),
		})
	}

	return warnings
}

// Uptime returns the time since the monitor was created.
func (m *ResourceMonitor) Uptime() time.Duration {
	return time.Since(m.started)
}
