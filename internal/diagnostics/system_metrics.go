package diagnostics

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerMB = 1 << 20

// Default pressure limits of the host that serves analyses.
const (
	DefaultMinFreeDiskMB  = 512
	DefaultMaxMemPercent  = 90.0
	DefaultMaxLoadPerCore = 2.0
)

// SystemMetrics describes the host the engine runs on. Disk figures refer to
// the filesystem holding the SQLite stores.
type SystemMetrics struct {
	DataDir     string  `json:"data_dir"`
	DiskFreeMB  float64 `json:"disk_free_mb"`
	DiskPercent float64 `json:"disk_percent"`

	MemAvailableMB float64 `json:"mem_available_mb"`
	MemPercent     float64 `json:"mem_percent"`

	Cores       int     `json:"cores"`
	LoadAvg1    float64 `json:"load_avg_1"`
	LoadPerCore float64 `json:"load_per_core"`

	Warnings []HealthWarning `json:"warnings,omitempty"`
}

// SystemMetricsCollector samples host statistics for the health endpoint.
type SystemMetricsCollector struct {
	dataDir string
	cores   int

	MinFreeDiskMB  float64
	MaxMemPercent  float64
	MaxLoadPerCore float64
}

// NewSystemMetricsCollector reports on the filesystem holding dataDir (the
// root filesystem when empty).
func NewSystemMetricsCollector(dataDir string) *SystemMetricsCollector {
	if dataDir == "" {
		dataDir = rootDiskPath()
	}
	cores, err := cpu.Counts(true)
	if err != nil || cores < 1 {
		cores = runtime.NumCPU()
	}
	return &SystemMetricsCollector{
		dataDir:        dataDir,
		cores:          cores,
		MinFreeDiskMB:  DefaultMinFreeDiskMB,
		MaxMemPercent:  DefaultMaxMemPercent,
		MaxLoadPerCore: DefaultMaxLoadPerCore,
	}
}

// Collect samples the host. Sources that fail are left at zero and never
// raise a warning.
func (c *SystemMetricsCollector) Collect() SystemMetrics {
	m := SystemMetrics{DataDir: c.dataDir, Cores: c.cores}

	if usage, err := disk.Usage(c.dataDir); err == nil {
		m.DiskFreeMB = float64(usage.Free) / bytesPerMB
		m.DiskPercent = usage.UsedPercent
		if m.DiskFreeMB < c.MinFreeDiskMB {
			m.Warnings = append(m.Warnings, HealthWarning{
				Level:   "warning",
				Type:    "disk",
				Message: fmt.Sprintf("low disk space for data directory: %.0f MB free", m.DiskFreeMB),
				Value:   m.DiskFreeMB,
				Limit:   c.MinFreeDiskMB,
			})
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		m.MemAvailableMB = float64(vm.Available) / bytesPerMB
		m.MemPercent = vm.UsedPercent
		if m.MemPercent > c.MaxMemPercent {
			m.Warnings = append(m.Warnings, HealthWarning{
				Level:   "warning",
				Type:    "host_memory",
				Message: fmt.Sprintf("host memory usage at %.1f%%", m.MemPercent),
				Value:   m.MemPercent,
				Limit:   c.MaxMemPercent,
			})
		}
	}

	if avg, err := load.Avg(); err == nil {
		m.LoadAvg1 = avg.Load1
		m.LoadPerCore = avg.Load1 / float64(c.cores)
		if m.LoadPerCore > c.MaxLoadPerCore {
			m.Warnings = append(m.Warnings, HealthWarning{
				Level:   "warning",
				Type:    "load",
				Message: fmt.Sprintf("host load %.2f per core", m.LoadPerCore),
				Value:   m.LoadPerCore,
				Limit:   c.MaxLoadPerCore,
			})
		}
	}

	return m
}

func rootDiskPath() string {
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return drive + "\\"
	}
	return "/"
}
