package system

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is the host state recorded next to each backup run.
type Snapshot struct {
	Hostname           string  `json:"hostname"`
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	LoadAvg1m          float64 `json:"load_1m"`
	LoadAvg5m          float64 `json:"load_5m"`
	LoadAvg15m         float64 `json:"load_15m"`

	// Backup volume
	DiskPath        string  `json:"disk_path,omitempty"`
	DiskFreeBytes   uint64  `json:"disk_free_bytes,omitempty"`
	DiskUsedPercent float64 `json:"disk_used_percent,omitempty"`
}

// Collect reads what it can. Missing readings stay zero.
func Collect(backupDir string) *Snapshot {
	s := &Snapshot{}

	if info, err := host.Info(); err == nil {
		s.Hostname = info.Hostname
	}

	// CPU usage
	cpuPercent, err := cpu.Percent(0, false)
	if err == nil && len(cpuPercent) > 0 {
		s.CPUUsagePercent = cpuPercent[0]
	}

	// Memory
	memStats, err := mem.VirtualMemory()
	if err == nil {
		s.MemoryUsagePercent = memStats.UsedPercent
	}

	// Load average
	loadStats, err := load.Avg()
	if err == nil {
		s.LoadAvg1m = loadStats.Load1
		s.LoadAvg5m = loadStats.Load5
		s.LoadAvg15m = loadStats.Load15
	}

	if backupDir != "" {
		if usage, err := disk.Usage(backupDir); err == nil {
			s.DiskPath = usage.Path
			s.DiskFreeBytes = usage.Free
			s.DiskUsedPercent = usage.UsedPercent
		}
	}

	return s
}

// LowDisk reports whether the backup volume has less than minFree bytes left.
// An unknown reading is never low.
func (s *Snapshot) LowDisk(minFree uint64) bool {
	return s != nil && s.DiskPath != "" && s.DiskFreeBytes < minFree
}
