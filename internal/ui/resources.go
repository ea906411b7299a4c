package ui

import (
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceStats holds the operator host's resource usage
type ResourceStats struct {
	CPUPercent  float64
	MemoryUsed  uint64
	MemoryTotal uint64
	MemPercent  float64
	CPUTemp     float64 // in Celsius, -1 if unavailable
}

// GetResourceStats fetches current system resource statistics
func GetResourceStats() ResourceStats {
	stats := ResourceStats{
		CPUTemp: -1, // Default to -1 (unavailable)
	}

	// Get CPU percentage
	cpuPercent, err := cpu.Percent(0, false)
	if err == nil && len(cpuPercent) > 0 {
		stats.CPUPercent = cpuPercent[0]
	}

	// Get memory stats
	memInfo, err := mem.VirtualMemory()
	if err == nil {
		stats.MemoryUsed = memInfo.Used
		stats.MemoryTotal = memInfo.Total
		stats.MemPercent = memInfo.UsedPercent
	}

	stats.CPUTemp = getCPUTemperature()

	return stats
}

// getCPUTemperature attempts to get CPU temperature
// This is platform-specific and may not work on all systems
func getCPUTemperature() float64 {
	temps, err := host.SensorsTemperatures()
	if err != nil {
		return -1
	}

	for _, temp := range temps {
		if containsAny(temp.SensorKey, "cpu", "coretemp", "k10temp") && temp.Temperature > 0 {
			return temp.Temperature
		}
	}

	// On macOS with Apple Silicon, sensor keys are not CPU-specific
	if runtime.GOOS == "darwin" {
		for _, temp := range temps {
			if temp.Temperature > 0 && temp.Temperature < 120 {
				return temp.Temperature
			}
		}
	}

	return -1
}

// containsAny checks if s contains any of the substrings (case-insensitive)
func containsAny(s string, substrs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// FormatBytes formats bytes into a human-readable string
func FormatBytes(bytes uint64) string {
	return humanize.IBytes(bytes)
}

// Summary is the one-line resource readout used in headers
func (r ResourceStats) Summary() string {
	var parts []string
	if r.CPUPercent > 0 {
		parts = append(parts, "CPU "+humanize.FtoaWithDigits(r.CPUPercent, 1)+"%")
	}
	if r.MemoryTotal > 0 {
		parts = append(parts, "Mem "+FormatBytes(r.MemoryUsed)+"/"+FormatBytes(r.MemoryTotal))
	}
	if r.CPUTemp > 0 {
		parts = append(parts, humanize.FtoaWithDigits(r.CPUTemp, 0)+"°C")
	}
	return strings.Join(parts, " | ")
}
