// Package sysinfo reports the server's own vitals for health checks.
package sysinfo

import (
	"os"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Snapshot collects host and process information. Fields that cannot be read
// are simply omitted; a health check should not fail because a probe did.
func Snapshot() map[string]any {
	info := make(map[string]any)

	if h, err := host.Info(); err == nil {
		info["hostname"] = h.Hostname
		info["platform"] = h.Platform
		info["os"] = h.OS
		info["uptime_sec"] = h.Uptime
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info["memory_total_mb"] = vm.Total / 1024 / 1024
		info["memory_used_pct"] = vm.UsedPercent
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if m, err := p.MemoryInfo(); err == nil {
			info["process_rss_mb"] = m.RSS / 1024 / 1024
		}
	}

	return info
}
