package api

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a resource snapshot of the honeypot process. With one
// goroutine per open session, Threads and RSS track the connection load.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
	OpenFDs    int32   `json:"open_fds,omitempty"`
	CPUPercent float64 `json:"cpu_percent"`
}

func processStats() (*ProcessStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil, err
	}
	stats := &ProcessStats{PID: p.Pid, RSSBytes: mem.RSS}
	if n, err := p.NumThreads(); err == nil {
		stats.Threads = n
	}
	// Not available on every platform.
	if n, err := p.NumFDs(); err == nil {
		stats.OpenFDs = n
	}
	if pct, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = pct
	}
	return stats, nil
}
