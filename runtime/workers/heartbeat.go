package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

type SessionCounter interface {
	Len() int
}

// HeartbeatWorker periodically logs the health of the process:
// resident memory, CPU usage and number of live sessions.
type HeartbeatWorker struct {
	log      *slog.Logger
	sessions SessionCounter
	interval time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, sessions SessionCounter, interval time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, sessions: sessions, interval: interval}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "error", err)
				continue
			}
			w.log.Info("Heartbeat",
				"pid", p.Pid,
				"rss_bytes", rss,
				"cpu_percent", cpu,
				"sessions", w.sessions.Len())
		}
	}
}

// selfStats retrieves memory and CPU metrics for the given process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
