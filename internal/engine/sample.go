package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/fiscalyze/backend/internal/classify"
)

// sample polls the child's CPU and memory while it runs and pushes a
// system-category line per sample so observers can see what a long-running
// analysis is costing. Exits on run completion, context cancellation, or
// the first failed poll (process gone).
func (r *Runner) sample(ctx context.Context, done <-chan struct{}, pid int32, sink Sink) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return
	}

	ticker := time.NewTicker(r.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cpu, err := proc.CPUPercent()
		if err != nil {
			return
		}
		var rssMB float64
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			rssMB = float64(mi.RSS) / (1024 * 1024)
		}

		sink.Line(Line{
			Text:       fmt.Sprintf("[engine] pid %d: cpu %.1f%%, rss %.0f MB", pid, cpu, rssMB),
			Category:   classify.System,
			ReceivedAt: time.Now(),
		})
	}
}
