// Package timelinetest provides fixtures for memory timeline tests.
package timelinetest

import (
	"time"

	"github.com/splax/memtimeline/internal/domain"
)

// Dump builds a domain.ProcessDump with chained setters.
type Dump struct {
	dump domain.ProcessDump
}

// NewDump starts a process dump for dumpID taken at ts milliseconds.
func NewDump(dumpID string, category domain.Category, ts float64) *Dump {
	return &Dump{dump: domain.ProcessDump{
		DumpID:      dumpID,
		Category:    category,
		Timestamp:   Millis(ts),
		MemoryUsage: map[string]float64{},
	}}
}

// PID sets the process id.
func (b *Dump) PID(pid int) *Dump {
	b.dump.PID = pid
	return b
}

// Detailed sets every detailed memory-map metric to value.
func (b *Dump) Detailed(value float64) *Dump {
	for _, metric := range domain.DetailedMetrics {
		b.dump.MemoryUsage[metric] = value
	}
	return b
}

// Metric sets a single metric.
func (b *Dump) Metric(name string, value float64) *Dump {
	b.dump.MemoryUsage[name] = value
	return b
}

// Usage merges usage into the dump's metrics.
func (b *Dump) Usage(usage map[string]float64) *Dump {
	for k, v := range usage {
		b.dump.MemoryUsage[k] = v
	}
	return b
}

// Build returns the process dump.
func (b *Dump) Build() domain.ProcessDump {
	return domain.NewProcessDump(b.dump.DumpID, b.dump.PID, b.dump.Category, b.dump.Timestamp, b.dump.MemoryUsage)
}

// Interaction returns an interaction spanning [start, end] milliseconds.
func Interaction(start, end float64) domain.Interaction {
	return domain.Interaction{Label: "Action_TestInteraction", Start: Millis(start), End: Millis(end)}
}

// Millis converts fractional milliseconds to a duration.
func Millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// Enumerated assigns 0, 1, 2, … to metrics in order.
func Enumerated(metrics []string) map[string]float64 {
	usage := make(map[string]float64, len(metrics))
	for i, metric := range metrics {
		usage[metric] = float64(i)
	}
	return usage
}

// Reversed returns a reversed copy of metrics.
func Reversed(metrics []string) []string {
	out := make([]string, len(metrics))
	for i, metric := range metrics {
		out[len(metrics)-1-i] = metric
	}
	return out
}
