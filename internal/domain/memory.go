package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category is the coarse role of a process inside a process tree.
type Category string

const (
	CategoryBrowser    Category = "browser"
	CategoryRenderer   Category = "renderer"
	CategoryGPUProcess Category = "gpu_process"
	CategoryOther      Category = "other"
)

// Detailed memory-map metrics. A process dump carrying at least one of these
// was captured with memory maps.
const (
	MetricOverallPSS   = "mmaps_overall_pss"
	MetricPrivateDirty = "mmaps_private_dirty"
	MetricSwapped      = "mmaps_swapped"
	MetricJavaHeap     = "mmaps_java_heap"
	MetricAshmem       = "mmaps_ashmem"
	MetricNativeHeap   = "mmaps_native_heap"
)

// DetailedMetrics is the fixed memory-map metric family.
var DetailedMetrics = []string{
	MetricOverallPSS,
	MetricPrivateDirty,
	MetricSwapped,
	MetricJavaHeap,
	MetricAshmem,
	MetricNativeHeap,
}

// OverallPSSTotalSeries is the cross-process proportional set size series.
const OverallPSSTotalSeries = MetricOverallPSS + "_total"

// ProcessCountSeries counts every process dump of a global dump.
const ProcessCountSeries = "process_count"

// ErrInvalidInteraction indicates an interaction whose bounds are reversed.
var ErrInvalidInteraction = errors.New("invalid interaction")

// ParseCategory maps a process name such as "GPU Process" to its category.
func ParseCategory(name string) Category {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	switch normalized {
	case "browser":
		return CategoryBrowser
	case "renderer":
		return CategoryRenderer
	case "gpu_process", "gpu":
		return CategoryGPUProcess
	default:
		return CategoryOther
	}
}

// ProcessDump is one process's memory snapshot.
type ProcessDump struct {
	DumpID      string
	PID         int
	Category    Category
	Timestamp   time.Duration
	MemoryUsage map[string]float64
}

// NewProcessDump builds a ProcessDump that owns a copy of usage.
func NewProcessDump(dumpID string, pid int, category Category, ts time.Duration, usage map[string]float64) ProcessDump {
	copied := make(map[string]float64, len(usage))
	for k, v := range usage {
		copied[k] = v
	}
	return ProcessDump{
		DumpID:      dumpID,
		PID:         pid,
		Category:    category,
		Timestamp:   ts,
		MemoryUsage: copied,
	}
}

// HasDetailedMetrics reports whether memory maps were captured for the process.
func (d ProcessDump) HasDetailedMetrics() bool {
	for _, metric := range DetailedMetrics {
		if _, ok := d.MemoryUsage[metric]; ok {
			return true
		}
	}
	return false
}

// GlobalDump groups the process dumps taken together under one dump id.
type GlobalDump struct {
	ID           string
	Start        time.Duration
	End          time.Duration
	ProcessDumps []ProcessDump
}

// Interaction is a named, inclusive time range of interest.
type Interaction struct {
	Label string
	Start time.Duration
	End   time.Duration
}

// Validate rejects reversed bounds.
func (i Interaction) Validate() error {
	if i.Start > i.End {
		return fmt.Errorf("%w: %q starts at %s after its end %s", ErrInvalidInteraction, i.Label, i.Start, i.End)
	}
	return nil
}

// Contains reports whether ts falls inside the interaction, bounds included.
func (i Interaction) Contains(ts time.Duration) bool {
	return i.Start <= ts && ts <= i.End
}

// MetricSeries maps a series name to one value per contributing global dump.
type MetricSeries map[string][]float64

// Append adds value to the named series.
func (s MetricSeries) Append(name string, value float64) {
	s[name] = append(s[name], value)
}

// Lookup returns the series values and whether the series exists at all.
func (s MetricSeries) Lookup(name string) ([]float64, bool) {
	values, ok := s[name]
	return values, ok
}

// Names returns the series names in lexical order.
func (s MetricSeries) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SeriesSummary condenses a series into descriptive statistics.
type SeriesSummary struct {
	Count int
	Mean  float64
	Min   float64
	Max   float64
	P50   float64
	P90   float64
	P95   float64
	P99   float64
}

// AggregationRun is a persisted aggregation result.
type AggregationRun struct {
	ID            string
	Label         string
	DumpCount     int
	SelectedDumps int
	Interactions  []Interaction
	Series        MetricSeries
	CreatedAt     time.Time
}
