// Package sampler captures global memory dumps from live processes.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/memmaps"
)

// MetricRSS is recorded for every sampled process.
const MetricRSS = "rss"

// ErrInvalidSchedule is returned by Run for a non-positive count or interval.
var ErrInvalidSchedule = errors.New("invalid sampling schedule")

// Process is one observed process. Regions is nil unless detailed
// sampling was requested.
type Process struct {
	PID     int
	Name    string
	Cmdline []string
	RSS     uint64
	Regions []memmaps.Region
}

// CollectFunc enumerates processes. Implementations skip processes that
// exit while being read.
type CollectFunc func(ctx context.Context, detailed bool) ([]Process, error)

// Options configures a Sampler.
type Options struct {
	// Match selects processes whose executable name contains it
	// (case-insensitive). Empty matches every process.
	Match    string
	Detailed bool
	Logger   *slog.Logger
	Collect  CollectFunc
}

// Sampler produces process dumps sharing a dump id per snapshot.
type Sampler struct {
	match    string
	detailed bool
	collect  CollectFunc
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	start    time.Time
}

// New constructs a Sampler. Timestamps are relative to construction time.
func New(opts Options) *Sampler {
	collect := opts.Collect
	if collect == nil {
		collect = CollectProcesses
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Sampler{
		match:    strings.ToLower(opts.Match),
		detailed: opts.Detailed,
		collect:  collect,
		logger:   logger.With("component", "sampler"),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	s.start = s.now()
	return s
}

// Snapshot captures one global dump across matching processes.
func (s *Sampler) Snapshot(ctx context.Context) ([]domain.ProcessDump, error) {
	procs, err := s.collect(ctx, s.detailed)
	if err != nil {
		return nil, fmt.Errorf("collect processes: %w", err)
	}
	dumpID := s.newID()
	ts := s.now().Sub(s.start)

	dumps := make([]domain.ProcessDump, 0, len(procs))
	skipped := 0
	for _, p := range procs {
		if s.match != "" && !strings.Contains(strings.ToLower(p.Name), s.match) {
			continue
		}
		usage := make(map[string]float64)
		if s.detailed {
			// A snapshot mixing mapped and unmapped members cannot be
			// aggregated, so unreadable processes are left out.
			if len(p.Regions) == 0 {
				skipped++
				continue
			}
			usage = memmaps.Usage(p.Regions)
		}
		usage[MetricRSS] = float64(p.RSS)
		dumps = append(dumps, domain.NewProcessDump(dumpID, p.PID, Classify(p.Cmdline), ts, usage))
	}
	s.logger.Debug("snapshot captured", "dump_id", dumpID, "processes", len(dumps), "skipped_without_maps", skipped)
	return dumps, nil
}

// Run takes n snapshots spaced by every. It stops early when ctx is done
// and returns the dumps captured so far with the context error.
func (s *Sampler) Run(ctx context.Context, every time.Duration, n int) ([]domain.ProcessDump, error) {
	if n <= 0 || every <= 0 {
		return nil, fmt.Errorf("%w: count=%d every=%s", ErrInvalidSchedule, n, every)
	}
	var all []domain.ProcessDump
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for i := 0; i < n; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return all, ctx.Err()
			case <-ticker.C:
			}
		}
		dumps, err := s.Snapshot(ctx)
		if err != nil {
			return all, err
		}
		all = append(all, dumps...)
	}
	return all, nil
}

// Classify maps a Chromium-style command line to a process category using
// its --type= switch.
func Classify(cmdline []string) domain.Category {
	for _, arg := range cmdline {
		value, ok := strings.CutPrefix(arg, "--type=")
		if !ok {
			continue
		}
		switch value {
		case "renderer":
			return domain.CategoryRenderer
		case "gpu-process":
			return domain.CategoryGPUProcess
		default:
			return domain.CategoryOther
		}
	}
	return domain.CategoryBrowser
}

// CollectProcesses reads the process table through gopsutil. In detailed
// mode Regions stays nil when the memory maps cannot be read.
func CollectProcesses(ctx context.Context, detailed bool) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		mem, err := p.MemoryInfoWithContext(ctx)
		if err != nil {
			continue
		}
		cmdline, _ := p.CmdlineSliceWithContext(ctx)
		entry := Process{PID: int(p.Pid), Name: name, Cmdline: cmdline, RSS: mem.RSS}
		if detailed {
			maps, err := p.MemoryMapsWithContext(ctx, false)
			if err == nil && maps != nil {
				entry.Regions = toRegions(*maps)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// gopsutil reports smaps sizes in kilobytes.
func toRegions(maps []process.MemoryMapsStat) []memmaps.Region {
	regions := make([]memmaps.Region, 0, len(maps))
	for _, m := range maps {
		regions = append(regions, memmaps.Region{
			Path:         m.Path,
			PSS:          m.Pss * 1024,
			PrivateDirty: m.PrivateDirty * 1024,
			PrivateClean: m.PrivateClean * 1024,
			SharedDirty:  m.SharedDirty * 1024,
			SharedClean:  m.SharedClean * 1024,
			Swapped:      m.Swap * 1024,
		})
	}
	return regions
}
