// Package trace imports memory dumps and interaction records from Chrome
// trace event format (TEF) JSON.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/memmaps"
)

// Event phases consumed by the importer.
const (
	PhaseMetadata          = "M"
	PhaseComplete          = "X"
	PhaseAsyncBegin        = "b"
	PhaseAsyncEnd          = "e"
	PhaseLegacyAsyncBegin  = "S"
	PhaseLegacyAsyncEnd    = "F"
	PhaseMemoryDumpProcess = "v"
)

// InteractionPrefix marks events that delimit an interaction record.
const InteractionPrefix = "Interaction."

// ErrMalformedTrace indicates input that is not a TEF document.
var ErrMalformedTrace = errors.New("malformed trace")

// Model is the subset of a trace relevant to memory timelines.
type Model struct {
	ProcessDumps []domain.ProcessDump
	Interactions []domain.Interaction
}

type event struct {
	Name  string          `json:"name"`
	Phase string          `json:"ph"`
	PID   int             `json:"pid"`
	TS    float64         `json:"ts"`
	Dur   float64         `json:"dur"`
	ID    json.RawMessage `json:"id,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
}

type document struct {
	TraceEvents []event `json:"traceEvents"`
}

type processNameArgs struct {
	Name string `json:"name"`
}

type memoryDumpArgs struct {
	Dumps struct {
		ProcessMmaps *struct {
			VMRegions []vmRegion `json:"vm_regions"`
		} `json:"process_mmaps"`
		Allocators map[string]allocatorDump `json:"allocators"`
	} `json:"dumps"`
}

type vmRegion struct {
	MappedFile string            `json:"mf"`
	ByteStats  map[string]string `json:"bs"`
}

type allocatorDump struct {
	Attrs map[string]struct {
		Type  string `json:"type"`
		Units string `json:"units"`
		Value string `json:"value"`
	} `json:"attrs"`
}

// Parse reads a TEF document, either the object form with a traceEvents
// array or a bare event array.
func Parse(r io.Reader) (*Model, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	events, err := decodeEvents(raw)
	if err != nil {
		return nil, err
	}

	names := make(map[int]string)
	for _, ev := range events {
		if ev.Phase == PhaseMetadata && ev.Name == "process_name" {
			var args processNameArgs
			if err := json.Unmarshal(ev.Args, &args); err != nil {
				return nil, fmt.Errorf("%w: process_name args for pid %d: %v", ErrMalformedTrace, ev.PID, err)
			}
			names[ev.PID] = args.Name
		}
	}

	model := &Model{
		ProcessDumps: make([]domain.ProcessDump, 0),
		Interactions: make([]domain.Interaction, 0),
	}
	open := make(map[string]float64)
	for _, ev := range events {
		switch {
		case ev.Phase == PhaseMemoryDumpProcess:
			pd, err := processDump(ev, names[ev.PID])
			if err != nil {
				return nil, err
			}
			model.ProcessDumps = append(model.ProcessDumps, pd)
		case strings.HasPrefix(ev.Name, InteractionPrefix):
			label := strings.TrimPrefix(ev.Name, InteractionPrefix)
			key := ev.Name + "#" + eventID(ev.ID)
			switch ev.Phase {
			case PhaseComplete:
				in, err := interaction(label, ev.TS, ev.TS+ev.Dur)
				if err != nil {
					return nil, err
				}
				model.Interactions = append(model.Interactions, in)
			case PhaseAsyncBegin, PhaseLegacyAsyncBegin:
				open[key] = ev.TS
			case PhaseAsyncEnd, PhaseLegacyAsyncEnd:
				start, ok := open[key]
				if !ok {
					continue
				}
				delete(open, key)
				in, err := interaction(label, start, ev.TS)
				if err != nil {
					return nil, err
				}
				model.Interactions = append(model.Interactions, in)
			}
		}
	}
	sort.SliceStable(model.Interactions, func(i, j int) bool {
		return model.Interactions[i].Start < model.Interactions[j].Start
	})
	return model, nil
}

func decodeEvents(raw []byte) ([]event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedTrace)
	}
	if trimmed[0] == '[' {
		var events []event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTrace, err)
		}
		return events, nil
	}
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTrace, err)
	}
	return doc.TraceEvents, nil
}

func processDump(ev event, processName string) (domain.ProcessDump, error) {
	dumpID := eventID(ev.ID)
	if dumpID == "" {
		return domain.ProcessDump{}, fmt.Errorf("%w: memory dump for pid %d at %v has no id", ErrMalformedTrace, ev.PID, ev.TS)
	}
	var args memoryDumpArgs
	if len(ev.Args) > 0 {
		if err := json.Unmarshal(ev.Args, &args); err != nil {
			return domain.ProcessDump{}, fmt.Errorf("%w: dump %s pid %d: %v", ErrMalformedTrace, dumpID, ev.PID, err)
		}
	}

	usage := make(map[string]float64)
	if mmaps := args.Dumps.ProcessMmaps; mmaps != nil {
		regions := make([]memmaps.Region, 0, len(mmaps.VMRegions))
		for _, vm := range mmaps.VMRegions {
			region, err := toRegion(vm)
			if err != nil {
				return domain.ProcessDump{}, fmt.Errorf("dump %s pid %d: %w", dumpID, ev.PID, err)
			}
			regions = append(regions, region)
		}
		for metric, value := range memmaps.Usage(regions) {
			usage[metric] = value
		}
	}
	for name, allocator := range args.Dumps.Allocators {
		if strings.Contains(name, "/") {
			continue
		}
		size, ok := allocator.Attrs["size"]
		if !ok {
			continue
		}
		value, err := parseHex(size.Value)
		if err != nil {
			return domain.ProcessDump{}, fmt.Errorf("dump %s pid %d allocator %s: %w", dumpID, ev.PID, name, err)
		}
		usage[name] = float64(value)
	}
	ts, err := micros(ev.TS)
	if err != nil {
		return domain.ProcessDump{}, fmt.Errorf("dump %s pid %d: %w", dumpID, ev.PID, err)
	}
	return domain.NewProcessDump(dumpID, ev.PID, domain.ParseCategory(processName), ts, usage), nil
}

func toRegion(vm vmRegion) (memmaps.Region, error) {
	region := memmaps.Region{Path: vm.MappedFile}
	fields := map[string]*uint64{
		"pss": &region.PSS,
		"pd":  &region.PrivateDirty,
		"pc":  &region.PrivateClean,
		"sd":  &region.SharedDirty,
		"sc":  &region.SharedClean,
		"sw":  &region.Swapped,
	}
	for key, dst := range fields {
		raw, ok := vm.ByteStats[key]
		if !ok {
			continue
		}
		value, err := parseHex(raw)
		if err != nil {
			return memmaps.Region{}, fmt.Errorf("region %q stat %s: %w", vm.MappedFile, key, err)
		}
		*dst = value
	}
	return region, nil
}

func parseHex(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty hex value", ErrMalformedTrace)
	}
	parsed, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedTrace, err)
	}
	return parsed, nil
}

// eventID normalises TEF ids, which appear both as strings and numbers.
func eventID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

func interaction(label string, startUS, endUS float64) (domain.Interaction, error) {
	start, err := micros(startUS)
	if err != nil {
		return domain.Interaction{}, fmt.Errorf("interaction %s start: %w", label, err)
	}
	end, err := micros(endUS)
	if err != nil {
		return domain.Interaction{}, fmt.Errorf("interaction %s end: %w", label, err)
	}
	return domain.Interaction{Label: label, Start: start, End: end}, nil
}

// maxMicros is the largest microsecond offset a time.Duration holds.
const maxMicros = float64(math.MaxInt64 / int64(time.Microsecond))

// micros converts a trace timestamp to a Duration, rejecting values that
// do not fit.
func micros(us float64) (time.Duration, error) {
	if math.IsNaN(us) || math.IsInf(us, 0) || math.Abs(us) >= maxMicros {
		return 0, fmt.Errorf("%w: timestamp %v out of range", ErrMalformedTrace, us)
	}
	return time.Duration(us * float64(time.Microsecond)), nil
}
