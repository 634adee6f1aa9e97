package trace

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/service/timeline"
)

const sampleTrace = `{
  "traceEvents": [
    {"ph": "M", "name": "process_name", "pid": 1, "args": {"name": "Browser"}},
    {"ph": "M", "name": "process_name", "pid": 2, "args": {"name": "Renderer"}},
    {"ph": "M", "name": "process_name", "pid": 3, "args": {"name": "GPU Process"}},
    {"ph": "b", "name": "Interaction.Action_Scroll", "pid": 2, "ts": 1000, "id": "0x10"},
    {"ph": "e", "name": "Interaction.Action_Scroll", "pid": 2, "ts": 10000, "id": "0x10"},
    {"ph": "X", "name": "Interaction.Action_Tap", "pid": 2, "ts": 12000, "dur": 3000},
    {"ph": "v", "name": "periodic_interval", "pid": 1, "ts": 2000, "id": "0x1",
     "args": {"dumps": {
       "process_mmaps": {"vm_regions": [
         {"mf": "[heap]", "bs": {"pss": "64", "pd": "32"}},
         {"mf": "/dev/ashmem/foo", "bs": {"pss": "a", "sw": "2"}}
       ]},
       "allocators": {
         "malloc": {"attrs": {"size": {"type": "scalar", "units": "bytes", "value": "100"}}},
         "malloc/allocated_objects": {"attrs": {"size": {"type": "scalar", "units": "bytes", "value": "80"}}}
       }
     }}},
    {"ph": "v", "name": "periodic_interval", "pid": 2, "ts": 2001, "id": "0x1",
     "args": {"dumps": {"process_mmaps": {"vm_regions": [
       {"mf": "", "bs": {"pss": "14", "pd": "14"}}
     ]}}}},
    {"ph": "v", "name": "periodic_interval", "pid": 3, "ts": 13000, "id": 2,
     "args": {"dumps": {"process_mmaps": {"vm_regions": [
       {"mf": "[heap]", "bs": {"pss": "0x10"}}
     ]}}}},
    {"ph": "X", "name": "ThreadControllerImpl::RunTask", "pid": 1, "ts": 2500, "dur": 10}
  ]
}`

func TestParseExtractsDumpsAndInteractions(t *testing.T) {
	model, err := Parse(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	wantInteractions := []domain.Interaction{
		{Label: "Action_Scroll", Start: time.Millisecond, End: 10 * time.Millisecond},
		{Label: "Action_Tap", Start: 12 * time.Millisecond, End: 15 * time.Millisecond},
	}
	if diff := cmp.Diff(wantInteractions, model.Interactions); diff != "" {
		t.Fatalf("unexpected interactions (-want +got):\n%s", diff)
	}

	if len(model.ProcessDumps) != 3 {
		t.Fatalf("expected 3 process dumps, got %d", len(model.ProcessDumps))
	}
	browser := model.ProcessDumps[0]
	if browser.DumpID != "0x1" || browser.Category != domain.CategoryBrowser || browser.PID != 1 {
		t.Fatalf("unexpected browser dump %+v", browser)
	}
	if browser.Timestamp != 2*time.Millisecond {
		t.Fatalf("unexpected timestamp %s", browser.Timestamp)
	}
	wantUsage := map[string]float64{
		domain.MetricOverallPSS:   110,
		domain.MetricPrivateDirty: 50,
		domain.MetricSwapped:      2,
		domain.MetricJavaHeap:     0,
		domain.MetricAshmem:       10,
		domain.MetricNativeHeap:   100,
		"malloc":                  256,
	}
	if diff := cmp.Diff(wantUsage, browser.MemoryUsage); diff != "" {
		t.Fatalf("unexpected browser usage (-want +got):\n%s", diff)
	}
	if gpu := model.ProcessDumps[2]; gpu.DumpID != "2" || gpu.Category != domain.CategoryGPUProcess {
		t.Fatalf("unexpected gpu dump %+v", gpu)
	}
}

func TestParsedTraceAggregates(t *testing.T) {
	model, err := Parse(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	series, err := timeline.ComputeSeries(timeline.GroupDumps(model.ProcessDumps), model.Interactions)
	if err != nil {
		t.Fatalf("compute series: %v", err)
	}
	if diff := cmp.Diff([]float64{130, 16}, series[domain.OverallPSSTotalSeries]); diff != "" {
		t.Fatalf("unexpected totals (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{2, 1}, series[domain.ProcessCountSeries]); diff != "" {
		t.Fatalf("unexpected process counts (-want +got):\n%s", diff)
	}
}

func TestParseBareArray(t *testing.T) {
	raw := `[{"ph": "v", "pid": 7, "ts": 5, "id": "d1", "args": {"dumps": {}}}]`
	model, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(model.ProcessDumps) != 1 {
		t.Fatalf("expected 1 dump, got %d", len(model.ProcessDumps))
	}
	pd := model.ProcessDumps[0]
	if pd.Category != domain.CategoryOther {
		t.Fatalf("expected unnamed process to be other, got %s", pd.Category)
	}
	if pd.HasDetailedMetrics() {
		t.Fatal("dump without process_mmaps must not be detailed")
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"not json":         "{traceEvents",
		"bad hex":          `[{"ph": "v", "pid": 1, "ts": 1, "id": "1", "args": {"dumps": {"process_mmaps": {"vm_regions": [{"bs": {"pss": "zz"}}]}}}}]`,
		"missing id":       `[{"ph": "v", "pid": 1, "ts": 1}]`,
		"bad process":      `[{"ph": "M", "name": "process_name", "pid": 1, "args": []}]`,
		"huge dump ts":     `[{"ph": "v", "pid": 1, "ts": 1e300, "id": "1"}]`,
		"huge interaction": `[{"ph": "X", "name": "Interaction.Load", "pid": 1, "ts": 0, "dur": 1e19}]`,
		"huge async end":   `[{"ph": "b", "name": "Interaction.Load", "pid": 1, "ts": 0, "id": 1}, {"ph": "e", "name": "Interaction.Load", "pid": 1, "ts": -1e19, "id": 1}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(raw)); !errors.Is(err, ErrMalformedTrace) {
				t.Fatalf("expected ErrMalformedTrace, got %v", err)
			}
		})
	}
}
