package timeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/splax/memtimeline/internal/domain"
	tt "github.com/splax/memtimeline/internal/service/timeline/timelinetest"
)

func overallPSSTotal(t *testing.T, dumps []domain.ProcessDump, interactions ...domain.Interaction) []float64 {
	t.Helper()
	series, err := ComputeSeries(GroupDumps(dumps), interactions)
	if err != nil {
		t.Fatalf("compute series: %v", err)
	}
	values, ok := series.Lookup(domain.OverallPSSTotalSeries)
	if !ok {
		t.Fatalf("expected %s series, got %v", domain.OverallPSSTotalSeries, series.Names())
	}
	return values
}

func TestComputeSeriesSingleDump(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(123).Build(),
	}
	got := overallPSSTotal(t, dumps, tt.Interaction(1, 10))
	if diff := cmp.Diff([]float64{123}, got); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesMultipleDumps(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(123).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 5).Detailed(456).Build(),
	}
	got := overallPSSTotal(t, dumps, tt.Interaction(1, 10))
	if diff := cmp.Diff([]float64{123, 456}, got); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesMultipleInteractions(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(123).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 5).Detailed(456).Build(),
		tt.NewDump("dump3", domain.CategoryBrowser, 13).Detailed(789).Build(),
	}
	got := overallPSSTotal(t, dumps, tt.Interaction(1, 10), tt.Interaction(12, 15))
	if diff := cmp.Diff([]float64{123, 456, 789}, got); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesFiltersDumpsOutsideInteractions(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 1).Detailed(111).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 5).Detailed(123).Build(),
		tt.NewDump("dump3", domain.CategoryBrowser, 11).Detailed(456).Build(),
		tt.NewDump("dump4", domain.CategoryBrowser, 13).Detailed(555).Build(),
		tt.NewDump("dump5", domain.CategoryBrowser, 17).Detailed(789).Build(),
	}
	got := overallPSSTotal(t, dumps, tt.Interaction(3, 10), tt.Interaction(12, 15))
	if diff := cmp.Diff([]float64{123, 555}, got); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesWithoutMemoryMaps(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Metric("blink", 123).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 5).Metric("blink", 456).Build(),
	}
	series, err := ComputeSeries(GroupDumps(dumps), []domain.Interaction{tt.Interaction(1, 10)})
	if err != nil {
		t.Fatalf("compute series: %v", err)
	}
	want := domain.MetricSeries{
		"blink_total":   {123, 456},
		"blink_browser": {123, 456},
		"process_count": {1, 1},
		"browser_count": {1, 1},
	}
	if diff := cmp.Diff(want, series); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesRejectsMixedMemoryMapsAcrossDumps(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(123).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 5).Build(),
	}
	series, err := ComputeSeries(GroupDumps(dumps), []domain.Interaction{tt.Interaction(1, 10)})
	if series != nil {
		t.Fatalf("expected no series on failure, got %v", series)
	}
	var inconsistent *InconsistentDetailedMetricsError
	if !errors.As(err, &inconsistent) {
		t.Fatalf("expected InconsistentDetailedMetricsError, got %v", err)
	}
	if inconsistent.DumpID != "dump2" || inconsistent.ReferenceDumpID != "dump1" {
		t.Fatalf("unexpected error context: %+v", inconsistent)
	}
	if inconsistent.Detailed {
		t.Fatalf("expected offending dump to lack memory maps")
	}
}

func TestComputeSeriesRejectsMixedMemoryMapsAmongSiblings(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryRenderer, 2).PID(10).Detailed(100).Build(),
		tt.NewDump("dump1", domain.CategoryRenderer, 2).PID(11).Build(),
	}
	_, err := ComputeSeries(GroupDumps(dumps), []domain.Interaction{tt.Interaction(1, 10)})
	var inconsistent *InconsistentDetailedMetricsError
	if !errors.As(err, &inconsistent) {
		t.Fatalf("expected InconsistentDetailedMetricsError, got %v", err)
	}
	if inconsistent.DumpID != "dump1" || inconsistent.ReferenceDumpID != "dump1" {
		t.Fatalf("expected sibling disagreement in dump1, got %+v", inconsistent)
	}
	if inconsistent.PID != 11 || inconsistent.ReferencePID != 10 {
		t.Fatalf("unexpected pids: %+v", inconsistent)
	}
	if errors.Is(err, domain.ErrInvalidInteraction) {
		t.Fatalf("inconsistency must not look like an input validation failure")
	}
}

func TestComputeSeriesIgnoresInconsistentDumpsOutsideInteractions(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(123).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 20).Detailed(1).Build(),
		tt.NewDump("dump2", domain.CategoryRenderer, 20).Build(),
	}
	got := overallPSSTotal(t, dumps, tt.Interaction(1, 10))
	if diff := cmp.Diff([]float64{123}, got); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesAbsentWhenAllDumpsFilteredOut(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.ParseCategory("bowser"), 0).Detailed(123).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 11).Detailed(789).Build(),
	}
	series, err := ComputeSeries(GroupDumps(dumps), []domain.Interaction{tt.Interaction(1, 10)})
	if err != nil {
		t.Fatalf("compute series: %v", err)
	}
	if _, ok := series.Lookup(domain.OverallPSSTotalSeries); ok {
		t.Fatalf("expected %s to be absent", domain.OverallPSSTotalSeries)
	}
	if len(series) != 0 {
		t.Fatalf("expected no series, got %v", series.Names())
	}
}

func TestComputeSeriesBrokenDownByProcess(t *testing.T) {
	metrics := domain.DetailedMetrics
	stats1 := tt.Enumerated(metrics)
	stats2 := tt.Enumerated(tt.Reversed(metrics))
	total := float64(len(metrics) - 1)

	want := domain.MetricSeries{
		"browser_count":     {1},
		"gpu_process_count": {1},
		"process_count":     {2},
	}
	for metric, value := range stats1 {
		want[metric+"_browser"] = []float64{value}
	}
	for metric, value := range stats2 {
		want[metric+"_gpu_process"] = []float64{value}
	}
	for _, metric := range metrics {
		want[metric+"_total"] = []float64{total}
	}

	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Usage(stats1).Build(),
		tt.NewDump("dump1", domain.ParseCategory("GPU Process"), 5).Usage(stats2).Build(),
	}
	series, err := ComputeSeries(GroupDumps(dumps), []domain.Interaction{tt.Interaction(1, 10)})
	if err != nil {
		t.Fatalf("compute series: %v", err)
	}
	if diff := cmp.Diff(want, series); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesSumsProcessesOfSameCategory(t *testing.T) {
	metrics := domain.DetailedMetrics
	total := float64(len(metrics) - 1)
	stats3 := make(map[string]float64, len(metrics))
	for _, metric := range metrics {
		stats3[metric] = total
	}

	want := domain.MetricSeries{
		"renderer_count": {2},
		"browser_count":  {1},
		"process_count":  {3},
	}
	for _, metric := range metrics {
		want[metric+"_renderer"] = []float64{total}
		want[metric+"_browser"] = []float64{total}
		want[metric+"_total"] = []float64{2 * total}
	}

	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryRenderer, 3).PID(2).Usage(tt.Enumerated(metrics)).Build(),
		tt.NewDump("dump1", domain.CategoryRenderer, 4).PID(3).Usage(tt.Enumerated(tt.Reversed(metrics))).Build(),
		tt.NewDump("dump1", domain.CategoryBrowser, 5).PID(1).Usage(stats3).Build(),
	}
	series, err := ComputeSeries(GroupDumps(dumps), []domain.Interaction{tt.Interaction(1, 10)})
	if err != nil {
		t.Fatalf("compute series: %v", err)
	}
	if diff := cmp.Diff(want, series); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesInteractionBoundsAreInclusive(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 1).Detailed(1).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 10).Detailed(2).Build(),
		tt.NewDump("dump3", domain.CategoryBrowser, 10.001).Detailed(3).Build(),
	}
	got := overallPSSTotal(t, dumps, tt.Interaction(1, 10))
	if diff := cmp.Diff([]float64{1, 2}, got); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesOverlappingInteractionsCountDumpOnce(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 5).Detailed(42).Build(),
	}
	got := overallPSSTotal(t, dumps, tt.Interaction(1, 10), tt.Interaction(4, 6))
	if diff := cmp.Diff([]float64{42}, got); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesFollowsInteractionOrder(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(1).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 13).Detailed(2).Build(),
	}
	got := overallPSSTotal(t, dumps, tt.Interaction(12, 15), tt.Interaction(1, 10))
	if diff := cmp.Diff([]float64{2, 1}, got); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesRejectsReversedInteraction(t *testing.T) {
	dumps := GroupDumps([]domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(1).Build(),
	})
	_, err := ComputeSeries(dumps, []domain.Interaction{tt.Interaction(10, 1)})
	if !errors.Is(err, domain.ErrInvalidInteraction) {
		t.Fatalf("expected ErrInvalidInteraction, got %v", err)
	}
}

func TestComputeSeriesIsIdempotent(t *testing.T) {
	dumps := GroupDumps([]domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(10).Build(),
		tt.NewDump("dump1", domain.CategoryRenderer, 2).Detailed(20).Build(),
		tt.NewDump("dump2", domain.CategoryRenderer, 6).Detailed(30).Build(),
	})
	interactions := []domain.Interaction{tt.Interaction(0, 5), tt.Interaction(5, 9)}
	first, err := ComputeSeries(dumps, interactions)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := ComputeSeries(dumps, interactions)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("expected identical output (-first +second):\n%s", diff)
	}
}

func TestComputeSeriesSortsUnorderedDumps(t *testing.T) {
	grouped := GroupDumps([]domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(1).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 4).Detailed(2).Build(),
		tt.NewDump("dump3", domain.CategoryBrowser, 6).Detailed(3).Build(),
	})
	reversed := []domain.GlobalDump{grouped[2], grouped[1], grouped[0]}
	series, err := ComputeSeries(reversed, []domain.Interaction{tt.Interaction(0, 10)})
	if err != nil {
		t.Fatalf("compute series: %v", err)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, series[domain.OverallPSSTotalSeries]); diff != "" {
		t.Fatalf("unexpected series (-want +got):\n%s", diff)
	}
	if reversed[0].ID != "dump3" {
		t.Fatalf("input slice must not be reordered")
	}
}

func TestComputeSeriesOmitsUnseenCategories(t *testing.T) {
	dumps := []domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(1).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 3).Detailed(1).Build(),
		tt.NewDump("dump2", domain.CategoryRenderer, 3).Detailed(5).Build(),
	}
	series, err := ComputeSeries(GroupDumps(dumps), []domain.Interaction{tt.Interaction(0, 10)})
	if err != nil {
		t.Fatalf("compute series: %v", err)
	}
	if _, ok := series.Lookup("gpu_process_count"); ok {
		t.Fatalf("did not expect gpu_process series")
	}
	if diff := cmp.Diff([]float64{1}, series["renderer_count"]); diff != "" {
		t.Fatalf("renderer series must be sparse (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 6}, series[domain.OverallPSSTotalSeries]); diff != "" {
		t.Fatalf("unexpected totals (-want +got):\n%s", diff)
	}
}

func TestComputeSeriesNoInteractions(t *testing.T) {
	dumps := GroupDumps([]domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(1).Build(),
	})
	series, err := ComputeSeries(dumps, nil)
	if err != nil {
		t.Fatalf("compute series: %v", err)
	}
	if len(series) != 0 {
		t.Fatalf("expected empty series, got %v", series.Names())
	}
}

func TestAggregateReportsSelectedDumps(t *testing.T) {
	dumps := GroupDumps([]domain.ProcessDump{
		tt.NewDump("dump1", domain.CategoryBrowser, 2).Detailed(1).Build(),
		tt.NewDump("dump2", domain.CategoryBrowser, 11).Detailed(2).Build(),
		tt.NewDump("dump3", domain.CategoryBrowser, 13).Detailed(3).Build(),
	})
	agg, err := Aggregate(dumps, []domain.Interaction{tt.Interaction(12, 15), tt.Interaction(1, 10)})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if diff := cmp.Diff([]string{"dump3", "dump1"}, agg.Selected); diff != "" {
		t.Fatalf("unexpected selection (-want +got):\n%s", diff)
	}
}
