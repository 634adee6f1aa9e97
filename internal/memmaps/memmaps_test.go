package memmaps

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/splax/memtimeline/internal/domain"
)

func TestUsageClassifiesRegions(t *testing.T) {
	regions := []Region{
		{Path: "[heap]", PSS: 100, PrivateDirty: 80},
		{Path: "[anon:libc_malloc]", PSS: 50, PrivateDirty: 50, Swapped: 4},
		{Path: "/dev/ashmem/dalvik-main space (region space)", PSS: 300, PrivateDirty: 200},
		{Path: "/dev/ashmem/shared_memory", PSS: 20},
		{Path: "/system/lib64/libc.so", PSS: 7, Swapped: 1},
	}
	want := map[string]float64{
		domain.MetricOverallPSS:   477,
		domain.MetricPrivateDirty: 330,
		domain.MetricSwapped:      5,
		domain.MetricJavaHeap:     300,
		domain.MetricAshmem:       20,
		domain.MetricNativeHeap:   150,
	}
	if diff := cmp.Diff(want, Usage(regions)); diff != "" {
		t.Fatalf("unexpected usage (-want +got):\n%s", diff)
	}
}

func TestUsageWithoutRegions(t *testing.T) {
	usage := Usage(nil)
	if len(usage) != 0 {
		t.Fatalf("expected empty usage, got %v", usage)
	}
	pd := domain.ProcessDump{MemoryUsage: usage}
	if pd.HasDetailedMetrics() {
		t.Fatal("a dump without regions must not be detailed")
	}
}
