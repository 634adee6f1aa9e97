// Package memmaps reduces process memory-map regions to the detailed
// memory metrics used by the timeline aggregator.
package memmaps

import (
	"strings"

	"github.com/splax/memtimeline/internal/domain"
)

// Region is one mapped range of a process address space. Sizes are bytes.
type Region struct {
	Path         string
	PSS          uint64
	PrivateDirty uint64
	PrivateClean uint64
	SharedDirty  uint64
	SharedClean  uint64
	Swapped      uint64
}

// Usage sums regions into the detailed metric family. It returns an empty
// map when no regions were captured.
func Usage(regions []Region) map[string]float64 {
	usage := make(map[string]float64)
	if len(regions) == 0 {
		return usage
	}
	var overall, privateDirty, swapped, javaHeap, ashmem, nativeHeap uint64
	for _, region := range regions {
		overall += region.PSS
		privateDirty += region.PrivateDirty
		swapped += region.Swapped
		switch classify(region.Path) {
		case kindJavaHeap:
			javaHeap += region.PSS
		case kindAshmem:
			ashmem += region.PSS
		case kindNativeHeap:
			nativeHeap += region.PSS
		}
	}
	usage[domain.MetricOverallPSS] = float64(overall)
	usage[domain.MetricPrivateDirty] = float64(privateDirty)
	usage[domain.MetricSwapped] = float64(swapped)
	usage[domain.MetricJavaHeap] = float64(javaHeap)
	usage[domain.MetricAshmem] = float64(ashmem)
	usage[domain.MetricNativeHeap] = float64(nativeHeap)
	return usage
}

type kind int

const (
	kindOther kind = iota
	kindJavaHeap
	kindAshmem
	kindNativeHeap
)

func classify(path string) kind {
	switch {
	case strings.Contains(path, "dalvik-"):
		return kindJavaHeap
	case strings.HasPrefix(path, "/dev/ashmem"):
		return kindAshmem
	case path == "[heap]", strings.HasPrefix(path, "[anon:libc_malloc"), strings.HasPrefix(path, "[anon:scudo:"):
		return kindNativeHeap
	default:
		return kindOther
	}
}
