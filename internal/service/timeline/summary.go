package timeline

import (
	"math"
	"sort"

	"github.com/splax/memtimeline/internal/domain"
)

// Summarize reduces every series to descriptive statistics.
func Summarize(series domain.MetricSeries) map[string]domain.SeriesSummary {
	summaries := make(map[string]domain.SeriesSummary, len(series))
	for name, values := range series {
		if len(values) == 0 {
			continue
		}
		summaries[name] = summarize(values)
	}
	return summaries
}

func summarize(values []float64) domain.SeriesSummary {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return domain.SeriesSummary{
		Count: len(sorted),
		Mean:  sum / float64(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   percentile(sorted, 0.50),
		P90:   percentile(sorted, 0.90),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	pos := p * float64(len(values)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return values[lower]
	}
	weight := pos - float64(lower)
	return values[lower]*(1-weight) + values[upper]*weight
}
