package timeline

import (
	"fmt"
	"sort"

	"github.com/splax/memtimeline/internal/domain"
)

// Aggregation is the outcome of folding a timeline.
type Aggregation struct {
	Series domain.MetricSeries
	// Selected lists the ids of the folded global dumps in fold order.
	Selected []string
}

// ComputeSeries folds the global dumps selected by the interactions into
// named series. Each selected dump contributes one value to every series it
// has data for, in interaction order and then start order. A dump selected
// by several interactions contributes once.
//
// All selected process dumps must agree on whether memory maps were
// captured; otherwise an *InconsistentDetailedMetricsError is returned and no
// series are produced.
func ComputeSeries(dumps []domain.GlobalDump, interactions []domain.Interaction) (domain.MetricSeries, error) {
	agg, err := Aggregate(dumps, interactions)
	if err != nil {
		return nil, err
	}
	return agg.Series, nil
}

// Aggregate is ComputeSeries that also reports which dumps were folded.
func Aggregate(dumps []domain.GlobalDump, interactions []domain.Interaction) (Aggregation, error) {
	for _, interaction := range interactions {
		if err := interaction.Validate(); err != nil {
			return Aggregation{}, err
		}
	}
	selected := selectDumps(sortedByStart(dumps), interactions)
	if err := checkDetailedMetrics(selected); err != nil {
		return Aggregation{}, err
	}
	agg := Aggregation{
		Series:   make(domain.MetricSeries),
		Selected: make([]string, 0, len(selected)),
	}
	for _, dump := range selected {
		foldDump(agg.Series, dump)
		agg.Selected = append(agg.Selected, dump.ID)
	}
	return agg, nil
}

// selectDumps returns the dumps whose start lies inside any interaction.
// dumps must be ordered by start.
func selectDumps(dumps []domain.GlobalDump, interactions []domain.Interaction) []domain.GlobalDump {
	seen := make(map[int]struct{})
	selected := make([]domain.GlobalDump, 0)
	for _, interaction := range interactions {
		first := sort.Search(len(dumps), func(i int) bool {
			return dumps[i].Start >= interaction.Start
		})
		for i := first; i < len(dumps) && dumps[i].Start <= interaction.End; i++ {
			if _, ok := seen[i]; ok {
				continue
			}
			seen[i] = struct{}{}
			selected = append(selected, dumps[i])
		}
	}
	return selected
}

func checkDetailedMetrics(dumps []domain.GlobalDump) error {
	var reference *domain.ProcessDump
	for _, dump := range dumps {
		if len(dump.ProcessDumps) == 0 {
			continue
		}
		first := dump.ProcessDumps[0]
		detailed := first.HasDetailedMetrics()
		for _, sibling := range dump.ProcessDumps[1:] {
			if sibling.HasDetailedMetrics() != detailed {
				return &InconsistentDetailedMetricsError{
					DumpID:            dump.ID,
					Category:          sibling.Category,
					PID:               sibling.PID,
					Detailed:          sibling.HasDetailedMetrics(),
					ReferenceDumpID:   dump.ID,
					ReferenceCategory: first.Category,
					ReferencePID:      first.PID,
				}
			}
		}
		if reference == nil {
			reference = &first
			continue
		}
		if reference.HasDetailedMetrics() != detailed {
			return &InconsistentDetailedMetricsError{
				DumpID:            dump.ID,
				Category:          first.Category,
				PID:               first.PID,
				Detailed:          detailed,
				ReferenceDumpID:   reference.DumpID,
				ReferenceCategory: reference.Category,
				ReferencePID:      reference.PID,
			}
		}
	}
	return nil
}

type categoryUsage struct {
	count  int
	values map[string]float64
}

func foldDump(series domain.MetricSeries, dump domain.GlobalDump) {
	byCategory := make(map[domain.Category]*categoryUsage)
	totals := make(map[string]float64)
	for _, pd := range dump.ProcessDumps {
		usage := byCategory[pd.Category]
		if usage == nil {
			usage = &categoryUsage{values: make(map[string]float64)}
			byCategory[pd.Category] = usage
		}
		usage.count++
		for metric, value := range pd.MemoryUsage {
			usage.values[metric] += value
			totals[metric] += value
		}
	}

	series.Append(domain.ProcessCountSeries, float64(len(dump.ProcessDumps)))
	for _, category := range sortedCategories(byCategory) {
		usage := byCategory[category]
		series.Append(countSeries(category), float64(usage.count))
		for _, metric := range sortedKeys(usage.values) {
			series.Append(breakdownSeries(metric, string(category)), usage.values[metric])
		}
	}
	for _, metric := range sortedKeys(totals) {
		series.Append(breakdownSeries(metric, "total"), totals[metric])
	}
}

func countSeries(category domain.Category) string {
	return fmt.Sprintf("%s_count", category)
}

func breakdownSeries(metric, breakdown string) string {
	return metric + "_" + breakdown
}

func sortedCategories(m map[domain.Category]*categoryUsage) []domain.Category {
	categories := make([]domain.Category, 0, len(m))
	for category := range m {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	return categories
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
