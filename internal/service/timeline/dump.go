package timeline

import (
	"sort"

	"github.com/splax/memtimeline/internal/domain"
)

// GroupDumps collects process dumps sharing a dump id into global dumps,
// ordered by start time. Dumps with equal starts keep first-appearance order.
func GroupDumps(processDumps []domain.ProcessDump) []domain.GlobalDump {
	if len(processDumps) == 0 {
		return []domain.GlobalDump{}
	}
	index := make(map[string]int)
	groups := make([]domain.GlobalDump, 0)
	for _, pd := range processDumps {
		idx, ok := index[pd.DumpID]
		if !ok {
			idx = len(groups)
			index[pd.DumpID] = idx
			groups = append(groups, domain.GlobalDump{
				ID:    pd.DumpID,
				Start: pd.Timestamp,
				End:   pd.Timestamp,
			})
		}
		group := &groups[idx]
		group.ProcessDumps = append(group.ProcessDumps, pd)
		if pd.Timestamp < group.Start {
			group.Start = pd.Timestamp
		}
		if pd.Timestamp > group.End {
			group.End = pd.Timestamp
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Start < groups[j].Start
	})
	return groups
}

func sortedByStart(dumps []domain.GlobalDump) []domain.GlobalDump {
	if sort.SliceIsSorted(dumps, func(i, j int) bool { return dumps[i].Start < dumps[j].Start }) {
		return dumps
	}
	sorted := append([]domain.GlobalDump(nil), dumps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	return sorted
}
