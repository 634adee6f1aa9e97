package timeline

import (
	"fmt"

	"github.com/splax/memtimeline/internal/domain"
)

// InconsistentDetailedMetricsError reports process dumps that disagree on
// whether memory maps were captured. It points at upstream collection
// defects and is never recoverable by the caller.
type InconsistentDetailedMetricsError struct {
	DumpID   string
	Category domain.Category
	PID      int
	Detailed bool
	// Reference is the dump the offending one disagrees with. It equals
	// DumpID when the disagreement is between siblings.
	ReferenceDumpID   string
	ReferenceCategory domain.Category
	ReferencePID      int
}

func (e *InconsistentDetailedMetricsError) Error() string {
	state := "lacks"
	if e.Detailed {
		state = "has"
	}
	if e.ReferenceDumpID == e.DumpID {
		return fmt.Sprintf("inconsistent detailed metrics in dump %s: %s process %d %s memory maps unlike %s process %d",
			e.DumpID, e.Category, e.PID, state, e.ReferenceCategory, e.ReferencePID)
	}
	return fmt.Sprintf("inconsistent detailed metrics: dump %s (%s process %d) %s memory maps unlike dump %s",
		e.DumpID, e.Category, e.PID, state, e.ReferenceDumpID)
}
