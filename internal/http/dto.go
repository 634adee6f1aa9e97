package httpx

import (
	"strings"
	"time"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/service/runs"
)

type processDumpPayload struct {
	DumpID      string             `json:"dump_id"`
	PID         int                `json:"pid"`
	Category    string             `json:"category"`
	TimestampUS int64              `json:"timestamp_us"`
	MemoryUsage map[string]float64 `json:"memory_usage"`
}

type interactionPayload struct {
	Label   string `json:"label"`
	StartUS int64  `json:"start_us"`
	EndUS   int64  `json:"end_us"`
}

type timelineRequest struct {
	Label        string               `json:"label"`
	ProcessDumps []processDumpPayload `json:"process_dumps"`
	Interactions []interactionPayload `json:"interactions"`
}

type aggregateResponse struct {
	DumpCount     int                         `json:"dump_count"`
	SelectedDumps []string                    `json:"selected_dumps"`
	Series        map[string][]float64        `json:"series"`
	Summaries     map[string]runs.SummaryView `json:"summaries"`
}

func (p timelineRequest) input() runs.Input {
	in := runs.Input{
		Label:        strings.TrimSpace(p.Label),
		ProcessDumps: make([]domain.ProcessDump, 0, len(p.ProcessDumps)),
		Interactions: make([]domain.Interaction, 0, len(p.Interactions)),
	}
	for _, pd := range p.ProcessDumps {
		in.ProcessDumps = append(in.ProcessDumps, domain.NewProcessDump(
			pd.DumpID,
			pd.PID,
			domain.ParseCategory(pd.Category),
			time.Duration(pd.TimestampUS)*time.Microsecond,
			pd.MemoryUsage,
		))
	}
	for _, it := range p.Interactions {
		in.Interactions = append(in.Interactions, domain.Interaction{
			Label: it.Label,
			Start: time.Duration(it.StartUS) * time.Microsecond,
			End:   time.Duration(it.EndUS) * time.Microsecond,
		})
	}
	return in
}

func newAggregateResponse(result runs.Result) aggregateResponse {
	series := make(map[string][]float64, len(result.Series))
	for name, values := range result.Series {
		series[name] = values
	}
	selected := result.SelectedDumps
	if selected == nil {
		selected = []string{}
	}
	return aggregateResponse{
		DumpCount:     result.DumpCount,
		SelectedDumps: selected,
		Series:        series,
		Summaries:     runs.NewSummaryViews(result.Summaries),
	}
}
