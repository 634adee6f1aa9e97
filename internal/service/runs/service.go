// Package runs computes memory timelines and keeps the labelled runs
// submitted for later comparison.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/repository"
	"github.com/splax/memtimeline/internal/service/timeline"
	"github.com/splax/memtimeline/internal/ws"
)

var (
	// ErrLabelRequired is returned when a run is submitted without a label.
	ErrLabelRequired = errors.New("label required")
	// ErrNoDumps is returned when a run is submitted without process dumps.
	ErrNoDumps = errors.New("at least one process dump required")
)

// Input is a timeline to aggregate.
type Input struct {
	Label        string
	ProcessDumps []domain.ProcessDump
	Interactions []domain.Interaction
}

// Result is a computed timeline.
type Result struct {
	DumpCount     int
	SelectedDumps []string
	Series        domain.MetricSeries
	Summaries     map[string]domain.SeriesSummary
}

// Service aggregates timelines and persists runs.
type Service struct {
	repo   repository.RunRepository
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewService constructs a Service. A nil hub gets a private one.
func NewService(repo repository.RunRepository, hub *ws.Hub, logger *slog.Logger) *Service {
	if hub == nil {
		hub = ws.NewHub()
	}
	if logger != nil {
		logger = logger.With("component", "runs")
	}
	return &Service{
		repo:   repo,
		hub:    hub,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Compute aggregates a timeline without persisting it.
func (s *Service) Compute(_ context.Context, in Input) (Result, error) {
	dumps := timeline.GroupDumps(in.ProcessDumps)
	agg, err := timeline.Aggregate(dumps, in.Interactions)
	if err != nil {
		return Result{}, err
	}
	return Result{
		DumpCount:     len(dumps),
		SelectedDumps: agg.Selected,
		Series:        agg.Series,
		Summaries:     timeline.Summarize(agg.Series),
	}, nil
}

// Create aggregates a timeline, stores it as a run, and notifies
// subscribers of the run label.
func (s *Service) Create(ctx context.Context, in Input) (*domain.AggregationRun, error) {
	in.Label = strings.TrimSpace(in.Label)
	if in.Label == "" {
		return nil, ErrLabelRequired
	}
	if len(in.ProcessDumps) == 0 {
		return nil, ErrNoDumps
	}
	result, err := s.Compute(ctx, in)
	if err != nil {
		return nil, err
	}
	run := &domain.AggregationRun{
		ID:            s.newID(),
		Label:         in.Label,
		DumpCount:     result.DumpCount,
		SelectedDumps: len(result.SelectedDumps),
		Interactions:  append([]domain.Interaction(nil), in.Interactions...),
		Series:        result.Series,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.InsertRun(ctx, run); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("run stored", "run_id", run.ID, "label", run.Label, "dumps", run.DumpCount, "selected", run.SelectedDumps)
	}
	s.broadcast(run)
	return run, nil
}

// Get returns a stored run.
func (s *Service) Get(ctx context.Context, id string) (*domain.AggregationRun, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, repository.ErrNotFound
	}
	return s.repo.GetRun(ctx, id)
}

// List returns stored runs newest first.
func (s *Service) List(ctx context.Context, label string, limit int) ([]domain.AggregationRun, error) {
	return s.repo.ListRuns(ctx, repository.RunFilter{Label: strings.TrimSpace(label), Limit: limit})
}

// Hub exposes the SSE/WebSocket hub for run subscribers.
func (s *Service) Hub() *ws.Hub {
	if s == nil {
		return nil
	}
	return s.hub
}

func (s *Service) broadcast(run *domain.AggregationRun) {
	if s.hub == nil {
		return
	}
	payload, err := MarshalRun(run)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to marshal run", "error", err, "run_id", run.ID)
		}
		return
	}
	s.hub.Broadcast(run.Label, payload)
}

// InteractionView is the wire form of an interaction.
type InteractionView struct {
	Label   string `json:"label"`
	StartUS int64  `json:"start_us"`
	EndUS   int64  `json:"end_us"`
}

// SummaryView is the wire form of a series summary.
type SummaryView struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// RunView is the wire form of a stored run.
type RunView struct {
	ID            string                 `json:"id"`
	Label         string                 `json:"label"`
	DumpCount     int                    `json:"dump_count"`
	SelectedDumps int                    `json:"selected_dumps"`
	Interactions  []InteractionView      `json:"interactions"`
	Series        map[string][]float64   `json:"series"`
	Summaries     map[string]SummaryView `json:"summaries"`
	CreatedAt     string                 `json:"created_at"`
}

// NewRunView converts a run to its wire form.
func NewRunView(run domain.AggregationRun) RunView {
	series := make(map[string][]float64, len(run.Series))
	for name, values := range run.Series {
		series[name] = values
	}
	return RunView{
		ID:            run.ID,
		Label:         run.Label,
		DumpCount:     run.DumpCount,
		SelectedDumps: run.SelectedDumps,
		Interactions:  NewInteractionViews(run.Interactions),
		Series:        series,
		Summaries:     NewSummaryViews(timeline.Summarize(run.Series)),
		CreatedAt:     run.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// NewInteractionViews converts interactions to their wire form.
func NewInteractionViews(interactions []domain.Interaction) []InteractionView {
	out := make([]InteractionView, 0, len(interactions))
	for _, in := range interactions {
		out = append(out, InteractionView{Label: in.Label, StartUS: in.Start.Microseconds(), EndUS: in.End.Microseconds()})
	}
	return out
}

// NewSummaryViews converts summaries to their wire form.
func NewSummaryViews(summaries map[string]domain.SeriesSummary) map[string]SummaryView {
	out := make(map[string]SummaryView, len(summaries))
	for name, sum := range summaries {
		out[name] = SummaryView{
			Count: sum.Count,
			Mean:  sum.Mean,
			Min:   sum.Min,
			Max:   sum.Max,
			P50:   sum.P50,
			P90:   sum.P90,
			P95:   sum.P95,
			P99:   sum.P99,
		}
	}
	return out
}

// MarshalRun encodes a run for SSE/WebSocket clients.
func MarshalRun(run *domain.AggregationRun) ([]byte, error) {
	return json.Marshal(NewRunView(*run))
}
