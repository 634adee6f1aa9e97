package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.RunRepository = (*Repository)(nil)

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type interactionRecord struct {
	Label   string `json:"label"`
	StartUS int64  `json:"start_us"`
	EndUS   int64  `json:"end_us"`
}

// InsertRun stores a run and its series in one transaction.
func (r *Repository) InsertRun(ctx context.Context, run *domain.AggregationRun) error {
	if run == nil {
		return fmt.Errorf("aggregation run required")
	}
	interactions, err := encodeInteractions(run.Interactions)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const runInsert = `INSERT INTO aggregation_runs (id, label, dump_count, selected_dumps, interactions, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW())) RETURNING created_at`
	var createdAt time.Time
	if err := tx.QueryRow(ctx, runInsert,
		run.ID,
		run.Label,
		run.DumpCount,
		run.SelectedDumps,
		interactions,
		nilTime(run.CreatedAt),
	).Scan(&createdAt); err != nil {
		return mapError(err)
	}
	run.CreatedAt = createdAt

	names := run.Series.Names()
	if len(names) > 0 {
		const seriesInsert = `INSERT INTO aggregation_series (run_id, name, points) VALUES ($1, $2, $3)`
		batch := &pgx.Batch{}
		for _, name := range names {
			batch.Queue(seriesInsert, run.ID, name, run.Series[name])
		}
		br := tx.SendBatch(ctx, batch)
		for range names {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return mapError(err)
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetRun loads a run with its series.
func (r *Repository) GetRun(ctx context.Context, id string) (*domain.AggregationRun, error) {
	const query = `SELECT id, label, dump_count, selected_dumps, interactions, created_at
		FROM aggregation_runs WHERE id = $1`
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	series, err := r.loadSeries(ctx, []string{run.ID})
	if err != nil {
		return nil, err
	}
	run.Series = seriesOrEmpty(series[run.ID])
	return &run, nil
}

// ListRuns returns runs newest first, optionally restricted to a label.
func (r *Repository) ListRuns(ctx context.Context, filter repository.RunFilter) ([]domain.AggregationRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	const query = `SELECT id, label, dump_count, selected_dumps, interactions, created_at
		FROM aggregation_runs
		WHERE ($1 = '' OR label = $1)
		ORDER BY created_at DESC, id
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, filter.Label, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]domain.AggregationRun, 0)
	ids := make([]string, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
		ids = append(ids, run.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return runs, nil
	}

	series, err := r.loadSeries(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].Series = seriesOrEmpty(series[runs[i].ID])
	}
	return runs, nil
}

func (r *Repository) loadSeries(ctx context.Context, runIDs []string) (map[string]domain.MetricSeries, error) {
	const query = `SELECT run_id, name, points FROM aggregation_series
		WHERE run_id = ANY($1::uuid[])
		ORDER BY run_id, name`
	rows, err := r.pool.Query(ctx, query, runIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.MetricSeries, len(runIDs))
	for rows.Next() {
		var (
			runID  string
			name   string
			points []float64
		)
		if err := rows.Scan(&runID, &name, &points); err != nil {
			return nil, err
		}
		if out[runID] == nil {
			out[runID] = domain.MetricSeries{}
		}
		out[runID][name] = points
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (domain.AggregationRun, error) {
	var (
		run          domain.AggregationRun
		interactions []byte
	)
	if err := row.Scan(&run.ID, &run.Label, &run.DumpCount, &run.SelectedDumps, &interactions, &run.CreatedAt); err != nil {
		return domain.AggregationRun{}, err
	}
	decoded, err := decodeInteractions(interactions)
	if err != nil {
		return domain.AggregationRun{}, fmt.Errorf("decode interactions for run %s: %w", run.ID, err)
	}
	run.Interactions = decoded
	return run, nil
}

func encodeInteractions(interactions []domain.Interaction) ([]byte, error) {
	records := make([]interactionRecord, 0, len(interactions))
	for _, in := range interactions {
		records = append(records, interactionRecord{
			Label:   in.Label,
			StartUS: in.Start.Microseconds(),
			EndUS:   in.End.Microseconds(),
		})
	}
	return json.Marshal(records)
}

func decodeInteractions(raw []byte) ([]domain.Interaction, error) {
	out := make([]domain.Interaction, 0)
	if len(raw) == 0 {
		return out, nil
	}
	var records []interactionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	for _, rec := range records {
		out = append(out, domain.Interaction{
			Label: rec.Label,
			Start: time.Duration(rec.StartUS) * time.Microsecond,
			End:   time.Duration(rec.EndUS) * time.Microsecond,
		})
	}
	return out, nil
}

func seriesOrEmpty(s domain.MetricSeries) domain.MetricSeries {
	if s == nil {
		return domain.MetricSeries{}
	}
	return s
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02", "23505":
			return fmt.Errorf("%w: %s", repository.ErrInvalidArgument, pgErr.Message)
		}
	}
	return err
}

func nilTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
