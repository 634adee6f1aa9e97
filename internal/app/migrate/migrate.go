package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/splax/memtimeline/db"
)

const commandTimeout = time.Minute

// Runner applies and inspects schema migrations with goose.
type Runner struct {
	pool *pgxpool.Pool
	dsn  string
	fsys fs.FS
	log  *slog.Logger
}

// New returns a migration runner. An empty migrationsDir selects the
// migrations embedded in the binary.
func New(pool *pgxpool.Pool, dsn, migrationsDir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("nil pool provided")
	}
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	fsys, err := migrationFS(migrationsDir)
	if err != nil {
		return Runner{}, err
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{pool: pool, dsn: dsn, fsys: fsys, log: log.With("component", "migrate")}, nil
}

func migrationFS(dir string) (fs.FS, error) {
	if dir == "" {
		sub, err := fs.Sub(db.Migrations, db.MigrationsDir)
		if err != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", err)
		}
		return sub, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("locate migrations dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations path %s is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		for _, res := range results {
			r.log.Info("migration applied", "version", res.Source.Version, "path", res.Source.Path, "took", res.Duration)
		}
		r.log.Info("migrations up to date", "applied", len(results))
		return nil
	})
}

// Status logs every known migration with its state.
func (r Runner) Status(ctx context.Context) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, st := range statuses {
			attrs := []any{"version", st.Source.Version, "path", st.Source.Path, "state", string(st.State)}
			if !st.AppliedAt.IsZero() {
				attrs = append(attrs, "applied_at", st.AppliedAt)
			}
			r.log.Info("migration", attrs...)
		}
		return nil
	})
}

// Down rolls back the latest migration, or every migration above
// targetVersion when it is positive.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		if targetVersion <= 0 {
			res, err := p.Down(ctx)
			if err != nil {
				return fmt.Errorf("rollback latest migration: %w", err)
			}
			r.log.Info("migration rolled back", "version", res.Source.Version)
			return nil
		}
		results, err := p.DownTo(ctx, targetVersion)
		if err != nil {
			return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
		}
		r.log.Info("migrations rolled back", "target", targetVersion, "count", len(results))
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases underlying connections.
func (r Runner) Close() {
	r.pool.Close()
}

// withProvider opens a database/sql handle for goose alongside the pool.
func (r Runner) withProvider(ctx context.Context, fn func(context.Context, *goose.Provider) error) error {
	sqlDB, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, r.fsys)
	if err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return fn(runCtx, provider)
}
