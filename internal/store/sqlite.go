package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/hybpiper/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, sample, sample_dir, start_stage, end_stage, state, error, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Sample, run.SampleDir, run.StartStage, run.EndStage, string(run.State), run.Error,
		run.CreatedAt.Format(time.RFC3339Nano), formatTime(run.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, sample, sample_dir, start_stage, end_stage, state, error, created_at, completed_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.RunQuery) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Normalize()

	var whereClauses []string
	var countArgs []any
	if opts.State != "" {
		whereClauses = append(whereClauses, "state = ?")
		countArgs = append(countArgs, strings.ToUpper(opts.State))
	}
	if opts.Sample != "" {
		whereClauses = append(whereClauses, "sample = ?")
		countArgs = append(countArgs, opts.Sample)
	}
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT id, sample, sample_dir, start_stage, end_stage, state, error, created_at, completed_at
		FROM runs` + whereSQL + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "state", run.State)

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state=?, error=?, completed_at=? WHERE id=?`,
		string(run.State), run.Error, formatTime(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// --- Stage events ---

func (s *SQLiteStore) AddStageEvent(ctx context.Context, ev model.StageEvent) error {
	s.logger.Debug("sql", "op", "insert", "table", "stage_events", "run_id", ev.RunID, "stage", ev.Stage)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_events (run_id, stage, action, at) VALUES (?, ?, ?, ?)`,
		ev.RunID, ev.Stage, string(ev.Action), ev.At.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) ListStageEvents(ctx context.Context, runID string) ([]model.StageEvent, error) {
	s.logger.Debug("sql", "op", "list", "table", "stage_events", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage, action, at FROM stage_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StageEvent
	for rows.Next() {
		var ev model.StageEvent
		var action, at string
		if err := rows.Scan(&ev.RunID, &ev.Stage, &action, &at); err != nil {
			return nil, err
		}
		ev.Action = model.StageAction(action)
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- Unit outcomes ---

// SaveUnitOutcomes replaces the unit outcomes recorded for a run.
func (s *SQLiteStore) SaveUnitOutcomes(ctx context.Context, runID string, outcomes []model.UnitOutcome) error {
	s.logger.Debug("sql", "op", "insert", "table", "unit_outcomes", "run_id", runID, "count", len(outcomes))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM unit_outcomes WHERE run_id = ?`, runID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO unit_outcomes (run_id, unit, state, length, stop_codons, intron, reason, elapsed_ms, missing_input, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range outcomes {
		r := o.Result
		if _, err := stmt.ExecContext(ctx, runID, o.Unit, string(o.State), r.Length, boolInt(r.StopCodons),
			string(r.Intron), r.Reason, r.Elapsed.Milliseconds(), boolInt(r.MissingInput), o.Error); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Unit, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListUnitOutcomes(ctx context.Context, runID string) ([]model.UnitOutcome, error) {
	s.logger.Debug("sql", "op", "list", "table", "unit_outcomes", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT unit, state, length, stop_codons, intron, reason, elapsed_ms, missing_input, error
		 FROM unit_outcomes WHERE run_id = ? ORDER BY unit`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UnitOutcome
	for rows.Next() {
		var o model.UnitOutcome
		var state, intron string
		var stops, missing int
		var elapsedMS int64
		if err := rows.Scan(&o.Unit, &state, &o.Result.Length, &stops, &intron, &o.Result.Reason,
			&elapsedMS, &missing, &o.Error); err != nil {
			return nil, err
		}
		o.State = model.UnitState(state)
		o.Result.Unit = o.Unit
		o.Result.StopCodons = stops != 0
		o.Result.MissingInput = missing != 0
		o.Result.Intron = model.IntronOutcome(intron)
		o.Result.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var state, createdAt string
	var completedAt *string
	if err := row.Scan(&run.ID, &run.Sample, &run.SampleDir, &run.StartStage, &run.EndStage,
		&state, &run.Error, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	run.State = model.RunState(state)
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
