// Package runlog keeps the training history of an output directory in a
// SQLite database: one row per run, per step, per epoch and per checkpoint.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver
	"gopkg.in/yaml.v3"

	"github.com/born-ml/born-vae/internal/train"
)

// FileName is the database file created inside an output directory.
const FileName = "runs.db"

const schemaVersion = 1

var _ train.Recorder = (*Store)(nil)

// Run is one row of the runs table.
type Run struct {
	ID         string
	DataDir    string
	OutputDir  string
	Config     string // YAML
	Resumed    bool
	StartStep  int64
	LastStep   int64
	State      string
	Error      string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// Step is one recorded optimizer step.
type Step struct {
	Epoch          int
	Step           int64
	Loss           float64
	Reconstruction float64
	KL             float64
	Duration       time.Duration
}

// Checkpoint is one recorded checkpoint file.
type Checkpoint struct {
	Step      int64
	Path      string
	CreatedAt time.Time
}

// Store is the run history database. SQLite serializes writers itself, so the
// store needs no locking of its own.
type Store struct {
	db *sql.DB
}

// OpenDir opens (or creates) the history database of an output directory.
func OpenDir(outDir string) (*Store, error) {
	return Open(filepath.Join(outDir, FileName))
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.db.Close()
}

func (s *Store) init() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL DEFAULT %d
	);

	INSERT OR IGNORE INTO meta (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		data_dir TEXT NOT NULL DEFAULT '',
		output_dir TEXT NOT NULL DEFAULT '',
		config TEXT NOT NULL DEFAULT '',
		resumed BOOLEAN NOT NULL DEFAULT 0,
		start_step INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		epoch INTEGER NOT NULL,
		loss REAL NOT NULL,
		reconstruction REAL NOT NULL,
		kl REAL NOT NULL,
		duration_us INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, step),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS epochs (
		run_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		steps INTEGER NOT NULL,
		mean_loss REAL NOT NULL,
		std_loss REAL NOT NULL,
		min_loss REAL NOT NULL,
		max_loss REAL NOT NULL,
		PRIMARY KEY (run_id, epoch),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		path TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, step),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`, schemaVersion)

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRow("SELECT schema_version FROM meta WHERE id = 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	return nil
}

// StartRun inserts the run, or marks an existing run as running again when
// training resumes.
func (s *Store) StartRun(ctx context.Context, run train.RunInfo) error {
	cfg, err := yaml.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, data_dir, output_dir, config, resumed, start_step, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config = excluded.config,
			resumed = excluded.resumed,
			start_step = excluded.start_step,
			state = excluded.state,
			error = '',
			finished_at = NULL
	`, run.ID, run.DataDir, run.OutputDir, string(cfg), run.Resumed, run.StartStep,
		train.StateRunning.String(), run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordStep stores one step. Replaying a step after a resume overwrites it.
func (s *Store) RecordStep(ctx context.Context, m train.StepMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO steps (run_id, step, epoch, loss, reconstruction, kl, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.RunID, m.Step, m.Epoch, m.Loss, m.Reconstruction, m.KL, m.Duration.Microseconds())
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// RecordEpoch stores the loss summary of an epoch.
func (s *Store) RecordEpoch(ctx context.Context, e train.EpochStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO epochs (run_id, epoch, steps, mean_loss, std_loss, min_loss, max_loss)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.Epoch, e.Steps, e.MeanLoss, e.StdLoss, e.MinLoss, e.MaxLoss)
	if err != nil {
		return fmt.Errorf("insert epoch: %w", err)
	}
	return nil
}

// RecordCheckpoint stores a written checkpoint.
func (s *Store) RecordCheckpoint(ctx context.Context, runID, path string, step int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (run_id, step, path, created_at)
		VALUES (?, ?, ?, ?)
	`, runID, step, path, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// FinishRun stores the final state and error of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, state train.State, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET state = ?, error = ?, finished_at = ? WHERE id = ?
	`, state.String(), msg, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.data_dir, r.output_dir, r.config, r.resumed, r.start_step,
			COALESCE((SELECT MAX(step) FROM steps WHERE run_id = r.id), r.start_step),
			r.state, r.error, r.started_at, r.finished_at
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.DataDir, &r.OutputDir, &r.Config, &r.Resumed, &r.StartStep,
			&r.LastStep, &r.State, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run returns a single run by ID. A unique ID prefix is accepted.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	runs, err := s.Runs(ctx, -1)
	if err != nil {
		return Run{}, err
	}
	var found []Run
	for _, r := range runs {
		if r.ID == id {
			return r, nil
		}
		if id != "" && strings.HasPrefix(r.ID, id) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return Run{}, fmt.Errorf("run %q: %w", id, sql.ErrNoRows)
	case 1:
		return found[0], nil
	default:
		return Run{}, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// Steps returns the last limit steps of a run in ascending order.
func (s *Store) Steps(ctx context.Context, runID string, limit int) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, step, loss, reconstruction, kl, duration_us FROM (
			SELECT * FROM steps WHERE run_id = ? ORDER BY step DESC LIMIT ?
		) ORDER BY step ASC
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		var us int64
		if err := rows.Scan(&st.Epoch, &st.Step, &st.Loss, &st.Reconstruction, &st.KL, &us); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Duration = time.Duration(us) * time.Microsecond
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// Epochs returns the epoch summaries of a run in order.
func (s *Store) Epochs(ctx context.Context, runID string) ([]train.EpochStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, steps, mean_loss, std_loss, min_loss, max_loss
		FROM epochs WHERE run_id = ? ORDER BY epoch
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var epochs []train.EpochStats
	for rows.Next() {
		e := train.EpochStats{RunID: runID}
		if err := rows.Scan(&e.Epoch, &e.Steps, &e.MeanLoss, &e.StdLoss, &e.MinLoss, &e.MaxLoss); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

// Checkpoints returns the checkpoints of a run in step order.
func (s *Store) Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, path, created_at FROM checkpoints WHERE run_id = ? ORDER BY step
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.Step, &c.Path, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
