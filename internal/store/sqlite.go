package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and applies migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// ---------- State blob ----------

func (s *SQLiteStore) SaveState(runID string, blob []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, state, created_at, updated_at) VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		runID, string(blob), time.Now(), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadState(runID string) ([]byte, error) {
	var blob string
	err := s.db.QueryRow(`SELECT state FROM runs WHERE id = ?`, runID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("load state %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return []byte(blob), nil
}

func (s *SQLiteStore) LatestRunID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM runs ORDER BY updated_at DESC, id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("latest run: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListRuns() ([]RunSummary, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.created_at, r.updated_at,
		       (SELECT COUNT(*) FROM phase_runs p WHERE p.run_id = r.id) AS phase_runs
		FROM runs r ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rs RunSummary
		if err := rows.Scan(&rs.ID, &rs.CreatedAt, &rs.UpdatedAt, &rs.PhaseRuns); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) DeleteRun(runID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM phase_runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete phase runs: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM correlation_data WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete correlation data: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return tx.Commit()
}

// ensureRun creates an empty run row so log and cache writes can land
// before the first state save.
func (s *SQLiteStore) ensureRun(runID string) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, created_at, updated_at) VALUES (?,?,?)
		ON CONFLICT(id) DO NOTHING`,
		runID, time.Now(), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("ensure run: %w", err)
	}
	return nil
}

// ---------- Execution log ----------

func (s *SQLiteStore) AppendPhaseRun(runID, phase string, success bool, duration time.Duration, message string) error {
	if err := s.ensureRun(runID); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO phase_runs (run_id, phase, success, duration_ms, message, created_at)
		VALUES (?,?,?,?,?,?)`,
		runID, phase, success, duration.Milliseconds(), message, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("append phase run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPhaseRuns(runID string, limit int) ([]PhaseRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, phase, success, duration_ms, message, created_at
		FROM phase_runs WHERE run_id = ? ORDER BY id DESC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list phase runs: %w", err)
	}
	defer rows.Close()

	var out []PhaseRun
	for rows.Next() {
		var pr PhaseRun
		var durationMs int64
		if err := rows.Scan(&pr.ID, &pr.RunID, &pr.Phase, &pr.Success, &durationMs, &pr.Message, &pr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan phase run: %w", err)
		}
		pr.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, pr)
	}
	return out, rows.Err()
}

// ---------- Correlation cache ----------

func (s *SQLiteStore) SaveCorrelationData(runID string, blob []byte) error {
	if err := s.ensureRun(runID); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO correlation_data (run_id, data, updated_at) VALUES (?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		runID, string(blob), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save correlation data: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadCorrelationData(runID string) ([]byte, error) {
	var blob string
	err := s.db.QueryRow(`SELECT data FROM correlation_data WHERE run_id = ?`, runID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("load correlation data %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load correlation data: %w", err)
	}
	return []byte(blob), nil
}
