package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// single-binary fallback for boats and workshops with no Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path. Pragmas ride on
// the DSN so the driver applies them to every pooled connection; a
// PRAGMA statement issued through database/sql only reaches whichever
// single connection happens to serve it, leaving the rest of the pool
// with foreign_keys off and the schema's ON DELETE CASCADE inert.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep +
		"_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	id             TEXT PRIMARY KEY,
	system_filter  TEXT,
	thresholds     TEXT NOT NULL,
	tasks_compared INTEGER NOT NULL DEFAULT 0,
	pairs_found    INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'running',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS duplicate_pairs (
	id              TEXT PRIMARY KEY,
	analysis_id     TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	task_a          TEXT NOT NULL,
	task_b          TEXT NOT NULL,
	similarity      REAL NOT NULL,
	match_reason    TEXT NOT NULL,
	review_status   TEXT NOT NULL DEFAULT 'pending',
	notes           TEXT,
	reviewed_by     TEXT,
	reviewed_at     DATETIME,
	executed        INTEGER NOT NULL DEFAULT 0,
	executed_at     DATETIME,
	execution_error TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_pairs_analysis_id ON duplicate_pairs(analysis_id);
CREATE INDEX IF NOT EXISTS idx_pairs_review_status ON duplicate_pairs(review_status);
CREATE INDEX IF NOT EXISTS idx_pairs_executed ON duplicate_pairs(executed);
`

const sqliteSelectPair = `SELECT id, analysis_id, task_a, task_b, similarity, match_reason,
	review_status, notes, reviewed_by, reviewed_at,
	executed, executed_at, execution_error, created_at
	FROM duplicate_pairs`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAnalysisRun(ctx context.Context, systemFilter string, thresholds model.Thresholds) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	thJSON, err := json.Marshal(thresholds)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal thresholds")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (id, system_filter, thresholds, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, systemFilter, string(thJSON), "running", now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert analysis run")
	}

	return &model.AnalysisRun{
		ID:           id,
		SystemFilter: systemFilter,
		Thresholds:   thresholds,
		Status:       "running",
		CreatedAt:    now,
	}, nil
}

func (s *SQLiteStore) CompleteAnalysisRun(ctx context.Context, analysisID string, tasksCompared, pairsFound int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET tasks_compared = ?, pairs_found = ?, status = 'complete', completed_at = ? WHERE id = ?`,
		tasksCompared, pairsFound, time.Now().UTC(), analysisID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete analysis %s", analysisID)
	}
	return checkRowsAffected(res, "analysis", analysisID)
}

func (s *SQLiteStore) GetAnalysisRun(ctx context.Context, analysisID string) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var thJSON string
	var systemFilter sql.NullString
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, system_filter, thresholds, tasks_compared, pairs_found, status, created_at, completed_at FROM analysis_runs WHERE id = ?`,
		analysisID,
	).Scan(&r.ID, &systemFilter, &thJSON, &r.TasksCompared, &r.PairsFound, &r.Status, &r.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", analysisID)
	}
	r.SystemFilter = systemFilter.String
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(thJSON), &r.Thresholds); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal thresholds")
	}
	return &r, nil
}

func (s *SQLiteStore) DeleteAnalysis(ctx context.Context, analysisID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE id = ?`, analysisID)
	return eris.Wrapf(err, "sqlite: delete analysis %s", analysisID)
}

func (s *SQLiteStore) BulkSavePairs(ctx context.Context, analysisID string, pairs []model.DuplicatePair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bulk save")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO duplicate_pairs (id, analysis_id, task_a, task_b, similarity, match_reason, review_status, executed, executed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare bulk save")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	saved := 0
	for _, p := range pairs {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		status := p.ReviewStatus
		if status == "" {
			status = model.PairPending
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		taskA, err := json.Marshal(p.TaskA)
		if err != nil {
			return saved, eris.Wrapf(err, "sqlite: marshal task_a for pair %s", id)
		}
		taskB, err := json.Marshal(p.TaskB)
		if err != nil {
			return saved, eris.Wrapf(err, "sqlite: marshal task_b for pair %s", id)
		}

		var executedAt sql.NullTime
		if p.ExecutedAt != nil {
			executedAt = sql.NullTime{Time: *p.ExecutedAt, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			id, analysisID, string(taskA), string(taskB), p.Similarity, string(p.MatchReason),
			string(status), boolToInt(p.Executed), executedAt, createdAt,
		); err != nil {
			return saved, eris.Wrapf(err, "sqlite: insert pair %s", id)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit bulk save")
	}
	return saved, nil
}

func (s *SQLiteStore) GetPair(ctx context.Context, pairID string) (*model.DuplicatePair, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectPair+` WHERE id = ?`, pairID)
	p, err := scanSQLitePair(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get pair %s", pairID)
	}
	return p, nil
}

func (s *SQLiteStore) GetPendingReviews(ctx context.Context, limit, offset int, systemFilter string) ([]model.DuplicatePair, error) {
	query := sqliteSelectPair + ` WHERE review_status = 'pending'`
	args := []any{}

	if systemFilter != "" {
		// json_extract + LOWER gives the same case-insensitive either-side
		// match the Postgres store gets from ILIKE.
		query += ` AND (LOWER(json_extract(task_a, '$.system_id')) LIKE ? OR LOWER(json_extract(task_b, '$.system_id')) LIKE ?)`
		needle := "%" + strings.ToLower(systemFilter) + "%"
		args = append(args, needle, needle)
	}

	query += ` ORDER BY similarity DESC, created_at ASC`

	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if offset > 0 {
		query += ` OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get pending reviews")
	}
	defer rows.Close()

	return collectSQLitePairs(rows, "sqlite: pending reviews")
}

func (s *SQLiteStore) UpdateReviewStatus(ctx context.Context, pairID string, status model.PairStatus, notes, reviewedBy string) error {
	if !model.ValidPairStatus(status) {
		return eris.Errorf("sqlite: invalid review status %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE duplicate_pairs SET review_status = ?, notes = ?, reviewed_by = ?, reviewed_at = ? WHERE id = ? AND executed = 0`,
		string(status), nullString(notes), nullString(reviewedBy), time.Now().UTC(), pairID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update review status %s", pairID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("pair not found or already executed: %s", pairID)
	}
	return nil
}

func (s *SQLiteStore) BulkUpdateStatus(ctx context.Context, pairIDs []string, status model.PairStatus, reviewedBy string) (*BulkResult, error) {
	if !model.ValidPairStatus(status) {
		return nil, eris.Errorf("sqlite: invalid review status %q", status)
	}

	res := &BulkResult{Errors: make(map[string]string)}
	for _, id := range pairIDs {
		if err := s.UpdateReviewStatus(ctx, id, status, "", reviewedBy); err != nil {
			res.Failed++
			res.Errors[id] = err.Error()
			continue
		}
		res.Successful++
	}
	return res, nil
}

func (s *SQLiteStore) GetUnexecutedReviews(ctx context.Context) ([]model.DuplicatePair, error) {
	rows, err := s.db.QueryContext(ctx,
		sqliteSelectPair+` WHERE review_status IN `+terminalStatuses+` AND executed = 0 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get unexecuted reviews")
	}
	defer rows.Close()

	return collectSQLitePairs(rows, "sqlite: unexecuted reviews")
}

func (s *SQLiteStore) MarkExecuted(ctx context.Context, pairID string, success bool, execErr string) error {
	if success {
		_, err := s.db.ExecContext(ctx,
			`UPDATE duplicate_pairs SET executed = 1, executed_at = ?, execution_error = NULL WHERE id = ? AND executed = 0`,
			time.Now().UTC(), pairID,
		)
		return eris.Wrapf(err, "sqlite: mark executed %s", pairID)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE duplicate_pairs SET execution_error = ? WHERE id = ? AND executed = 0`,
		execErr, pairID,
	)
	return eris.Wrapf(err, "sqlite: record execution error %s", pairID)
}

func (s *SQLiteStore) GetReviewStats(ctx context.Context) (*model.ReviewStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT review_status, executed, COUNT(*) FROM duplicate_pairs GROUP BY review_status, executed`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get review stats")
	}
	defer rows.Close()

	stats := &model.ReviewStats{ByStatus: make(map[model.PairStatus]int)}
	for rows.Next() {
		var status string
		var executed bool
		var count int
		if err := rows.Scan(&status, &executed, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats row")
		}
		stats.ByStatus[model.PairStatus(status)] += count
		stats.Total += count
		if executed {
			stats.Executed += count
		} else if model.PairStatus(status).Resolved() {
			stats.Unexecuted += count
		}
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: stats iterate")
}

func (s *SQLiteStore) GetSystemsList(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT system_id FROM (
			SELECT json_extract(task_a, '$.system_id') AS system_id FROM duplicate_pairs WHERE review_status = 'pending'
			UNION
			SELECT json_extract(task_b, '$.system_id') FROM duplicate_pairs WHERE review_status = 'pending'
		) WHERE system_id IS NOT NULL ORDER BY system_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get systems list")
	}
	defer rows.Close()

	var systems []string
	for rows.Next() {
		var sys string
		if err := rows.Scan(&sys); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan system")
		}
		systems = append(systems, sys)
	}
	return systems, eris.Wrap(rows.Err(), "sqlite: systems iterate")
}

// helpers

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type sqlScannable interface {
	Scan(dest ...any) error
}

func scanSQLitePair(row sqlScannable) (*model.DuplicatePair, error) {
	var p model.DuplicatePair
	var taskA, taskB, reason, status string
	var notes, reviewedBy, execErr sql.NullString
	var reviewedAt, executedAt sql.NullTime

	err := row.Scan(&p.ID, &p.AnalysisID, &taskA, &taskB, &p.Similarity, &reason,
		&status, &notes, &reviewedBy, &reviewedAt,
		&p.Executed, &executedAt, &execErr, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.MatchReason = model.MatchReason(reason)
	p.ReviewStatus = model.PairStatus(status)
	p.Notes = notes.String
	p.ReviewedBy = reviewedBy.String
	p.ExecutionError = execErr.String
	if reviewedAt.Valid {
		p.ReviewedAt = &reviewedAt.Time
	}
	if executedAt.Valid {
		p.ExecutedAt = &executedAt.Time
	}
	if err := json.Unmarshal([]byte(taskA), &p.TaskA); err != nil {
		return nil, eris.Wrap(err, "unmarshal task_a")
	}
	if err := json.Unmarshal([]byte(taskB), &p.TaskB); err != nil {
		return nil, eris.Wrap(err, "unmarshal task_b")
	}
	return &p, nil
}

func collectSQLitePairs(rows *sql.Rows, label string) ([]model.DuplicatePair, error) {
	var pairs []model.DuplicatePair
	for rows.Next() {
		p, err := scanSQLitePair(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: scan", label)
		}
		pairs = append(pairs, *p)
	}
	return pairs, eris.Wrapf(rows.Err(), "%s: iterate", label)
}
