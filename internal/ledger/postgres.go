package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/db"
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// pairColumns is the canonical column order for pair scans and COPYs.
var pairColumns = []string{
	"id", "analysis_id", "task_a", "task_b", "similarity", "match_reason",
	"review_status", "notes", "reviewed_by", "reviewed_at",
	"executed", "executed_at", "execution_error", "created_at",
}

const selectPair = `SELECT id, analysis_id, task_a, task_b, similarity, match_reason,
	review_status, notes, reviewed_by, reviewed_at,
	executed, executed_at, execution_error, created_at
	FROM duplicate_pairs`

// terminalStatuses is the SQL set of resolved review intents.
const terminalStatuses = `('keep_both', 'merge', 'delete_task1', 'delete_task2', 'delete_both')`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ledger: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	id             TEXT PRIMARY KEY,
	system_filter  TEXT,
	thresholds     JSONB NOT NULL,
	tasks_compared INTEGER NOT NULL DEFAULT 0,
	pairs_found    INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'running',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS duplicate_pairs (
	id              TEXT PRIMARY KEY,
	analysis_id     TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	task_a          JSONB NOT NULL,
	task_b          JSONB NOT NULL,
	similarity      DOUBLE PRECISION NOT NULL,
	match_reason    TEXT NOT NULL,
	review_status   TEXT NOT NULL DEFAULT 'pending',
	notes           TEXT,
	reviewed_by     TEXT,
	reviewed_at     TIMESTAMPTZ,
	executed        BOOLEAN NOT NULL DEFAULT false,
	executed_at     TIMESTAMPTZ,
	execution_error TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pairs_analysis_id ON duplicate_pairs(analysis_id);
CREATE INDEX IF NOT EXISTS idx_pairs_review_status ON duplicate_pairs(review_status);
CREATE INDEX IF NOT EXISTS idx_pairs_unexecuted ON duplicate_pairs(executed) WHERE executed = false;
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "ledger: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "ledger: ping")
}

func (s *PostgresStore) CreateAnalysisRun(ctx context.Context, systemFilter string, thresholds model.Thresholds) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	thJSON, err := json.Marshal(thresholds)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: marshal thresholds")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_runs (id, system_filter, thresholds, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, systemFilter, thJSON, "running", now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: insert analysis run")
	}

	return &model.AnalysisRun{
		ID:           id,
		SystemFilter: systemFilter,
		Thresholds:   thresholds,
		Status:       "running",
		CreatedAt:    now,
	}, nil
}

func (s *PostgresStore) CompleteAnalysisRun(ctx context.Context, analysisID string, tasksCompared, pairsFound int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs SET tasks_compared = $1, pairs_found = $2, status = 'complete', completed_at = $3 WHERE id = $4`,
		tasksCompared, pairsFound, time.Now().UTC(), analysisID,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: complete analysis %s", analysisID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("analysis not found: %s", analysisID)
	}
	return nil
}

func (s *PostgresStore) GetAnalysisRun(ctx context.Context, analysisID string) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var thJSON []byte
	var systemFilter *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, system_filter, thresholds, tasks_compared, pairs_found, status, created_at, completed_at FROM analysis_runs WHERE id = $1`,
		analysisID,
	).Scan(&r.ID, &systemFilter, &thJSON, &r.TasksCompared, &r.PairsFound, &r.Status, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "ledger: get analysis %s", analysisID)
	}
	if systemFilter != nil {
		r.SystemFilter = *systemFilter
	}
	if err := json.Unmarshal(thJSON, &r.Thresholds); err != nil {
		return nil, eris.Wrap(err, "ledger: unmarshal thresholds")
	}
	return &r, nil
}

func (s *PostgresStore) DeleteAnalysis(ctx context.Context, analysisID string) error {
	// Pairs cascade via the FK.
	_, err := s.pool.Exec(ctx, `DELETE FROM analysis_runs WHERE id = $1`, analysisID)
	return eris.Wrapf(err, "ledger: delete analysis %s", analysisID)
}

// bulkChunkSize bounds one COPY batch.
const bulkChunkSize = 1000

func (s *PostgresStore) BulkSavePairs(ctx context.Context, analysisID string, pairs []model.DuplicatePair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(pairs))
	now := time.Now().UTC()
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
			return 0, eris.Wrapf(err, "ledger: marshal task_a for pair %s", id)
		}
		taskB, err := json.Marshal(p.TaskB)
		if err != nil {
			return 0, eris.Wrapf(err, "ledger: marshal task_b for pair %s", id)
		}

		rows = append(rows, []any{
			id, analysisID, taskA, taskB, p.Similarity, string(p.MatchReason),
			string(status), nullable(p.Notes), nullable(p.ReviewedBy), p.ReviewedAt,
			p.Executed, p.ExecutedAt, nullable(p.ExecutionError), createdAt,
		})
	}

	n, err := db.CopyFromChunked(ctx, s.pool, "duplicate_pairs", pairColumns, rows, bulkChunkSize)
	if err != nil {
		return int(n), eris.Wrapf(err, "ledger: bulk save pairs for analysis %s", analysisID)
	}
	return int(n), nil
}

func (s *PostgresStore) GetPair(ctx context.Context, pairID string) (*model.DuplicatePair, error) {
	row := s.pool.QueryRow(ctx, selectPair+` WHERE id = $1`, pairID)
	p, err := scanPair(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "ledger: get pair %s", pairID)
	}
	return p, nil
}

func (s *PostgresStore) GetPendingReviews(ctx context.Context, limit, offset int, systemFilter string) ([]model.DuplicatePair, error) {
	query := selectPair + ` WHERE review_status = 'pending'`
	args := []any{}
	argIdx := 1

	if systemFilter != "" {
		query += fmt.Sprintf(` AND (task_a->>'system_id' ILIKE $%d OR task_b->>'system_id' ILIKE $%d)`, argIdx, argIdx)
		args = append(args, "%"+systemFilter+"%")
		argIdx++
	}

	query += ` ORDER BY similarity DESC, created_at ASC`

	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get pending reviews")
	}
	defer rows.Close()

	return collectPairs(rows, "ledger: pending reviews")
}

func (s *PostgresStore) UpdateReviewStatus(ctx context.Context, pairID string, status model.PairStatus, notes, reviewedBy string) error {
	if !model.ValidPairStatus(status) {
		return eris.Errorf("ledger: invalid review status %q", status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE duplicate_pairs SET review_status = $1, notes = $2, reviewed_by = $3, reviewed_at = $4 WHERE id = $5 AND executed = false`,
		string(status), nullable(notes), nullable(reviewedBy), time.Now().UTC(), pairID,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: update review status %s", pairID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pair not found or already executed: %s", pairID)
	}
	return nil
}

func (s *PostgresStore) BulkUpdateStatus(ctx context.Context, pairIDs []string, status model.PairStatus, reviewedBy string) (*BulkResult, error) {
	if !model.ValidPairStatus(status) {
		return nil, eris.Errorf("ledger: invalid review status %q", status)
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

func (s *PostgresStore) GetUnexecutedReviews(ctx context.Context) ([]model.DuplicatePair, error) {
	rows, err := s.pool.Query(ctx,
		selectPair+` WHERE review_status IN `+terminalStatuses+` AND executed = false ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get unexecuted reviews")
	}
	defer rows.Close()

	return collectPairs(rows, "ledger: unexecuted reviews")
}

func (s *PostgresStore) MarkExecuted(ctx context.Context, pairID string, success bool, execErr string) error {
	if success {
		// One-way flag: once executed, a pair is terminal and is never
		// re-offered to the execution engine.
		_, err := s.pool.Exec(ctx,
			`UPDATE duplicate_pairs SET executed = true, executed_at = $1, execution_error = NULL WHERE id = $2 AND executed = false`,
			time.Now().UTC(), pairID,
		)
		return eris.Wrapf(err, "ledger: mark executed %s", pairID)
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE duplicate_pairs SET execution_error = $1 WHERE id = $2 AND executed = false`,
		execErr, pairID,
	)
	return eris.Wrapf(err, "ledger: record execution error %s", pairID)
}

func (s *PostgresStore) GetReviewStats(ctx context.Context) (*model.ReviewStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT review_status, executed, COUNT(*) FROM duplicate_pairs GROUP BY review_status, executed`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get review stats")
	}
	defer rows.Close()

	stats := &model.ReviewStats{ByStatus: make(map[model.PairStatus]int)}
	for rows.Next() {
		var status string
		var executed bool
		var count int
		if err := rows.Scan(&status, &executed, &count); err != nil {
			return nil, eris.Wrap(err, "ledger: scan stats row")
		}
		stats.ByStatus[model.PairStatus(status)] += count
		stats.Total += count
		if executed {
			stats.Executed += count
		} else if model.PairStatus(status).Resolved() {
			stats.Unexecuted += count
		}
	}
	return stats, eris.Wrap(rows.Err(), "ledger: stats iterate")
}

func (s *PostgresStore) GetSystemsList(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT system_id FROM (
			SELECT task_a->>'system_id' AS system_id FROM duplicate_pairs WHERE review_status = 'pending'
			UNION
			SELECT task_b->>'system_id' FROM duplicate_pairs WHERE review_status = 'pending'
		) AS systems WHERE system_id IS NOT NULL ORDER BY system_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get systems list")
	}
	defer rows.Close()

	var systems []string
	for rows.Next() {
		var sys string
		if err := rows.Scan(&sys); err != nil {
			return nil, eris.Wrap(err, "ledger: scan system")
		}
		systems = append(systems, sys)
	}
	return systems, eris.Wrap(rows.Err(), "ledger: systems iterate")
}

// helpers

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPair(row scannable) (*model.DuplicatePair, error) {
	var p model.DuplicatePair
	var taskA, taskB []byte
	var reason, status string
	var notes, reviewedBy, execErr *string

	err := row.Scan(&p.ID, &p.AnalysisID, &taskA, &taskB, &p.Similarity, &reason,
		&status, &notes, &reviewedBy, &p.ReviewedAt,
		&p.Executed, &p.ExecutedAt, &execErr, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.MatchReason = model.MatchReason(reason)
	p.ReviewStatus = model.PairStatus(status)
	if notes != nil {
		p.Notes = *notes
	}
	if reviewedBy != nil {
		p.ReviewedBy = *reviewedBy
	}
	if execErr != nil {
		p.ExecutionError = *execErr
	}
	if err := json.Unmarshal(taskA, &p.TaskA); err != nil {
		return nil, eris.Wrap(err, "unmarshal task_a")
	}
	if err := json.Unmarshal(taskB, &p.TaskB); err != nil {
		return nil, eris.Wrap(err, "unmarshal task_b")
	}
	return &p, nil
}

func collectPairs(rows pgx.Rows, label string) ([]model.DuplicatePair, error) {
	var pairs []model.DuplicatePair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: scan", label)
		}
		pairs = append(pairs, *p)
	}
	return pairs, eris.Wrapf(rows.Err(), "%s: iterate", label)
}
