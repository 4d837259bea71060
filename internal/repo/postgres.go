package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/tta-agent/internal/domain"
)

// pgUniqueViolation — SQLSTATE нарушения уникальности.
const pgUniqueViolation = "23505"

// errDecode — строка прочитана, но JSONB не разбирается.
var errDecode = errors.New("decode run")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	status       TEXT        NOT NULL,
	request      JSONB       NOT NULL,
	steps        JSONB       NOT NULL DEFAULT '[]'::jsonb,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS runs_status_created_idx ON runs (status, created_at DESC);
CREATE INDEX IF NOT EXISTS runs_completed_idx ON runs (completed_at) WHERE completed_at IS NOT NULL;
`

const selectColumns = `id, status, request, steps, error, created_at, started_at, completed_at`

// PostgresStore — хранилище runs в PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт новый PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate создаёт схему, если её ещё нет.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return classify("migrate", err)
	}
	return nil
}

// Create сохраняет новый run.
func (s *PostgresStore) Create(ctx context.Context, run *domain.RunRecord) error {
	requestJSON, stepsJSON, err := marshalRun(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, status, request, steps, error, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		requestJSON,
		stepsJSON,
		nullString(run.Error),
		run.CreatedAt,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateRunID, run.ID)
		}
		return classify("insert run", err)
	}
	return nil
}

// Get возвращает run по id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, classify("get run", err)
	}
	return run, nil
}

// Update блокирует строку через SELECT ... FOR UPDATE, применяет mutate
// и записывает результат в той же транзакции.
func (s *PostgresStore) Update(ctx context.Context, id string, mutate func(*domain.RunRecord) error) (*domain.RunRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify("begin tx", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + selectColumns + ` FROM runs WHERE id = $1 FOR UPDATE`
	run, err := scanRun(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, classify("lock run", err)
	}

	if err := mutate(run); err != nil {
		return nil, err
	}

	requestJSON, stepsJSON, err := marshalRun(run)
	if err != nil {
		return nil, err
	}

	update := `
		UPDATE runs
		SET status = $2, request = $3, steps = $4, error = $5, started_at = $6, completed_at = $7
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, update,
		run.ID,
		run.Status,
		requestJSON,
		stepsJSON,
		nullString(run.Error),
		run.StartedAt,
		run.CompletedAt,
	); err != nil {
		return nil, classify("update run", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify("commit", err)
	}
	return run, nil
}

// List возвращает runs с фильтрацией, новые первыми.
func (s *PostgresStore) List(ctx context.Context, filter RunFilter) ([]*domain.RunRecord, error) {
	filter = filter.normalized()

	query := `SELECT ` + selectColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, classify("list runs", err)
	}
	defer rows.Close()

	runs := make([]*domain.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, classify("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list runs", err)
	}
	return runs, nil
}

// DeleteFinishedBefore удаляет завершённые runs старше t.
func (s *PostgresStore) DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error) {
	query := `
		DELETE FROM runs
		WHERE status IN ('succeeded', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL
		  AND completed_at < $1
	`
	result, err := s.pool.Exec(ctx, query, t)
	if err != nil {
		return 0, classify("delete finished runs", err)
	}
	return int(result.RowsAffected()), nil
}

// Ping проверяет соединение с БД.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// --- Helpers ---

// scanRun сканирует одну строку в RunRecord.
// pgx.Row и pgx.Rows оба реализуют Scan.
func scanRun(row pgx.Row) (*domain.RunRecord, error) {
	var run domain.RunRecord
	var requestJSON, stepsJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.Status,
		&requestJSON,
		&stepsJSON,
		&runError,
		&run.CreatedAt,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(requestJSON, &run.Request); err != nil {
		return nil, fmt.Errorf("%w: request: %v", errDecode, err)
	}
	run.Steps = []domain.StepResult{}
	if stepsJSON != nil {
		if err := json.Unmarshal(stepsJSON, &run.Steps); err != nil {
			return nil, fmt.Errorf("%w: steps: %v", errDecode, err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	run.CreatedAt = run.CreatedAt.UTC()
	if run.StartedAt != nil {
		t := run.StartedAt.UTC()
		run.StartedAt = &t
	}
	if run.CompletedAt != nil {
		t := run.CompletedAt.UTC()
		run.CompletedAt = &t
	}
	return &run, nil
}

func marshalRun(run *domain.RunRecord) (requestJSON, stepsJSON []byte, err error) {
	requestJSON, err = json.Marshal(run.Request)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}
	steps := run.Steps
	if steps == nil {
		steps = []domain.StepResult{}
	}
	stepsJSON, err = json.Marshal(steps)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal steps: %w", err)
	}
	return requestJSON, stepsJSON, nil
}

// classify отличает ошибки сервера БД от ошибок соединения.
// Всё, что не дошло до PostgreSQL, считается недоступностью хранилища.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, errDecode) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
