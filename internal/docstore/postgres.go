package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-planner/internal/apperr"
)

const (
	dbTimeout            = 5 * time.Second
	defaultTxRetries     = 3
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	documentColumns      = `path, data, version, updated_at`
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore is a PostgreSQL-backed Gateway over the documents table.
// Transactions run at SERIALIZABLE isolation and are retried on
// serialization failures.
type PostgresStore struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewPostgresStore creates a document store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool, maxRetries: defaultTxRetries}, nil
}

func (s *PostgresStore) Get(ctx context.Context, path string) (Doc, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return getDoc(ctx, s.pool, path, false)
}

func (s *PostgresStore) Set(ctx context.Context, path string, value any, merge bool) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return setDoc(ctx, s.pool, path, value, merge)
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Doc, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	sql := `SELECT ` + documentColumns + ` FROM documents WHERE collection = $1`
	args := []any{q.Collection}

	if len(q.Where) > 0 {
		filter := make(map[string]any, len(q.Where))
		for _, f := range q.Where {
			filter[f.Field] = f.Value
		}
		raw, err := json.Marshal(filter)
		if err != nil {
			return nil, apperr.Wrap("docstore.Query", apperr.ErrInvalidArgument, err)
		}
		args = append(args, string(raw))
		sql += fmt.Sprintf(` AND data @> $%d::jsonb`, len(args))
	}

	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		sql += fmt.Sprintf(` ORDER BY data -> $%d %s, path`, len(args), dir)
	} else {
		sql += ` ORDER BY path`
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Wrap("docstore.Query", apperr.ErrStorage, fmt.Errorf("query documents: %w", err))
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		var d Doc
		if err := rows.Scan(&d.Path, &d.Data, &d.Version, &d.UpdatedAt); err != nil {
			return nil, apperr.Wrap("docstore.Query", apperr.ErrStorage, fmt.Errorf("scan document: %w", err))
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap("docstore.Query", apperr.ErrStorage, fmt.Errorf("iterate documents: %w", err))
	}
	return docs, nil
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(ctx, &postgresTx{tx: tx})
		})
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			if attempt < s.maxRetries {
				slog.Debug("document transaction conflict, retrying", "attempt", attempt+1, "error", err)
				continue
			}
			return apperr.Wrap("docstore.RunInTx", apperr.ErrConflict, err)
		}
		if apperr.KindOf(err) != nil {
			return err
		}
		return apperr.Wrap("docstore.RunInTx", apperr.ErrStorage, err)
	}
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Get(ctx context.Context, path string) (Doc, bool, error) {
	return getDoc(ctx, t.tx, path, true)
}

func (t *postgresTx) Set(ctx context.Context, path string, value any, merge bool) error {
	return setDoc(ctx, t.tx, path, value, merge)
}

func getDoc(ctx context.Context, q querier, path string, forUpdate bool) (Doc, bool, error) {
	if err := validatePath("docstore.Get", path); err != nil {
		return Doc{}, false, err
	}
	sql := `SELECT ` + documentColumns + ` FROM documents WHERE path = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var d Doc
	err := q.QueryRow(ctx, sql, path).Scan(&d.Path, &d.Data, &d.Version, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Doc{}, false, nil
	}
	if err != nil {
		return Doc{}, false, apperr.Wrap("docstore.Get", apperr.ErrStorage, fmt.Errorf("get %s: %w", path, err))
	}
	return d, true, nil
}

func setDoc(ctx context.Context, q querier, path string, value any, merge bool) error {
	if err := validatePath("docstore.Set", path); err != nil {
		return err
	}
	data, err := encode("docstore.Set", value, merge)
	if err != nil {
		return err
	}

	update := `EXCLUDED.data`
	if merge {
		update = `documents.data || EXCLUDED.data`
	}
	var version int64
	err = q.QueryRow(ctx,
		`INSERT INTO documents (path, collection, data, version, updated_at)
		 VALUES ($1, $2, $3::jsonb, 1, NOW())
		 ON CONFLICT (path) DO UPDATE
		 SET data = `+update+`, version = documents.version + 1, updated_at = NOW()
		 RETURNING version`,
		path,
		CollectionOf(path),
		string(data),
	).Scan(&version)
	if err != nil {
		return apperr.Wrap("docstore.Set", apperr.ErrStorage, fmt.Errorf("set %s: %w", path, err))
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected
	}
	return false
}
