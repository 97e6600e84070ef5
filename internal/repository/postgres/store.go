// Package postgres implements the repositories on PostgreSQL through
// database/sql and lib/pq. Row locks come from SELECT ... FOR UPDATE inside
// the enclosing transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"pix_processor/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	repos
}

// repos binds every repository to one querier. inTx enables the row and
// advisory locks that only make sense inside a transaction.
type repos struct {
	q    querier
	inTx bool
}

func (r repos) Accounts() repository.AccountRepository   { return &AccountRepository{r} }
func (r repos) Keys() repository.KeyRepository           { return &KeyRepository{r} }
func (r repos) Transfers() repository.TransferRepository { return &TransferRepository{r} }
func (r repos) Limits() repository.LimitRepository       { return &LimitRepository{r} }
func (r repos) Risk() repository.RiskRepository          { return &RiskRepository{r} }
func (r repos) Rules() repository.RuleRepository         { return &RuleRepository{r} }
func (r repos) Audit() repository.AuditRepository        { return &AuditRepository{r} }
func (r repos) Ledger() repository.LedgerRepository      { return &LedgerRepository{r} }
func (r repos) Webhooks() repository.WebhookRepository   { return &WebhookRepository{r} }

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, repos: repos{q: db}}
}

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repositories) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, repos{q: tx, inTx: true}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// forUpdate appends a row lock when the repositories run inside a transaction.
func (r repos) forUpdate(query string) string {
	if r.inTx {
		return query + " FOR UPDATE"
	}
	return query
}

// mapError translates driver errors into the repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", repository.ErrDuplicate, pqErr.Constraint)
		case "23514", "40001", "40P01":
			return fmt.Errorf("%w: %s", repository.ErrConflict, pqErr.Message)
		}
	}
	return err
}

func notFound(err error, what string, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", repository.ErrNotFound, what, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, mapError(err))
}

func expectRow(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for %s %s: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", repository.ErrNotFound, what, id)
	}
	return nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// stringArray keeps nil slices out of NOT NULL array columns.
func stringArray(s []string) pq.StringArray {
	if s == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(s)
}
