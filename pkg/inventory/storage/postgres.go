package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// PostgreSQLStorage implements inventory.Storage on PostgreSQL
// ที่เก็บข้อมูลบน PostgreSQL
type PostgreSQLStorage struct {
	*pgQueries

	db     *sqlx.DB
	logger *zap.Logger
}

var _ inventory.Storage = (*PostgreSQLStorage)(nil)

// NewPostgreSQLStorage opens and pings the database at dsn
// เปิดการเชื่อมต่อฐานข้อมูล
func NewPostgreSQLStorage(dsn string, logger *zap.Logger) (*PostgreSQLStorage, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgreSQLStorage{
		pgQueries: &pgQueries{ext: db, logger: logger},
		db:        db,
		logger:    logger,
	}, nil
}

// DB exposes the pool for migrations and health checks.
func (s *PostgreSQLStorage) DB() *sqlx.DB {
	return s.db
}

// InTx runs fn inside one read-committed transaction and commits when fn
// returns nil.
func (s *PostgreSQLStorage) InTx(ctx context.Context, fn func(q inventory.Queries) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return wrapErr("begin", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&pgQueries{ext: tx, logger: s.logger}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit", err)
	}
	return nil
}

// InReadTx runs fn inside a read-only repeatable-read transaction so every
// statement sees the same snapshot.
func (s *PostgreSQLStorage) InReadTx(ctx context.Context, fn func(q inventory.Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return wrapErr("begin", err)
	}
	defer tx.Rollback()

	if err := fn(&pgQueries{ext: tx, logger: s.logger}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit", err)
	}
	return nil
}

// Ping checks the connection.
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

// pgQueries issues statements against either the pool or a transaction.
type pgQueries struct {
	ext    sqlx.ExtContext
	logger *zap.Logger
}

// insertReturningID binds the named query against arg and scans the new id.
func (q *pgQueries) insertReturningID(ctx context.Context, query string, arg any) (int64, error) {
	bound, args, err := q.ext.BindNamed(query, arg)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := q.ext.QueryRowxContext(ctx, bound, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// execOne runs query and reports NotFound when no row changed.
func (q *pgQueries) execOne(ctx context.Context, op, entity string, key any, query string, args ...any) error {
	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return inventory.NewNotFoundError(entity, key)
	}
	return nil
}

// SQLSTATE codes the ledger reacts to.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func pqCode(err error) (pq.ErrorCode, string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code, pqErr.Constraint, true
	}
	return "", "", false
}

// wrapErr maps driver errors to the domain error kinds. Unique violations
// that slip past the pre-checks surface without the existing row.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	code, constraint, ok := pqCode(err)
	if ok {
		switch code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
			return inventory.ErrContention
		case pgUniqueViolation:
			return inventory.NewConflictError(conflictKindFor(constraint), constraint, nil)
		case pgForeignKeyViolation:
			return inventory.NewConflictError(inventory.ConflictMasterInUse, constraint, nil)
		}
	}
	return inventory.NewStorageError(op, err)
}

func conflictKindFor(constraint string) inventory.ConflictKind {
	switch constraint {
	case "tires_natural_key", "wheels_natural_key", "spare_parts_natural_key":
		return inventory.ConflictDuplicateNaturalKey
	case "barcodes_pkey":
		return inventory.ConflictBarcodeCollision
	case "promotions_name_key":
		return inventory.ConflictPromotionNameTaken
	}
	return inventory.ConflictNameTaken
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// jsonParam passes raw JSON as text; lib/pq would send []byte as bytea.
func jsonParam(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// dateParam formats a calendar date for a DATE column.
func dateParam(t time.Time) string {
	return identity.FormatDate(t)
}

// bangkokDate re-anchors a scanned DATE at Bangkok midnight.
func bangkokDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, identity.Bangkok)
}

func rawOrNil(b []byte) json.RawMessage {
	if b == nil {
		return nil
	}
	return json.RawMessage(b)
}
