package storage

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one embedded schema file.
type Migration struct {
	Filename string
	Checksum string
	SQL      string
}

// Migrations returns the embedded schema files in filename order.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := migrationFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, Migration{
			Filename: name[len("migrations/"):],
			Checksum: checksum(content),
			SQL:      string(content),
		})
	}
	return out, nil
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Migrate applies every embedded migration that has not run yet, each in its
// own transaction, and refuses to continue when an applied file was edited
// マイグレーションを実行
func (s *PostgreSQLStorage) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, s.db, s.logger)
}

// RunMigrations is Migrate against an arbitrary pool.
func RunMigrations(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			filename VARCHAR(255) NOT NULL UNIQUE,
			executed_at TIMESTAMP NOT NULL DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := Migrations()
	if err != nil {
		return err
	}

	var applied []struct {
		Filename string `db:"filename"`
		Checksum string `db:"checksum"`
	}
	if err := db.SelectContext(ctx, &applied, "SELECT filename, checksum FROM schema_migrations"); err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	done := make(map[string]string, len(applied))
	for _, a := range applied {
		done[a.Filename] = a.Checksum
	}

	for _, m := range migrations {
		if sum, ok := done[m.Filename]; ok {
			if sum != m.Checksum {
				return fmt.Errorf("migration %s changed after it was applied", m.Filename)
			}
			logger.Debug("migration already applied", zap.String("file", m.Filename))
			continue
		}

		logger.Info("applying migration", zap.String("file", m.Filename))
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", m.Filename, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply %s: %w", m.Filename, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)", m.Filename, m.Checksum); err != nil {
			tx.Rollback()
			return fmt.Errorf("record %s: %w", m.Filename, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", m.Filename, err)
		}
	}
	return nil
}
