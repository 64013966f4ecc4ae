package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SchemaVersion is the schema the code expects. Opening an older database
// upgrades it in place; records are never dropped.
const SchemaVersion = 3

type migration struct {
	version int
	name    string
	sql     string
}

func Open(ctx context.Context, path string, logger *zap.Logger) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db, SchemaVersion, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	result := make([]migration, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
		body, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		result = append(result, migration{version: version, name: name, sql: string(body)})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].version < result[j].version
	})
	for i, m := range result {
		if m.version != i+1 {
			return nil, fmt.Errorf("migration %s: expected version %d", m.name, i+1)
		}
	}
	return result, nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return version, nil
}

// migrate applies every migration above the persisted version up to target,
// each in its own transaction together with the user_version bump.
func migrate(ctx context.Context, db *sql.DB, target int, logger *zap.Logger) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	if target > len(migrations) {
		return fmt.Errorf("no migration for schema version %d", target)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > target {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, target)
	}

	for _, m := range migrations[current:target] {
		logger.Info("applying migration", zap.String("name", m.name), zap.Int("version", m.version))
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}

	if current < target {
		logger.Info("schema up to date", zap.Int("from", current), zap.Int("to", target))
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("set user_version %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return nil
}
