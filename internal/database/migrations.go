package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type migration struct {
	Version     int
	Description string
	Statements  []string
	Columns     []column
}

// column is an additive ALTER TABLE, skipped when the column already exists
// (databases created by the earliest releases of the bot carry some of them).
type column struct {
	Table      string
	Name       string
	Definition string
}

// The users table grew one column at a time while the bot was in use; every
// step stays additive so older databases upgrade in place.
var migrations = []migration{
	{
		Version:     1,
		Description: "users: message and voice counters",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				user_id TEXT PRIMARY KEY,
				messages BIGINT NOT NULL DEFAULT 0,
				voice_time BIGINT NOT NULL DEFAULT 0,
				timer_start TEXT
			)`,
		},
	},
	{
		Version:     2,
		Description: "users: role held before promotion",
		Columns: []column{
			{Table: "users", Name: "prev_role_id", Definition: "TEXT"},
		},
	},
	{
		Version:     3,
		Description: "users: counters for the current decay window",
		Columns: []column{
			{Table: "users", Name: "period_messages", Definition: "BIGINT NOT NULL DEFAULT 0"},
			{Table: "users", Name: "period_voice_time", Definition: "BIGINT NOT NULL DEFAULT 0"},
		},
		Statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_users_timer_start ON users(timer_start)`,
		},
	},
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		slog.Info("applied migration", slog.String("component", "db_migrate"),
			slog.Int("version", m.Version), slog.String("description", m.Description))
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, c := range m.Columns {
		exists, err := db.hasColumn(ctx, tx, c.Table, c.Name)
		if err != nil {
			return err
		}
		if exists {
			slog.Info("column already present, skipping", slog.String("component", "db_migrate"),
				slog.String("table", c.Table), slog.String("column", c.Name))
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.Table, c.Name, c.Definition)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		db.rebind(`INSERT INTO schema_versions (version, description, applied_at) VALUES (?, ?, ?)`),
		m.Version, m.Description, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) hasColumn(ctx context.Context, tx *sql.Tx, table, name string) (bool, error) {
	query := `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
	if db.dialect == Postgres {
		query = `SELECT COUNT(*) FROM information_schema.columns WHERE table_name = ? AND column_name = ?`
	}
	var n int
	if err := tx.QueryRowContext(ctx, db.rebind(query), table, name).Scan(&n); err != nil {
		return false, fmt.Errorf("inspect %s.%s: %w", table, name, err)
	}
	return n > 0, nil
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
