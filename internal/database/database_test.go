package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn         string
		wantDialect Dialect
		wantSource  string
	}{
		{"postgres://bot:pw@localhost/activity", Postgres, "postgres://bot:pw@localhost/activity"},
		{"postgresql://localhost/activity?sslmode=disable", Postgres, "postgresql://localhost/activity?sslmode=disable"},
		{"host=localhost dbname=activity sslmode=disable", Postgres, "host=localhost dbname=activity sslmode=disable"},
		{"sqlite://data/activity.db", SQLite, "data/activity.db"},
		{":memory:", SQLite, ":memory:"},
		{"activity.db", SQLite, "activity.db"},
	}
	for _, tt := range tests {
		dialect, source := parseDSN(tt.dsn)
		if dialect != tt.wantDialect || source != tt.wantSource {
			t.Errorf("parseDSN(%q) = (%s, %q), want (%s, %q)", tt.dsn, dialect, source, tt.wantDialect, tt.wantSource)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: Postgres}
	if got, want := pg.rebind("UPDATE users SET a = ?, b = ? WHERE user_id = ?"),
		"UPDATE users SET a = $1, b = $2 WHERE user_id = $3"; got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
	lite := &DB{dialect: SQLite}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind = %q, want unchanged", got)
	}
}

func TestMigrateFresh(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	v, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if want := migrations[len(migrations)-1].Version; v != want {
		t.Errorf("SchemaVersion = %d, want %d", v, want)
	}

	// running again must be a no-op
	if err := db.migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var applied int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM schema_versions`).Scan(&applied); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if applied != len(migrations) {
		t.Errorf("schema_versions rows = %d, want %d", applied, len(migrations))
	}
}

func TestMigrateUpgradesLegacyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open legacy: %v", err)
	}
	stmts := []string{
		`CREATE TABLE users (user_id TEXT PRIMARY KEY, messages INTEGER DEFAULT 0,
			voice_time INTEGER DEFAULT 0, timer_start TEXT, prev_role_id TEXT)`,
		`INSERT INTO users (user_id, messages, voice_time, timer_start, prev_role_id)
			VALUES ('42', 60, 1000, '2025-01-01T10:00:00.123456', '1266456229945937983')`,
	}
	for _, s := range stmts {
		if _, err := raw.Exec(s); err != nil {
			t.Fatalf("seed legacy: %v", err)
		}
	}
	raw.Close()

	db, err := New("sqlite://" + path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer db.Close()

	rec, err := NewRepository(db).Get(context.Background(), "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || rec.Messages != 60 || rec.PrevRoleID != "1266456229945937983" {
		t.Fatalf("record = %+v, want legacy data preserved", rec)
	}
	if rec.TimerStart == nil || rec.TimerStart.Hour() != 10 {
		t.Errorf("TimerStart = %v, want legacy timestamp parsed", rec.TimerStart)
	}
	if rec.PeriodMessages != 0 {
		t.Errorf("PeriodMessages = %d, want default 0", rec.PeriodMessages)
	}
}

func TestPing(t *testing.T) {
	db := openTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if db.Dialect() != SQLite {
		t.Errorf("Dialect = %s, want sqlite", db.Dialect())
	}
}
