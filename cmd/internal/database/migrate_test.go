package database

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file in migrations: %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatalf("no migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
	for v := range downs {
		if !ups[v] {
			t.Errorf("migration %s has no up file", v)
		}
	}
}

// Integration tests are enabled when PARLEY_DATABASE_URL is set. They migrate
// the target database up and back down, so point it at a scratch database.

func TestMigrationsUpDownUp(t *testing.T) {
	url := strings.TrimSpace(os.Getenv("PARLEY_DATABASE_URL"))
	if url == "" {
		t.Skip("integration test skipped: PARLEY_DATABASE_URL is not set")
	}

	if err := RunMigrations(url); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	if err := RunMigrations(url); err != nil {
		t.Fatalf("RunMigrations (idempotent): %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, PoolConfig{URL: url, MaxConns: 2})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"users", "messages", "conversation_cursors", "presence"} {
		var exists bool
		if err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'parley' AND table_name = $1)`,
			table,
		).Scan(&exists); err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table parley.%s missing", table)
		}
	}

	v, dirty, ok, err := Version(url)
	if err != nil || !ok || dirty || v != 1 {
		t.Fatalf("Version=%d dirty=%v ok=%v err=%v", v, dirty, ok, err)
	}

	if err := RollbackAll(url); err != nil {
		t.Fatalf("RollbackAll: %v", err)
	}
	if err := RunMigrations(url); err != nil {
		t.Fatalf("RunMigrations after rollback: %v", err)
	}
}
