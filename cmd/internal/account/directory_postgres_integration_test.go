package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when PARLEY_DATABASE_URL is set.

func TestPostgresDirectory(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	users := pgx.Identifier{schema, "users"}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE %s (
  id            UUID PRIMARY KEY,
  username      TEXT NOT NULL UNIQUE,
  display_name  TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`, users)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	dir, err := NewPostgresDirectory(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresDirectory: %v", err)
	}

	u, err := dir.Create(ctx, CreateUserInput{Username: " Carol ", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.Username != "carol" || u.DisplayName != "carol" {
		t.Fatalf("user=%+v", u)
	}

	if _, err := dir.Create(ctx, CreateUserInput{Username: "carol", PasswordHash: "h"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate err=%v", err)
	}

	got, err := dir.ByID(ctx, u.ID)
	if err != nil || got.Username != "carol" {
		t.Fatalf("ByID=%+v,%v", got, err)
	}
	if got, err := dir.ByID(ctx, strings.ToUpper(u.ID)); err != nil || got.ID != u.ID {
		t.Fatalf("ByID(upper)=%+v,%v", got, err)
	}
	if _, err := dir.ByUsername(ctx, "CAROL"); err != nil {
		t.Fatalf("ByUsername: %v", err)
	}
	if _, err := dir.ByID(ctx, "3f0e9c1a-0000-4000-8000-000000000000"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("missing ByID err=%v", err)
	}
	if _, err := dir.ByID(ctx, "admin"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("non-uuid ByID err=%v", err)
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("PARLEY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PARLEY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	b := make([]byte, 6)
	_, _ = rand.Read(b)
	schema := "parley_it_" + hex.EncodeToString(b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}
