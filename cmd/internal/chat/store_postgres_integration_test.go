package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when PARLEY_DATABASE_URL is set.

func TestPostgresStore_AppendPageDelete(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	st := mustNewStore(t, pool, schema)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	alice, bob := uuid.NewString(), uuid.NewString()
	var ids []string
	for i := 0; i < 4; i++ {
		m, err := st.Append(ctx, AppendInput{SenderID: alice, ReceiverID: bob, Text: fmt.Sprintf("m%d", i)})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if m.Seq != int64(i+1) {
			t.Fatalf("seq=%d want %d", m.Seq, i+1)
		}
		ids = append(ids, m.ID)
	}

	page, err := st.Conversation(ctx, ConversationQuery{UserID: bob, PeerID: alice, Limit: 3})
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(page.Messages) != 3 || !page.HasMore || page.Messages[0].Seq != 4 {
		t.Fatalf("page=%+v", page)
	}
	before := page.Messages[2].Seq
	page, _ = st.Conversation(ctx, ConversationQuery{UserID: alice, PeerID: bob, Before: &before})
	if len(page.Messages) != 1 || page.HasMore || page.Messages[0].Seq != 1 {
		t.Fatalf("second page=%+v", page)
	}

	if _, err := st.Delete(ctx, ids[0], bob); !errors.Is(err, ErrForbidden) {
		t.Fatalf("receiver delete err=%v", err)
	}
	if _, err := st.Delete(ctx, ids[0], alice); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Delete(ctx, ids[0], alice); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err=%v", err)
	}
	if _, err := st.Delete(ctx, "not-a-uuid", alice); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bad id delete err=%v", err)
	}
}

func TestPostgresStore_ConcurrentAppend_StrictSeq_NoGaps(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	st := mustNewStore(t, pool, schema)
	alice, bob := uuid.NewString(), uuid.NewString()

	const n = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []int64
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := alice, bob
			if i%2 == 0 {
				from, to = to, from
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			m, err := st.Append(ctx, AppendInput{SenderID: from, ReceiverID: to, Text: "x"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			seqs = append(seqs, m.Seq)
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("append errors: %v", errs[0])
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, s := range seqs {
		if s != int64(i+1) {
			t.Fatalf("seq gap at %d: got %d", i, s)
		}
	}
}

// ---- test helpers ----

func mustNewStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return st
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

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursors := pgIdent(schema, "conversation_cursors")
	messages := pgIdent(schema, "messages")

	// Minimal schema required by PostgresStore; the migrations add user foreign keys.
	if _, err := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE %s (
  conversation_id TEXT PRIMARY KEY,
  next_seq        BIGINT NOT NULL DEFAULT 1,
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE %s (
  id              UUID PRIMARY KEY,
  conversation_id TEXT NOT NULL,
  seq             BIGINT NOT NULL,
  sender_id       UUID NOT NULL,
  receiver_id     UUID NOT NULL,
  text            TEXT NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT uq_messages_conversation_seq UNIQUE (conversation_id, seq)
);
`, cursors, messages)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}
