package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It does not own the pool; Close is a no-op. Appends take a transactional
// advisory lock per conversation so seq allocation is gap-free under concurrency.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "parley").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "parley"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const messageColumns = `id::text, conversation_id, seq, sender_id::text, receiver_id::text, text, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.ReceiverID, &m.Text, &m.CreatedAt)
	return m, err
}

func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if err := normalizeAppend(&in); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	key := ConversationKey(in.SenderID, in.ReceiverID)
	cursors := pgIdent(s.schema, "conversation_cursors")
	messages := pgIdent(s.schema, "messages")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+cursors+` AS c (conversation_id, next_seq)
		 VALUES ($1, 2)
		 ON CONFLICT (conversation_id) DO UPDATE
		    SET next_seq = c.next_seq + 1,
		        updated_at = now()
		 RETURNING next_seq - 1`,
		key,
	).Scan(&seq); err != nil {
		return Message{}, fmt.Errorf("allocate seq: %w", err)
	}

	msg, err := scanMessage(tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (id, conversation_id, seq, sender_id, receiver_id, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+messageColumns,
		uuid.NewString(), key, seq, in.SenderID, in.ReceiverID, in.Text, in.Now.UTC(),
	))
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (s *PostgresStore) Conversation(ctx context.Context, q ConversationQuery) (Page, error) {
	if q.UserID == "" || q.PeerID == "" {
		return Page{}, errors.Join(ErrInvalidInput, errors.New("missing participant"))
	}
	limit := clampLimit(q.Limit)
	fetch := limit + 1

	key := ConversationKey(q.UserID, q.PeerID)
	messages := pgIdent(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)
	if q.Before == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+`
			   FROM `+messages+`
			  WHERE conversation_id = $1
			  ORDER BY seq DESC
			  LIMIT $2`,
			key, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+`
			   FROM `+messages+`
			  WHERE conversation_id = $1 AND seq < $2
			  ORDER BY seq DESC
			  LIMIT $3`,
			key, *q.Before, fetch,
		)
	}
	if err != nil {
		return Page{}, err
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return Page{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return Page{Messages: msgs, HasMore: hasMore}, nil
}

func (s *PostgresStore) Delete(ctx context.Context, messageID, requesterID string) (Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return Message{}, ErrNotFound
	}
	messages := pgIdent(s.schema, "messages")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msg, err := scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+` WHERE id = $1 FOR UPDATE`,
		messageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if msg.SenderID != requesterID {
		return Message{}, ErrForbidden
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+messages+` WHERE id = $1`, messageID); err != nil {
		return Message{}, fmt.Errorf("delete message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return msg, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
