package realtime

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMirror is a PresenceMirror backed by the presence table.
//
// PostgresMirror does NOT own the pgx pool; the caller closes it.
type PostgresMirror struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresMirror behavior.
type PostgresOption func(*PostgresMirror) error

// WithSchema sets the DB schema (default: "parley"). The name is validated and quoted.
func WithSchema(schema string) PostgresOption {
	return func(m *PostgresMirror) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		m.schema = schema
		return nil
	}
}

// NewPostgresMirror constructs a Postgres-backed PresenceMirror.
func NewPostgresMirror(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresMirror, error) {
	m := &PostgresMirror{pool: pool, schema: "parley"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return m, nil
}

func (m *PostgresMirror) MarkOnline(ctx context.Context, userID string, at time.Time) error {
	return m.upsert(ctx, userID, true, at)
}

func (m *PostgresMirror) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	return m.upsert(ctx, userID, false, at)
}

func (m *PostgresMirror) upsert(ctx context.Context, userID string, online bool, at time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("realtime: empty user id")
	}
	presence := pgIdent(m.schema, "presence")

	_, err := m.pool.Exec(ctx,
		`INSERT INTO `+presence+` AS p (user_id, online, last_seen)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		    SET online = EXCLUDED.online,
		        last_seen = GREATEST(p.last_seen, EXCLUDED.last_seen)`,
		userID, online, at.UTC(),
	)
	return err
}

func (m *PostgresMirror) Online(ctx context.Context, freshAfter time.Time) ([]string, error) {
	presence := pgIdent(m.schema, "presence")

	rows, err := m.pool.Query(ctx,
		`SELECT user_id::text
		   FROM `+presence+`
		  WHERE online AND last_seen > $1
		  ORDER BY user_id::text`,
		freshAfter.UTC(),
	)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (m *PostgresMirror) ExpireStale(ctx context.Context, before time.Time) (int64, error) {
	presence := pgIdent(m.schema, "presence")

	tag, err := m.pool.Exec(ctx,
		`UPDATE `+presence+`
		    SET online = false
		  WHERE online AND last_seen < $1`,
		before.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
