package account

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements Directory over the users table.
//
// PostgresDirectory does NOT own the pgx pool; the caller closes it.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresDirectory behavior.
type PostgresOption func(*PostgresDirectory) error

// WithSchema sets the DB schema (default: "parley").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRE.MatchString(schema) {
			return OpError{Op: "account.WithSchema", Kind: ErrConfig, Msg: "invalid schema identifier"}
		}
		d.schema = schema
		return nil
	}
}

func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{pool: pool, schema: "parley"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, OpError{Op: "account.NewPostgresDirectory", Kind: ErrConfig, Msg: "nil pool"}
	}
	return d, nil
}

func (d *PostgresDirectory) users() string {
	return pgx.Identifier{d.schema, "users"}.Sanitize()
}

func (d *PostgresDirectory) Create(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "account.PostgresDirectory.Create"
	if err := validateCreate(op, &in); err != nil {
		return User{}, err
	}

	u := User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		PasswordHash: in.PasswordHash,
		CreatedAt:    in.Now.UTC(),
	}
	_, err := d.pool.Exec(ctx,
		`INSERT INTO `+d.users()+` (id, username, display_name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.DisplayName, u.PasswordHash, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return User{}, OpError{Op: op, Kind: ErrConflict, Msg: "username"}
	}
	if err != nil {
		return User{}, OpError{Op: op, Kind: err}
	}
	return u, nil
}

func (d *PostgresDirectory) ByID(ctx context.Context, id string) (User, error) {
	const op = "account.PostgresDirectory.ByID"
	canonical, err := ParseUserID(id)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrUserNotFound}
	}
	return d.one(ctx, op, `WHERE id = $1`, canonical)
}

func (d *PostgresDirectory) ByUsername(ctx context.Context, username string) (User, error) {
	return d.one(ctx, "account.PostgresDirectory.ByUsername", `WHERE username = $1`, NormalizeUsername(username))
}

func (d *PostgresDirectory) one(ctx context.Context, op, where string, arg any) (User, error) {
	var u User
	err := d.pool.QueryRow(ctx,
		`SELECT id::text, username, display_name, password_hash, created_at
		   FROM `+d.users()+` `+where,
		arg,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrUserNotFound}
	}
	if err != nil {
		return User{}, OpError{Op: op, Kind: err}
	}
	return u, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
