package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"

	"github.com/storefront/authserver/types"
)

const userColumns = `id, name, email, role, password_hash, reset_token_digest, reset_token_expiry, created_at, updated_at`

// UserRepository handles persistence for users in PostgreSQL.
// Every write is a single statement, so each is atomic per row.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var (
		user   types.User
		role   string
		digest sql.NullString
		expiry sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&role,
		&user.PasswordHash,
		&digest,
		&expiry,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.Role = types.ParseRole(role)
	if digest.Valid && expiry.Valid {
		d, e := digest.String, expiry.Time
		user.ResetTokenDigest = &d
		user.ResetTokenExpiry = &e
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByResetDigest finds the account holding digest. Expiry is checked by
// the caller.
func (r *UserRepository) GetByResetDigest(ctx context.Context, digest string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE reset_token_digest = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, digest))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	if !user.Role.Valid() {
		user.Role = types.DefaultRole
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, name, email, role, password_hash, reset_token_digest, reset_token_expiry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Name,
		user.Email,
		string(user.Role),
		user.PasswordHash,
		user.ResetTokenDigest,
		user.ResetTokenExpiry,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, mapWriteError(err)
	}
	return user, nil
}

// Update saves every mutable column of user in place.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE users
		SET name = $1,
			email = $2,
			role = $3,
			password_hash = $4,
			reset_token_digest = $5,
			reset_token_expiry = $6,
			updated_at = $7
		WHERE id = $8`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Name,
		user.Email,
		string(user.Role),
		user.PasswordHash,
		user.ResetTokenDigest,
		user.ResetTokenExpiry,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return types.User{}, mapWriteError(err)
	}
	if err := expectOneRow(result); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// SetResetToken stores a new reset digest and expiry, replacing any
// outstanding one.
func (r *UserRepository) SetResetToken(ctx context.Context, id, digest string, expiry time.Time) error {
	const query = `
		UPDATE users
		SET reset_token_digest = $1,
			reset_token_expiry = $2,
			updated_at = $3
		WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, digest, expiry, time.Now().UTC(), id)
	if err != nil {
		return mapWriteError(err)
	}
	return expectOneRow(result)
}

// ClearResetToken drops the reset pair only while digest is still the
// outstanding one, so a newer request is never wiped.
func (r *UserRepository) ClearResetToken(ctx context.Context, id, digest string) error {
	const query = `
		UPDATE users
		SET reset_token_digest = NULL,
			reset_token_expiry = NULL,
			updated_at = $1
		WHERE id = $2 AND reset_token_digest = $3`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id, digest)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// ResetPassword replaces the password hash and clears the reset pair in one
// statement, provided digest is still outstanding and unexpired at now.
// ErrNotFound means the secret was already consumed, replaced or expired.
func (r *UserRepository) ResetPassword(ctx context.Context, id, digest, passwordHash string, now time.Time) error {
	const query = `
		UPDATE users
		SET password_hash = $1,
			reset_token_digest = NULL,
			reset_token_expiry = NULL,
			updated_at = $2
		WHERE id = $3
			AND reset_token_digest = $4
			AND reset_token_expiry > $2`
	result, err := r.db.ExecContext(ctx, query, passwordHash, now.UTC(), id, digest)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
		return ErrConflict
	}
	return err
}
