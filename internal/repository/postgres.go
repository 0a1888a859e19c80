package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"semaphore/auth-core/internal/model"
)

const uniqueViolation = "23505"

const userColumns = `id::text, email, phone, role, is_active, created_at, updated_at`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, user model.User, passwordHash string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
    INSERT INTO users (id, email, phone, password_hash, role, is_active, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
    RETURNING `+userColumns,
		user.ID, user.Email, user.Phone, passwordHash, string(user.Role), user.IsActive, user.CreatedAt)
	created, err := scanUser(row)
	return created, mapError(err)
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	return user, mapError(err)
}

func (s *PostgresStore) GetByIDFresh(ctx context.Context, id string) (model.User, error) {
	return s.GetByID(ctx, id)
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	return user, mapError(err)
}

func (s *PostgresStore) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
	user, err := scanUser(row)
	return user, mapError(err)
}

func (s *PostgresStore) GetByEmailWithPassword(ctx context.Context, email string) (model.User, string, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+`, password_hash FROM users WHERE email = $1`, email)
	user, hash, err := scanUserWithPassword(row)
	return user, hash, mapError(err)
}

func (s *PostgresStore) GetByPhoneWithPassword(ctx context.Context, phone string) (model.User, string, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+`, password_hash FROM users WHERE phone = $1`, phone)
	user, hash, err := scanUserWithPassword(row)
	return user, hash, mapError(err)
}

func (s *PostgresStore) Update(ctx context.Context, user model.User) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
    UPDATE users
    SET email = $2, phone = $3, role = $4, updated_at = $5
    WHERE id = $1
    RETURNING `+userColumns,
		user.ID, user.Email, user.Phone, string(user.Role), user.UpdatedAt)
	updated, err := scanUser(row)
	return updated, mapError(err)
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, updatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, id string, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET is_active = false, updated_at = $2 WHERE id = $1`, id, updatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	var role string
	err := row.Scan(&user.ID, &user.Email, &user.Phone, &role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	user.Role = model.Role(role)
	return user, err
}

func scanUserWithPassword(row pgx.Row) (model.User, string, error) {
	var user model.User
	var role, hash string
	err := row.Scan(&user.ID, &user.Email, &user.Phone, &role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &hash)
	user.Role = model.Role(role)
	return user, hash, err
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "users_email_key":
			return &DuplicateError{Field: "email"}
		case "users_phone_key":
			return &DuplicateError{Field: "phone"}
		default:
			return &DuplicateError{}
		}
	}
	return err
}
