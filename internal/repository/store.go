package repository

import (
	"context"
	"errors"
	"time"

	"semaphore/auth-core/internal/model"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("duplicate user identifier")
)

// DuplicateError reports which identifier collided. It matches ErrDuplicate.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return ErrDuplicate.Error()
	}
	return ErrDuplicate.Error() + ": " + e.Field
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// Store persists user records. Implementations must make uniqueness of email and
// phone atomic with the write, and report absence as ErrNotFound.
type Store interface {
	Create(ctx context.Context, user model.User, passwordHash string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	// GetByIDFresh reads from the system of record, bypassing any cache. Use it
	// wherever account state gates an operation.
	GetByIDFresh(ctx context.Context, id string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	GetByEmailWithPassword(ctx context.Context, email string) (model.User, string, error)
	GetByPhoneWithPassword(ctx context.Context, phone string) (model.User, string, error)
	// Update persists email, phone, role and updated_at.
	Update(ctx context.Context, user model.User) (model.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	Deactivate(ctx context.Context, id string, updatedAt time.Time) error
	Ping(ctx context.Context) error
}
