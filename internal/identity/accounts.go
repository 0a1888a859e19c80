package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"semaphore/auth-core/internal/apperrors"
	"semaphore/auth-core/internal/events"
	"semaphore/auth-core/internal/model"
	"semaphore/auth-core/internal/repository"
)

const (
	msgPasswordTooShort    = "Password must be at least 8 characters"
	msgNewPasswordTooShort = "New password must be at least 8 characters"
	msgWrongPassword       = "Current password is incorrect"
	msgEmailTaken          = "User with this email already exists"
	msgPhoneTaken          = "User with this phone already exists"
)

type RegisterInput struct {
	Email    *string
	Phone    *string
	Password string
}

// ProfileInput carries optional replacements; nil fields are left untouched.
type ProfileInput struct {
	Email *string
	Phone *string
}

type Accounts struct {
	store    repository.Store
	hasher   Hasher
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewAccounts(store repository.Store, hasher Hasher, notifier Notifier, logger *slog.Logger) *Accounts {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounts{
		store:    store,
		hasher:   hasher,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (a *Accounts) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	if passwordTooShort(in.Password) {
		return model.User{}, apperrors.Validation(msgPasswordTooShort, "password")
	}
	email := normalize(in.Email)
	phone := normalize(in.Phone)
	if email == "" && phone == "" {
		return model.User{}, apperrors.Validation(msgIdentifierRequired, "email_or_phone")
	}

	if email != "" {
		if err := a.ensureFree(ctx, a.store.GetByEmail, email, "email"); err != nil {
			return model.User{}, err
		}
	}
	if phone != "" {
		if err := a.ensureFree(ctx, a.store.GetByPhone, phone, "phone"); err != nil {
			return model.User{}, err
		}
	}

	digest, err := a.hasher.Hash(ctx, in.Password)
	if err != nil {
		return model.User{}, apperrors.Internal("", err)
	}

	user := model.User{
		ID:        uuid.NewString(),
		Role:      model.RoleStudent,
		IsActive:  true,
		CreatedAt: a.now().UTC(),
	}
	if email != "" {
		user.Email = model.StringPtr(email)
	}
	if phone != "" {
		user.Phone = model.StringPtr(phone)
	}

	created, err := a.store.Create(ctx, user, digest)
	if err != nil {
		return model.User{}, storeError(err, email, phone)
	}
	a.logger.Info("user registered", "user_id", created.ID)
	a.notifier.Notify(events.NewUserEvent(events.UserRegistered, created, a.now()))
	return created, nil
}

// UpdateProfile does not pre-check uniqueness; the store rejects collisions
// atomically and they surface as conflicts.
func (a *Accounts) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (model.User, error) {
	user, err := a.load(ctx, userID)
	if err != nil {
		return model.User{}, err
	}

	// An empty value clears the identifier, as long as one remains.
	if in.Email != nil {
		user.Email = optional(normalize(in.Email))
	}
	if in.Phone != nil {
		user.Phone = optional(normalize(in.Phone))
	}
	if !user.HasIdentifier() {
		return model.User{}, apperrors.Validation(msgIdentifierRequired, "email_or_phone")
	}
	user.Touch(a.now())

	updated, err := a.store.Update(ctx, user)
	if err != nil {
		return model.User{}, storeError(err, normalize(user.Email), normalize(user.Phone))
	}
	return updated, nil
}

func (a *Accounts) ChangePassword(ctx context.Context, userID, current, next string) error {
	if passwordTooShort(next) {
		return apperrors.Validation(msgNewPasswordTooShort, "new_password")
	}
	user, err := a.load(ctx, userID)
	if err != nil {
		return err
	}

	var digest string
	switch {
	case user.Email != nil && *user.Email != "":
		_, digest, err = a.store.GetByEmailWithPassword(ctx, *user.Email)
	case user.Phone != nil && *user.Phone != "":
		_, digest, err = a.store.GetByPhoneWithPassword(ctx, *user.Phone)
	default:
		err = repository.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound(msgUserNotFound, "user")
		}
		return apperrors.Internal("", err)
	}

	ok, err := a.hasher.Verify(ctx, current, digest)
	if err != nil {
		return apperrors.Internal("", err)
	}
	if !ok {
		return apperrors.Unauthorized(msgWrongPassword)
	}

	nextDigest, err := a.hasher.Hash(ctx, next)
	if err != nil {
		return apperrors.Internal("", err)
	}
	if err := a.store.UpdatePassword(ctx, userID, nextDigest, a.now()); err != nil {
		return storeError(err, "", "")
	}
	a.logger.Info("password changed", "user_id", userID)
	return nil
}

// Deactivate is terminal: nothing in the service sets IsActive back to true.
// Repeating it is a no-op, so the deactivation event fires once.
func (a *Accounts) Deactivate(ctx context.Context, userID string) error {
	user, err := a.load(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return nil
	}
	if err := a.store.Deactivate(ctx, userID, a.now()); err != nil {
		return storeError(err, "", "")
	}
	user.IsActive = false
	a.logger.Info("user deactivated", "user_id", userID)
	a.notifier.Notify(events.NewUserEvent(events.UserDeactivated, user, a.now()))
	return nil
}

func (a *Accounts) load(ctx context.Context, userID string) (model.User, error) {
	user, err := a.store.GetByIDFresh(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, apperrors.NotFound(msgUserNotFound, "user")
		}
		return model.User{}, apperrors.Internal("", err)
	}
	return user, nil
}

func (a *Accounts) ensureFree(ctx context.Context, lookup func(context.Context, string) (model.User, error), value, field string) error {
	_, err := lookup(ctx, value)
	switch {
	case err == nil:
		return conflict(field, value)
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return apperrors.Internal("", err)
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return model.StringPtr(value)
}

func conflict(field, value string) *apperrors.Error {
	msg := msgEmailTaken
	if field == "phone" {
		msg = msgPhoneTaken
	}
	return apperrors.Conflict(msg, "user").WithDetails(map[string]string{field: value})
}

func storeError(err error, email, phone string) error {
	var dup *repository.DuplicateError
	switch {
	case errors.As(err, &dup):
		if dup.Field == "phone" {
			return conflict("phone", phone)
		}
		return conflict("email", email)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound(msgUserNotFound, "user")
	default:
		return apperrors.Internal("", err)
	}
}
