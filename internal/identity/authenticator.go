package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"semaphore/auth-core/internal/apperrors"
	"semaphore/auth-core/internal/auth"
	"semaphore/auth-core/internal/crypto"
	"semaphore/auth-core/internal/model"
	"semaphore/auth-core/internal/repository"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgAccountDeactivated = "Account is deactivated"
	msgInvalidRefresh     = "Invalid or expired refresh token"
	msgInvalidTokenType   = "Invalid token type"
	msgInvalidToken       = "Invalid or expired token"
	msgUserNotFound       = "User not found"
	msgIdentifierRequired = "Email or phone is required"
)

type Credentials struct {
	Email    *string
	Phone    *string
	Password string
}

type LoginResult struct {
	User   model.User
	Tokens TokenPair
}

type Authenticator struct {
	store  repository.Store
	hasher Hasher
	tokens Tokens
	logger *slog.Logger
	now    func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

func NewAuthenticator(store repository.Store, hasher Hasher, tokens Tokens, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// Login checks the credential before the account state so a guesser cannot
// learn that an account exists or is deactivated.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	email := normalize(creds.Email)
	phone := normalize(creds.Phone)
	if email == "" && phone == "" {
		return LoginResult{}, apperrors.Validation(msgIdentifierRequired, "credentials")
	}

	var (
		user   model.User
		digest string
		err    error
	)
	if email != "" {
		user, digest, err = a.store.GetByEmailWithPassword(ctx, email)
	} else {
		user, digest, err = a.store.GetByPhoneWithPassword(ctx, phone)
	}
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return LoginResult{}, apperrors.Internal("", err)
		}
		a.verifyDummy(ctx, creds.Password)
		return LoginResult{}, apperrors.Unauthorized(msgInvalidCredentials)
	}

	ok, err := a.hasher.Verify(ctx, creds.Password, digest)
	if err != nil {
		return LoginResult{}, apperrors.Internal("", err)
	}
	if !ok {
		return LoginResult{}, apperrors.Unauthorized(msgInvalidCredentials)
	}
	if !user.IsActive {
		return LoginResult{}, apperrors.Unauthorized(msgAccountDeactivated)
	}

	if a.hasher.NeedsRehash(digest) {
		a.upgradeDigest(ctx, user.ID, creds.Password)
	}

	pair, err := a.issuePair(user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Tokens: pair}, nil
}

// Refresh mints a new pair from a refresh token. The user is re-read so role
// changes and deactivation since issuance take effect. The presented token is
// not revoked.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := a.tokens.Decode(refreshToken)
	if err != nil {
		a.logger.Debug("refresh rejected", "token", crypto.Fingerprint(refreshToken))
		return TokenPair{}, apperrors.Unauthorized(msgInvalidRefresh)
	}
	if claims.Type != auth.TokenRefresh {
		a.logger.Debug("refresh with wrong token type", "token", crypto.Fingerprint(refreshToken), "type", claims.Type)
		return TokenPair{}, apperrors.Unauthorized(msgInvalidTokenType)
	}

	user, err := a.store.GetByIDFresh(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TokenPair{}, apperrors.Unauthorized(msgUserNotFound)
		}
		return TokenPair{}, apperrors.Internal("", err)
	}
	if !user.IsActive {
		return TokenPair{}, apperrors.Unauthorized(msgAccountDeactivated)
	}
	return a.issuePair(user)
}

// Logout only validates the token. There is no server-side session to end;
// the client discards its tokens.
func (a *Authenticator) Logout(_ context.Context, token string) error {
	if _, err := a.tokens.Decode(token); err != nil {
		return apperrors.Unauthorized(msgInvalidToken)
	}
	return nil
}

func (a *Authenticator) CurrentUser(ctx context.Context, userID string) (model.User, error) {
	user, err := a.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, apperrors.NotFound(msgUserNotFound, "user")
		}
		return model.User{}, apperrors.Internal("", err)
	}
	return user, nil
}

func (a *Authenticator) issuePair(user model.User) (TokenPair, error) {
	access, err := a.tokens.IssueAccess(user.ID, string(user.Role))
	if err != nil {
		return TokenPair{}, apperrors.Internal("", err)
	}
	refresh, err := a.tokens.IssueRefresh(user.ID)
	if err != nil {
		return TokenPair{}, apperrors.Internal("", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: TokenTypeBearer}, nil
}

// verifyDummy spends one verification on unknown identifiers so their
// response time matches a wrong password.
func (a *Authenticator) verifyDummy(ctx context.Context, password string) {
	a.dummyOnce.Do(func() {
		digest, err := a.hasher.Hash(context.Background(), "dummy-password-for-timing")
		if err != nil {
			a.logger.Warn("dummy digest unavailable", "error", err)
			return
		}
		a.dummyDigest = digest
	})
	if a.dummyDigest == "" {
		return
	}
	_, _ = a.hasher.Verify(ctx, password, a.dummyDigest)
}

func (a *Authenticator) upgradeDigest(ctx context.Context, userID, password string) {
	digest, err := a.hasher.Hash(ctx, password)
	if err == nil {
		err = a.store.UpdatePassword(ctx, userID, digest, a.now())
	}
	if err != nil {
		a.logger.Warn("password rehash failed", "user_id", userID, "error", err)
		return
	}
	a.logger.Info("password digest upgraded", "user_id", userID)
}
