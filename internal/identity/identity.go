// Package identity holds the authentication state machine (login, refresh,
// logout) and the account lifecycle rules (register, profile update, password
// change, deactivation). Transports call into it; it never sees HTTP.
package identity

import (
	"context"
	"strings"
	"unicode/utf8"

	"semaphore/auth-core/internal/auth"
	"semaphore/auth-core/internal/events"
)

const (
	MinPasswordLength = 8
	TokenTypeBearer   = "bearer"
)

// Hasher is the credential hasher as seen by the core. Verify only errors when
// ctx ends; a mismatch or malformed digest is (false, nil).
type Hasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, digest string) (bool, error)
	NeedsRehash(digest string) bool
}

type Tokens interface {
	IssueAccess(subject, role string) (string, error)
	IssueRefresh(subject string) (string, error)
	Decode(token string) (*auth.Claims, error)
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(event events.Event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(events.Event) {}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func normalize(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func passwordTooShort(password string) bool {
	return utf8.RuneCountInString(password) < MinPasswordLength
}
