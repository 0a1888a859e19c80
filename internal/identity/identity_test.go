package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/auth-core/internal/apperrors"
	"semaphore/auth-core/internal/auth"
	"semaphore/auth-core/internal/cache"
	"semaphore/auth-core/internal/crypto"
	"semaphore/auth-core/internal/events"
	"semaphore/auth-core/internal/model"
	"semaphore/auth-core/internal/repository"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (n *recordingNotifier) Notify(event events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []events.Type {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.Type, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store    *repository.MemoryStore
	hasher   *crypto.Pool
	codec    *auth.Codec
	auth     *Authenticator
	accounts *Accounts
	notes    *recordingNotifier
}

func testParams() crypto.PasswordParams {
	return crypto.PasswordParams{MemoryKiB: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newPool(t *testing.T, params crypto.PasswordParams) *crypto.Pool {
	t.Helper()
	argon, err := crypto.NewArgon2(params)
	require.NoError(t, err)
	return crypto.NewPool(argon, 4, nil)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:     "test-secret",
		Issuer:     "auth-core",
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	hasher := newPool(t, testParams())
	notes := &recordingNotifier{}
	return &fixture{
		store:    store,
		hasher:   hasher,
		codec:    codec,
		auth:     NewAuthenticator(store, hasher, codec, nil),
		accounts: NewAccounts(store, hasher, notes, nil),
		notes:    notes,
	}
}

func (f *fixture) register(t *testing.T, email, password string) model.User {
	t.Helper()
	user, err := f.accounts.Register(context.Background(), RegisterInput{Email: model.StringPtr(email), Password: password})
	require.NoError(t, err)
	return user
}

func requireKind(t *testing.T, err error, kind apperrors.Kind, message string) *apperrors.Error {
	t.Helper()
	require.Error(t, err)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr), "expected domain error, got %v", err)
	assert.Equal(t, kind, appErr.Kind)
	if message != "" {
		assert.Equal(t, message, appErr.Message)
	}
	return appErr
}

func TestRegisterDefaults(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "  a@x.com ", "pw123456")

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "a@x.com", *user.Email)
	assert.Nil(t, user.Phone)
	assert.Equal(t, model.RoleStudent, user.Role)
	assert.True(t, user.IsActive)
	assert.Nil(t, user.UpdatedAt)
	assert.Equal(t, []events.Type{events.UserRegistered}, f.notes.types())
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.accounts.Register(ctx, RegisterInput{Email: model.StringPtr("a@x.com"), Password: "short"})
	appErr := requireKind(t, err, apperrors.KindValidation, "Password must be at least 8 characters")
	assert.Equal(t, "password", appErr.Field)

	_, err = f.accounts.Register(ctx, RegisterInput{Email: model.StringPtr("  "), Password: "pw123456"})
	appErr = requireKind(t, err, apperrors.KindValidation, "Email or phone is required")
	assert.Equal(t, "email_or_phone", appErr.Field)
	assert.Equal(t, apperrors.CodeValidation, appErr.Code)
}

func TestRegisterConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "pw123456")

	_, err := f.accounts.Register(ctx, RegisterInput{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	appErr := requireKind(t, err, apperrors.KindConflict, "User with this email already exists")
	assert.Equal(t, map[string]string{"email": "a@x.com"}, appErr.Details)

	_, err = f.accounts.Register(ctx, RegisterInput{Phone: model.StringPtr("+33612345678"), Password: "pw123456"})
	require.NoError(t, err)
	_, err = f.accounts.Register(ctx, RegisterInput{Email: model.StringPtr("b@x.com"), Phone: model.StringPtr("+33612345678"), Password: "pw123456"})
	requireKind(t, err, apperrors.KindConflict, "User with this phone already exists")
}

// blindStore hides existing users from the pre-check so the store constraint
// is the only thing standing between two registrations.
type blindStore struct {
	*repository.MemoryStore
}

func (blindStore) GetByEmail(context.Context, string) (model.User, error) {
	return model.User{}, repository.ErrNotFound
}

func TestRegisterRaceMapsToConflict(t *testing.T) {
	f := newFixture(t)
	accounts := NewAccounts(blindStore{f.store}, f.hasher, nil, nil)
	ctx := context.Background()

	_, err := accounts.Register(ctx, RegisterInput{Email: model.StringPtr("race@x.com"), Password: "pw123456"})
	require.NoError(t, err)
	_, err = accounts.Register(ctx, RegisterInput{Email: model.StringPtr("race@x.com"), Password: "pw123456"})
	requireKind(t, err, apperrors.KindConflict, "User with this email already exists")
}

func TestLoginIssuesTokens(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "a@x.com", "pw123456")

	result, err := f.auth.Login(context.Background(), Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)
	assert.Equal(t, "bearer", result.Tokens.TokenType)

	access, err := f.codec.Decode(result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.TokenAccess, access.Type)
	assert.Equal(t, "student", access.Role)
	assert.Equal(t, user.ID, access.Subject)

	refresh, err := f.codec.Decode(result.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, auth.TokenRefresh, refresh.Type)
	assert.Empty(t, refresh.Role)
}

func TestLoginByPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.accounts.Register(ctx, RegisterInput{Phone: model.StringPtr("+33612345678"), Password: "pw123456"})
	require.NoError(t, err)

	_, err = f.auth.Login(ctx, Credentials{Phone: model.StringPtr("+33612345678"), Password: "pw123456"})
	assert.NoError(t, err)
}

func TestLoginRequiresIdentifier(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.Login(context.Background(), Credentials{Password: "pw123456"})
	appErr := requireKind(t, err, apperrors.KindValidation, "Email or phone is required")
	assert.Equal(t, "credentials", appErr.Field)
}

func TestLoginDoesNotRevealAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "real@x.com", "pw123456")

	_, unknownErr := f.auth.Login(ctx, Credentials{Email: model.StringPtr("nonexistent@x.com"), Password: "anything"})
	_, wrongErr := f.auth.Login(ctx, Credentials{Email: model.StringPtr("real@x.com"), Password: "wrongpass"})

	unknown := requireKind(t, unknownErr, apperrors.KindUnauthorized, "Invalid credentials")
	wrong := requireKind(t, wrongErr, apperrors.KindUnauthorized, "Invalid credentials")
	assert.Equal(t, unknown, wrong)
}

func TestDeactivationIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "a@x.com", "pw123456")

	before, err := f.auth.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	require.NoError(t, err)

	require.NoError(t, f.accounts.Deactivate(ctx, user.ID))
	first, err := f.store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, f.accounts.Deactivate(ctx, user.ID))

	_, err = f.auth.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	requireKind(t, err, apperrors.KindUnauthorized, "Account is deactivated")

	// A wrong password still gets the generic answer.
	_, err = f.auth.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "wrongpass"})
	requireKind(t, err, apperrors.KindUnauthorized, "Invalid credentials")

	_, err = f.auth.Refresh(ctx, before.Tokens.RefreshToken)
	requireKind(t, err, apperrors.KindUnauthorized, "Account is deactivated")

	stored, err := f.store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	require.NotNil(t, stored.UpdatedAt)
	assert.Equal(t, *first.UpdatedAt, *stored.UpdatedAt, "repeat deactivation must not touch the record")
	assert.Equal(t, []events.Type{events.UserRegistered, events.UserDeactivated}, f.notes.types())
}

func TestDeactivationSurvivesCacheOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	store := repository.NewCachedStore(f.store, cache.New(client, cache.DefaultPrefix, time.Hour), nil, nil)
	authn := NewAuthenticator(store, f.hasher, f.codec, nil)
	accounts := NewAccounts(store, f.hasher, f.notes, nil)

	ctx := context.Background()
	user := f.register(t, "a@x.com", "pw123456")
	login, err := authn.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	require.NoError(t, err)

	// Populate the cache with the active record.
	_, err = authn.CurrentUser(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(cache.DefaultPrefix+"user:"+user.ID))

	mr.SetError("ERR connection blip")
	require.NoError(t, accounts.Deactivate(ctx, user.ID))
	mr.SetError("")

	_, err = authn.Refresh(ctx, login.Tokens.RefreshToken)
	requireKind(t, err, apperrors.KindUnauthorized, "Account is deactivated")

	_, err = authn.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	requireKind(t, err, apperrors.KindUnauthorized, "Account is deactivated")
}

func TestDeactivateUnknownUser(t *testing.T) {
	f := newFixture(t)
	err := f.accounts.Deactivate(context.Background(), "missing")
	requireKind(t, err, apperrors.KindNotFound, "User not found")
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "a@x.com", "pw123456")
	login, err := f.auth.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	require.NoError(t, err)

	pair, err := f.auth.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)

	// The old refresh token stays usable; rotation is advisory.
	_, err = f.codec.Decode(login.Tokens.RefreshToken)
	assert.NoError(t, err)
	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)

	_, err = f.auth.Refresh(ctx, login.Tokens.AccessToken)
	requireKind(t, err, apperrors.KindUnauthorized, "Invalid token type")

	_, err = f.auth.Refresh(ctx, "garbage")
	requireKind(t, err, apperrors.KindUnauthorized, "Invalid or expired refresh token")

	orphan, err := f.codec.IssueRefresh("no-such-user")
	require.NoError(t, err)
	_, err = f.auth.Refresh(ctx, orphan)
	requireKind(t, err, apperrors.KindUnauthorized, "User not found")

	// Refresh uses the current role, not the one at login time.
	user.Role = model.RoleInstructor
	_, err = f.store.Update(ctx, user)
	require.NoError(t, err)
	pair, err = f.auth.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	claims, err := f.codec.Decode(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "instructor", claims.Role)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "pw123456")
	login, err := f.auth.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	require.NoError(t, err)

	assert.NoError(t, f.auth.Logout(ctx, login.Tokens.AccessToken))
	// Stateless: the token keeps working after logout.
	_, ok := f.codec.SubjectIfAccess(login.Tokens.AccessToken)
	assert.True(t, ok)

	err = f.auth.Logout(ctx, "garbage")
	requireKind(t, err, apperrors.KindUnauthorized, "Invalid or expired token")
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "a@x.com", "pw123456")

	got, err := f.auth.CurrentUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = f.auth.CurrentUser(context.Background(), "missing")
	requireKind(t, err, apperrors.KindNotFound, "User not found")
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "a@x.com", "pw123456")
	f.register(t, "taken@x.com", "pw123456")

	updated, err := f.accounts.UpdateProfile(ctx, user.ID, ProfileInput{Phone: model.StringPtr("+33612345678")})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", *updated.Email)
	assert.Equal(t, "+33612345678", *updated.Phone)
	require.NotNil(t, updated.UpdatedAt)

	_, err = f.accounts.UpdateProfile(ctx, user.ID, ProfileInput{Email: model.StringPtr("taken@x.com")})
	requireKind(t, err, apperrors.KindConflict, "User with this email already exists")

	updated, err = f.accounts.UpdateProfile(ctx, user.ID, ProfileInput{Email: model.StringPtr("")})
	require.NoError(t, err)
	assert.Nil(t, updated.Email)

	_, err = f.accounts.UpdateProfile(ctx, user.ID, ProfileInput{Phone: model.StringPtr("")})
	requireKind(t, err, apperrors.KindValidation, "Email or phone is required")

	_, err = f.accounts.UpdateProfile(ctx, "missing", ProfileInput{Email: model.StringPtr("z@x.com")})
	requireKind(t, err, apperrors.KindNotFound, "User not found")
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "a@x.com", "pw123456")

	err := f.accounts.ChangePassword(ctx, "missing", "pw123456", "short")
	requireKind(t, err, apperrors.KindValidation, "New password must be at least 8 characters")

	err = f.accounts.ChangePassword(ctx, "missing", "pw123456", "newpw12345")
	requireKind(t, err, apperrors.KindNotFound, "User not found")

	err = f.accounts.ChangePassword(ctx, user.ID, "wrongpass", "newpw12345")
	requireKind(t, err, apperrors.KindUnauthorized, "Current password is incorrect")

	require.NoError(t, f.accounts.ChangePassword(ctx, user.ID, "pw123456", "newpw12345"))

	_, err = f.auth.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	requireKind(t, err, apperrors.KindUnauthorized, "Invalid credentials")
	_, err = f.auth.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "newpw12345"})
	assert.NoError(t, err)

	stored, err := f.store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.UpdatedAt)
}

func TestChangePasswordByPhoneOnlyAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.accounts.Register(ctx, RegisterInput{Phone: model.StringPtr("+33612345678"), Password: "pw123456"})
	require.NoError(t, err)

	require.NoError(t, f.accounts.ChangePassword(ctx, user.ID, "pw123456", "newpw12345"))
	_, err = f.auth.Login(ctx, Credentials{Phone: model.StringPtr("+33612345678"), Password: "newpw12345"})
	assert.NoError(t, err)
}

func TestLoginUpgradesWeakDigest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "pw123456")
	_, before, err := f.store.GetByEmailWithPassword(ctx, "a@x.com")
	require.NoError(t, err)

	stronger := testParams()
	stronger.Time = 2
	strongHasher := newPool(t, stronger)
	require.True(t, strongHasher.NeedsRehash(before))

	authenticator := NewAuthenticator(f.store, strongHasher, f.codec, nil)
	_, err = authenticator.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	require.NoError(t, err)

	_, after, err := f.store.GetByEmailWithPassword(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.False(t, strongHasher.NeedsRehash(after))

	_, err = authenticator.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	assert.NoError(t, err)
}

func TestScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, "a@x.com", "pw123456")
	assert.Equal(t, model.RoleStudent, user.Role)
	assert.True(t, user.IsActive)

	_, err := f.accounts.Register(ctx, RegisterInput{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	requireKind(t, err, apperrors.KindConflict, "")

	login, err := f.auth.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	require.NoError(t, err)

	pair, err := f.auth.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	_, err = f.codec.Decode(login.Tokens.RefreshToken)
	assert.NoError(t, err)
	_, err = f.codec.Decode(pair.AccessToken)
	assert.NoError(t, err)
	_, err = f.codec.Decode(pair.RefreshToken)
	assert.NoError(t, err)

	require.NoError(t, f.accounts.ChangePassword(ctx, user.ID, "pw123456", "newpw12345"))
	_, err = f.auth.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "pw123456"})
	requireKind(t, err, apperrors.KindUnauthorized, "")
	_, err = f.auth.Login(ctx, Credentials{Email: model.StringPtr("a@x.com"), Password: "newpw12345"})
	assert.NoError(t, err)
}
