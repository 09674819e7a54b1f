package identity

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// getTestDB connects to a real database from TEST_DATABASE_URL or skips,
// matching the integration-test idiom the rest of the core uses for
// anything that needs Postgres.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	ctx := context.Background()
	pool, err := store.Open(ctx, dbURL)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx, pool))

	_, err = pool.Exec(ctx, "DELETE FROM refresh_tokens")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "DELETE FROM oauth_links")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "DELETE FROM users")
	require.NoError(t, err)

	return pool
}

func TestValidatePasswordRules(t *testing.T) {
	require.NoError(t, validatePassword("Str0ng!Password"))
	require.Error(t, validatePassword("short1!"))
	require.Error(t, validatePassword("alllowercase123!"))
	require.Error(t, validatePassword("ALLUPPERCASE123!"))
	require.Error(t, validatePassword("NoDigitsHere!!!"))
	require.Error(t, validatePassword("NoSpecialChars123"))
	require.Error(t, validatePassword("Has Whitespace1!"))
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := hashPassword("Str0ng!Password")
	require.NoError(t, err)
	require.True(t, checkPassword(hash, "Str0ng!Password"))
	require.False(t, checkPassword(hash, "wrong"))
}

func TestTOTPLimiterDeniesAfterMax(t *testing.T) {
	l := newTOTPLimiter(3, time.Minute)
	require.True(t, l.Allow("user-1"))
	require.True(t, l.Allow("user-1"))
	require.True(t, l.Allow("user-1"))
	require.False(t, l.Allow("user-1"))
	require.True(t, l.Allow("user-2"))
}

func TestHashTokenDeterministic(t *testing.T) {
	require.Equal(t, HashToken("abc"), HashToken("abc"))
	require.NotEqual(t, HashToken("abc"), HashToken("abd"))
}

func TestRegisterAndAuthenticate(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)

	u, err := svc.Register(context.Background(), "alice", "Str0ng!Password1", nil)
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)

	_, err = svc.Register(context.Background(), "Alice", "Str0ng!Password1", nil)
	require.Error(t, err)
	require.Equal(t, apperr.Duplicate, apperr.As(err).Code)

	got, need2FA, err := svc.Authenticate(context.Background(), "ALICE", "Str0ng!Password1")
	require.NoError(t, err)
	require.False(t, need2FA)
	require.Equal(t, u.ID, got.ID)

	_, _, err = svc.Authenticate(context.Background(), "alice", "wrong-password")
	require.Error(t, err)
	require.Equal(t, apperr.Unauthorized, apperr.As(err).Code)
}

func TestEnableAndConfirm2FA(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)

	u, err := svc.Register(context.Background(), "bob", "Str0ng!Password1", nil)
	require.NoError(t, err)

	secret, uri, err := svc.Enable2FA(context.Background(), u, "inkwell")
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.NotEmpty(t, uri)

	err = svc.Confirm2FA(context.Background(), u, "000000")
	require.Error(t, err)
}

func TestAdminOpsProtectBootstrapAndSelf(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)

	admin, err := svc.Register(context.Background(), BootstrapAdminUsername, "Str0ng!Password1", nil)
	require.NoError(t, err)
	_, err = pool.Exec(context.Background(), "UPDATE users SET is_admin = true WHERE id = $1", admin.ID)
	require.NoError(t, err)
	admin.IsAdmin = true

	other, err := svc.Register(context.Background(), "carol", "Str0ng!Password1", nil)
	require.NoError(t, err)
	_, err = pool.Exec(context.Background(), "UPDATE users SET is_admin = true WHERE id = $1", other.ID)
	require.NoError(t, err)
	other.IsAdmin = true

	err = svc.Lock(context.Background(), other, admin)
	require.Error(t, err)
	require.Equal(t, apperr.ForbiddenProtected, apperr.As(err).Code)

	err = svc.RevokeAdmin(context.Background(), other, other)
	require.Error(t, err)
}

func TestNonCollidingUsername(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)

	_, err := svc.Register(context.Background(), "dave", "Str0ng!Password1", nil)
	require.NoError(t, err)

	name, err := svc.nonCollidingUsername(context.Background(), "dave")
	require.NoError(t, err)
	require.NotEqual(t, "dave", name)
}
