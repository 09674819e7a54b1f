package folder

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

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

	_, err = pool.Exec(ctx, "DELETE FROM folders")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "DELETE FROM users")
	require.NoError(t, err)

	return pool
}

func makeUser(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO users (id, username, username_lower, password_hash, created_at)
		VALUES ($1, $2, $2, 'x', now())
	`, id, "user-"+id.String()[:8])
	require.NoError(t, err)
	return id
}

func TestSeedDefaults(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	userID := makeUser(t, pool)

	svc.SeedDefaults(context.Background(), userID)

	tree, err := svc.Tree(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, tree, 3)
	names := []string{tree[0].Name, tree[1].Name, tree[2].Name}
	require.ElementsMatch(t, []string{"Work", "Personal", "Archive"}, names)
}

func TestCreateRejectsDuplicateNameUnderSameParent(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	userID := makeUser(t, pool)

	_, err := svc.Create(context.Background(), userID, nil, "Projects", "", "", "")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), userID, nil, "Projects", "", "", "")
	require.Error(t, err)
	require.Equal(t, apperr.Duplicate, apperr.As(err).Code)
}

func TestMoveRejectsCycle(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	userID := makeUser(t, pool)

	a, err := svc.Create(context.Background(), userID, nil, "A", "", "", "")
	require.NoError(t, err)
	b, err := svc.Create(context.Background(), userID, &a.ID, "B", "", "", "")
	require.NoError(t, err)

	err = svc.Move(context.Background(), a.ID, &b.ID)
	require.Error(t, err)
	require.Equal(t, apperr.Cycle, apperr.As(err).Code)

	err = svc.Move(context.Background(), a.ID, &a.ID)
	require.Error(t, err)
	require.Equal(t, apperr.Cycle, apperr.As(err).Code)
}

func TestDeleteRejectsNonEmptyFolder(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	userID := makeUser(t, pool)

	parent, err := svc.Create(context.Background(), userID, nil, "Parent", "", "", "")
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), userID, &parent.ID, "Child", "", "", "")
	require.NoError(t, err)

	err = svc.Delete(context.Background(), parent.ID)
	require.Error(t, err)
	require.Equal(t, apperr.NotEmpty, apperr.As(err).Code)
}

func TestPathReturnsRootToLeaf(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	userID := makeUser(t, pool)

	root, err := svc.Create(context.Background(), userID, nil, "Root", "", "", "")
	require.NoError(t, err)
	child, err := svc.Create(context.Background(), userID, &root.ID, "Child", "", "", "")
	require.NoError(t, err)
	grandchild, err := svc.Create(context.Background(), userID, &child.ID, "Grandchild", "", "", "")
	require.NoError(t, err)

	path, err := svc.Path(context.Background(), grandchild.ID)
	require.NoError(t, err)
	require.Len(t, path, 3)
	require.Equal(t, "Root", path[0].Name)
	require.Equal(t, "Child", path[1].Name)
	require.Equal(t, "Grandchild", path[2].Name)
}

func TestDescendantIDs(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	userID := makeUser(t, pool)

	root, err := svc.Create(context.Background(), userID, nil, "Root", "", "", "")
	require.NoError(t, err)
	child, err := svc.Create(context.Background(), userID, &root.ID, "Child", "", "", "")
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), userID, &child.ID, "Grandchild", "", "", "")
	require.NoError(t, err)

	ids, err := svc.DescendantIDs(context.Background(), root.ID)
	require.NoError(t, err)
	require.Len(t, ids, 2)
}
