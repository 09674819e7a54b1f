package note

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/authz"
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

	for _, tbl := range []string{"note_shares", "note_tags", "notes", "tags", "folders", "users"} {
		_, err := pool.Exec(ctx, "DELETE FROM "+tbl)
		require.NoError(t, err)
	}
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

func TestCreateDedupesTagsCaseInsensitively(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)

	n, err := svc.Create(context.Background(), owner, nil, "Title", "body", []string{"Go", "go", "GO ", "rust"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Go", "rust"}, n.Tags)
}

func TestShareGrantsViewNotDelete(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)
	grantee := makeUser(t, pool)

	n, err := svc.Create(context.Background(), owner, nil, "Title", "body", nil)
	require.NoError(t, err)

	ownerSubject := authz.Subject{UserID: owner}
	require.NoError(t, svc.Share(context.Background(), ownerSubject, n.ID, grantee, true))

	granteeSubject := authz.Subject{UserID: grantee}
	got, err := svc.Get(context.Background(), granteeSubject, n.ID)
	require.NoError(t, err)
	require.True(t, got.CanEdit)

	err = svc.Delete(context.Background(), granteeSubject, n.ID)
	require.Error(t, err)
	require.Equal(t, apperr.Forbidden, apperr.As(err).Code)
}

func TestShareRejectsSelf(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)

	n, err := svc.Create(context.Background(), owner, nil, "Title", "body", nil)
	require.NoError(t, err)

	err = svc.Share(context.Background(), authz.Subject{UserID: owner}, n.ID, owner, false)
	require.Error(t, err)
	require.Equal(t, apperr.SelfShare, apperr.As(err).Code)
}

func TestFavoriteToggleIsIdempotent(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)

	n, err := svc.Create(context.Background(), owner, nil, "Title", "body", nil)
	require.NoError(t, err)

	subject := authz.Subject{UserID: owner}
	require.NoError(t, svc.SetFavorite(context.Background(), subject, n.ID, true))
	require.NoError(t, svc.SetFavorite(context.Background(), subject, n.ID, true))

	got, err := svc.Get(context.Background(), subject, n.ID)
	require.NoError(t, err)
	require.True(t, got.Favorite)
}

func TestMoveToForeignFolderRejected(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)
	other := makeUser(t, pool)

	foreignFolder := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO folders (id, user_id, parent_id, name, description, icon, color, position, is_expanded)
		VALUES ($1, $2, NULL, 'Foreign', '', '', '', 0, true)
	`, foreignFolder, other)
	require.NoError(t, err)

	n, err := svc.Create(context.Background(), owner, nil, "Title", "body", nil)
	require.NoError(t, err)

	folderPtr := &foreignFolder
	_, err = svc.Update(context.Background(), authz.Subject{UserID: owner}, n.ID, nil, nil, &folderPtr, nil)
	require.Error(t, err)
	require.Equal(t, apperr.Forbidden, apperr.As(err).Code)
}

func TestListFiltersByFavorite(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)

	a, err := svc.Create(context.Background(), owner, nil, "A", "", nil)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), owner, nil, "B", "", nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetFavorite(context.Background(), authz.Subject{UserID: owner}, a.ID, true))

	yes := true
	page, err := svc.List(context.Background(), owner, ListFilter{Favorite: &yes})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, a.ID, page.Items[0].ID)
}
