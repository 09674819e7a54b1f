package task

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

	for _, tbl := range []string{"task_shares", "tasks", "folders", "users"} {
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

func TestCreateDefaultsToMediumPriority(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)

	task, err := svc.Create(context.Background(), owner, nil, "Title", "", "", nil)
	require.NoError(t, err)
	require.Equal(t, Medium, task.Priority)
}

func TestCreateRejectsInvalidPriority(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)

	_, err := svc.Create(context.Background(), owner, nil, "Title", "", Priority("urgent"), nil)
	require.Error(t, err)
	require.Equal(t, apperr.ValidationError, apperr.As(err).Code)
}

func TestSetCompletedIsIdempotent(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)

	task, err := svc.Create(context.Background(), owner, nil, "Title", "", Low, nil)
	require.NoError(t, err)

	subject := authz.Subject{UserID: owner}
	require.NoError(t, svc.SetCompleted(context.Background(), subject, task.ID, true))
	require.NoError(t, svc.SetCompleted(context.Background(), subject, task.ID, true))

	got, err := svc.Get(context.Background(), subject, task.ID)
	require.NoError(t, err)
	require.True(t, got.Completed)
}

func TestShareGranteeCannotDelete(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)
	grantee := makeUser(t, pool)

	task, err := svc.Create(context.Background(), owner, nil, "Title", "", High, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Share(context.Background(), authz.Subject{UserID: owner}, task.ID, grantee, true))

	err = svc.Delete(context.Background(), authz.Subject{UserID: grantee}, task.ID)
	require.Error(t, err)
	require.Equal(t, apperr.Forbidden, apperr.As(err).Code)
}

func TestListFiltersByCompleted(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	owner := makeUser(t, pool)

	a, err := svc.Create(context.Background(), owner, nil, "A", "", Medium, nil)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), owner, nil, "B", "", Medium, nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetCompleted(context.Background(), authz.Subject{UserID: owner}, a.ID, true))

	yes := true
	page, err := svc.List(context.Background(), owner, ListFilter{Completed: &yes})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, a.ID, page.Items[0].ID)
}
