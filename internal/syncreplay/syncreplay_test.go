package syncreplay

import (
	"context"
	"os"
	"sync"
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

	for _, tbl := range []string{"sync_replay_log", "users"} {
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

// fakeDispatcher records calls and can be made to fail on demand, standing
// in for note/task/folder without needing their full schemas here.
type fakeDispatcher struct {
	mu        sync.Mutex
	creates   int
	updates   int
	deletes   int
	failNext  bool
	createErr error
}

func (d *fakeDispatcher) Create(ctx context.Context, callerID uuid.UUID, payload map[string]any) (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext {
		d.failNext = false
		return uuid.Nil, d.createErr
	}
	d.creates++
	return uuid.New(), nil
}

func (d *fakeDispatcher) Update(ctx context.Context, callerID, serverID uuid.UUID, payload map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates++
	return nil
}

func (d *fakeDispatcher) Delete(ctx context.Context, callerID, serverID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes++
	return nil
}

func TestReplayCreateResolvesTempIdForLaterUpdate(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	user := makeUser(t, pool)
	note := &fakeDispatcher{}
	svc := New(pool, map[EntityType]Dispatcher{EntityNote: note})

	ops := []Operation{
		{ClientOpID: "op1", EntityType: EntityNote, Kind: OpCreate, ClientTempID: "tmp-1", ClientTimestamp: 1, Payload: map[string]any{"title": "a"}},
		{ClientOpID: "op2", EntityType: EntityNote, Kind: OpUpdate, ClientTempID: "tmp-1", ClientTimestamp: 2, Payload: map[string]any{"title": "b"}},
	}

	outcomes, err := svc.Replay(context.Background(), user, ops)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, "ok", outcomes[0].Status)
	require.Equal(t, "ok", outcomes[1].Status)
	require.NotNil(t, outcomes[1].ServerID)
	require.Equal(t, *outcomes[0].ServerID, *outcomes[1].ServerID)
	require.Equal(t, 1, note.creates)
	require.Equal(t, 1, note.updates)
}

func TestReplayIsIdempotentAcrossRepeatedBatches(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	user := makeUser(t, pool)
	note := &fakeDispatcher{}
	svc := New(pool, map[EntityType]Dispatcher{EntityNote: note})

	ops := []Operation{
		{ClientOpID: "op1", EntityType: EntityNote, Kind: OpCreate, ClientTempID: "tmp-1", ClientTimestamp: 1, Payload: map[string]any{"title": "a"}},
	}

	first, err := svc.Replay(context.Background(), user, ops)
	require.NoError(t, err)
	require.Equal(t, 1, note.creates)

	second, err := svc.Replay(context.Background(), user, ops)
	require.NoError(t, err)
	require.Equal(t, 1, note.creates, "repeating the batch must not re-invoke the dispatcher")
	require.Equal(t, *first[0].ServerID, *second[0].ServerID)
}

func TestReplayConflictDoesNotAbortBatch(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	user := makeUser(t, pool)
	note := &fakeDispatcher{failNext: true, createErr: apperr.New(apperr.Duplicate, "already exists")}
	svc := New(pool, map[EntityType]Dispatcher{EntityNote: note})

	ops := []Operation{
		{ClientOpID: "op1", EntityType: EntityNote, Kind: OpCreate, ClientTempID: "tmp-1", ClientTimestamp: 1, Payload: map[string]any{}},
		{ClientOpID: "op2", EntityType: EntityNote, Kind: OpCreate, ClientTempID: "tmp-2", ClientTimestamp: 2, Payload: map[string]any{}},
	}

	outcomes, err := svc.Replay(context.Background(), user, ops)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, "conflict", outcomes[0].Status)
	require.Equal(t, string(apperr.Duplicate), outcomes[0].Code)
	require.Equal(t, "ok", outcomes[1].Status)
}

func TestReplayUpdateWithoutKnownTargetErrors(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	user := makeUser(t, pool)
	note := &fakeDispatcher{}
	svc := New(pool, map[EntityType]Dispatcher{EntityNote: note})

	ops := []Operation{
		{ClientOpID: "op1", EntityType: EntityNote, Kind: OpUpdate, ClientTempID: "unknown-temp", ClientTimestamp: 1, Payload: map[string]any{}},
	}

	outcomes, err := svc.Replay(context.Background(), user, ops)
	require.NoError(t, err)
	require.Equal(t, "error", outcomes[0].Status)
	require.Equal(t, string(apperr.NotFound), outcomes[0].Code)
	require.Equal(t, 0, note.updates)
}
