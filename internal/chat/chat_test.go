package chat

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

	for _, tbl := range []string{"chat_reads", "chat_reactions", "chat_messages", "chat_participants", "chat_rooms", "users"} {
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

func TestGetOrCreateDirectIsIdempotent(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	a := makeUser(t, pool)
	b := makeUser(t, pool)

	r1, err := svc.GetOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	r2, err := svc.GetOrCreateDirect(context.Background(), b, a)
	require.NoError(t, err)
	require.Equal(t, r1.ID, r2.ID)
}

func TestCreateGroupRequiresThreeParticipants(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	a := makeUser(t, pool)
	b := makeUser(t, pool)

	_, err := svc.CreateGroup(context.Background(), a, "Too Small", []uuid.UUID{b})
	require.Error(t, err)
	require.Equal(t, apperr.ValidationError, apperr.As(err).Code)

	c := makeUser(t, pool)
	room, err := svc.CreateGroup(context.Background(), a, "Big Enough", []uuid.UUID{b, c})
	require.NoError(t, err)
	require.Len(t, room.Participants, 3)
}

func TestToggleReactionAddsThenRemoves(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	a := makeUser(t, pool)
	b := makeUser(t, pool)
	room, err := svc.GetOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)

	subjectA := authz.Subject{UserID: a}
	msg, err := svc.Send(context.Background(), subjectA, room.ID, "hello")
	require.NoError(t, err)

	added, err := svc.ToggleReaction(context.Background(), subjectA, room.ID, msg.ID, "👍")
	require.NoError(t, err)
	require.True(t, added)

	added, err = svc.ToggleReaction(context.Background(), subjectA, room.ID, msg.ID, "👍")
	require.NoError(t, err)
	require.False(t, added)
}

func TestDeleteRoomCreatorOnly(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	a := makeUser(t, pool)
	b := makeUser(t, pool)
	room, err := svc.GetOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)

	err = svc.DeleteRoom(context.Background(), authz.Subject{UserID: b}, room.ID)
	require.Error(t, err)
	require.Equal(t, apperr.Forbidden, apperr.As(err).Code)

	err = svc.DeleteRoom(context.Background(), authz.Subject{UserID: a}, room.ID)
	require.NoError(t, err)
}

func TestMarkReadUpdatesUnreadCount(t *testing.T) {
	pool := getTestDB(t)
	defer pool.Close()
	svc := New(pool)
	a := makeUser(t, pool)
	b := makeUser(t, pool)
	room, err := svc.GetOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)

	subjectA := authz.Subject{UserID: a}
	subjectB := authz.Subject{UserID: b}
	msg, err := svc.Send(context.Background(), subjectA, room.ID, "hello")
	require.NoError(t, err)

	count, err := svc.UnreadCount(context.Background(), b, room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, svc.MarkRead(context.Background(), subjectB, room.ID, msg.ID))

	count, err = svc.UnreadCount(context.Background(), b, room.ID)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	fullyRead, err := svc.IsFullyRead(context.Background(), room.ID, msg.ID, a)
	require.NoError(t, err)
	require.True(t, fullyRead)
}
