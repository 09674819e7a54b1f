package presence

import (
	"testing"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/authz"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	id      string
	events  []string
	payload []any
}

func newFakeSocket(id string) *fakeSocket { return &fakeSocket{id: id} }

func (s *fakeSocket) ID() string { return s.id }

func (s *fakeSocket) Send(event string, payload any) {
	s.events = append(s.events, event)
	s.payload = append(s.payload, payload)
}

func TestJoinDeniedEmitsUnauthorizedAndDropsMembership(t *testing.T) {
	b := New()
	stranger := authz.Subject{UserID: uuid.New()}
	ent := authz.Entity{OwnerID: uuid.New()}
	sock := newFakeSocket("s1")

	b.Join(stranger, "note:1", ent, sock)

	require.Contains(t, sock.events, "UNAUTHORIZED")
	require.Empty(t, b.RoomMembers("note:1"))
}

func TestJoinAllowedAddsMemberAndNotifiesOthers(t *testing.T) {
	b := New()
	owner := uuid.New()
	s1 := newFakeSocket("s1")
	s2 := newFakeSocket("s2")
	ent := authz.Entity{OwnerID: owner}

	b.Join(authz.Subject{UserID: owner}, "note:1", ent, s1)
	b.Join(authz.Subject{UserID: owner}, "note:1", ent, s2)

	require.ElementsMatch(t, []string{"s1", "s2"}, b.RoomMembers("note:1"))
	require.Contains(t, s1.events, "user-joined")
}

func TestBroadcastExcludesSender(t *testing.T) {
	b := New()
	owner := uuid.New()
	ent := authz.Entity{OwnerID: owner}
	s1 := newFakeSocket("s1")
	s2 := newFakeSocket("s2")
	b.Join(authz.Subject{UserID: owner}, "note:1", ent, s1)
	b.Join(authz.Subject{UserID: owner}, "note:1", ent, s2)

	b.Broadcast("note:1", "updated", map[string]any{"title": "x"}, "s1")

	require.NotContains(t, s1.events, "updated")
	require.Contains(t, s2.events, "updated")
}

func TestDisconnectRemovesFromAllRoomsAndNotifies(t *testing.T) {
	b := New()
	owner := uuid.New()
	ent := authz.Entity{OwnerID: owner}
	s1 := newFakeSocket("s1")
	s2 := newFakeSocket("s2")
	b.Join(authz.Subject{UserID: owner}, "note:1", ent, s1)
	b.Join(authz.Subject{UserID: owner}, "note:2", ent, s1)
	b.Join(authz.Subject{UserID: owner}, "note:1", ent, s2)

	b.Disconnect(s1)

	require.NotContains(t, b.RoomMembers("note:1"), "s1")
	require.Empty(t, b.RoomMembers("note:2"))
	require.Contains(t, s2.events, "user-left")
}
