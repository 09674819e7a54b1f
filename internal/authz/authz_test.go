package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPermitEntityOwnerAlwaysWins(t *testing.T) {
	e := New()
	owner := uuid.New()
	caller := Subject{UserID: owner}
	require.True(t, e.PermitEntity(caller, Delete, Entity{OwnerID: owner}))
}

func TestPermitEntityViewOnlyShare(t *testing.T) {
	e := New()
	owner := uuid.New()
	grantee := Subject{UserID: uuid.New()}
	ent := Entity{OwnerID: owner, Share: &Share{CanEdit: false}}

	require.True(t, e.PermitEntity(grantee, View, ent))
	require.False(t, e.PermitEntity(grantee, Edit, ent))
	require.False(t, e.PermitEntity(grantee, Delete, ent))
	require.False(t, e.PermitEntity(grantee, Reshare, ent))
}

func TestPermitEntityEditShareNeverReshareOrDelete(t *testing.T) {
	e := New()
	owner := uuid.New()
	grantee := Subject{UserID: uuid.New()}
	ent := Entity{OwnerID: owner, Share: &Share{CanEdit: true}}

	require.True(t, e.PermitEntity(grantee, Edit, ent))
	require.False(t, e.PermitEntity(grantee, Delete, ent))
	require.False(t, e.PermitEntity(grantee, Reshare, ent))
}

func TestPermitEntityStrangerDenied(t *testing.T) {
	e := New()
	stranger := Subject{UserID: uuid.New()}
	ent := Entity{OwnerID: uuid.New()}
	require.False(t, e.PermitEntity(stranger, View, ent))
}

func TestAdminPermitsDeleteOnForeignEntity(t *testing.T) {
	e := New()
	admin := Subject{UserID: uuid.New(), IsAdmin: true}
	ent := Entity{OwnerID: uuid.New()}
	require.True(t, e.PermitEntity(admin, Delete, ent))
}

func TestPermitFolderMoveRequiresBothOwnerships(t *testing.T) {
	e := New()
	caller := Subject{UserID: uuid.New()}
	other := uuid.New()

	require.True(t, e.PermitFolderMove(caller, caller.UserID, nil))
	require.True(t, e.PermitFolderMove(caller, caller.UserID, &caller.UserID))
	require.False(t, e.PermitFolderMove(caller, caller.UserID, &other))
	require.False(t, e.PermitFolderMove(caller, other, nil))
}

func TestPermitChatDeleteRoomCreatorOnly(t *testing.T) {
	e := New()
	creator := uuid.New()
	participant := Subject{UserID: uuid.New()}

	room := ChatRoom{CreatedByID: creator, IsParticipant: true}
	require.True(t, e.PermitChat(participant, ChatPin, room))
	require.True(t, e.PermitChat(participant, ChatReact, room))
	require.False(t, e.PermitChat(participant, ChatDeleteRoom, room))

	asCreator := Subject{UserID: creator}
	require.True(t, e.PermitChat(asCreator, ChatDeleteRoom, room))
}

func TestPermitChatNonParticipantDenied(t *testing.T) {
	e := New()
	caller := Subject{UserID: uuid.New()}
	room := ChatRoom{CreatedByID: uuid.New(), IsParticipant: false}
	require.False(t, e.PermitChat(caller, ChatReact, room))
}

func TestPermitAdminOpProtectsBootstrapAdmin(t *testing.T) {
	e := New()
	admin := Subject{UserID: uuid.New(), IsAdmin: true}
	target := uuid.New()

	err := e.PermitAdminOp(admin, target, true, OpLock)
	require.Error(t, err)

	err = e.PermitAdminOp(admin, target, false, OpLock)
	require.NoError(t, err)
}

func TestPermitAdminOpCannotSelfDemoteOrDelete(t *testing.T) {
	e := New()
	admin := Subject{UserID: uuid.New(), IsAdmin: true}

	require.Error(t, e.PermitAdminOp(admin, admin.UserID, false, OpDemote))
	require.Error(t, e.PermitAdminOp(admin, admin.UserID, false, OpDeleteUser))
	require.NoError(t, e.PermitAdminOp(admin, admin.UserID, false, OpLock))
}

func TestPermitAdminOpRequiresAdmin(t *testing.T) {
	e := New()
	caller := Subject{UserID: uuid.New(), IsAdmin: false}
	require.Error(t, e.PermitAdminOp(caller, uuid.New(), false, OpLock))
}
