// Package authz is the sole arbiter of permission in the core: every
// entity-room join, REST mutation, and admin operation resolves through
// Engine before it touches the store or the presence broker.
package authz

import (
	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
)

// Action names a capability requested on an owned/shared entity.
type Action string

const (
	View    Action = "view"
	Edit    Action = "edit"
	Delete  Action = "delete"
	Reshare Action = "reshare"
)

// Subject is the caller attempting the action.
type Subject struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// Share describes an active grant on a note or task.
type Share struct {
	CanEdit bool
}

// Entity carries the ownership/share facts of the entity under test.
// Callers load these facts from the store; Engine does no I/O of its own.
type Entity struct {
	OwnerID uuid.UUID
	Share   *Share // nil when the caller has no share on this entity
}

// Engine evaluates permit/deny decisions in the fixed order the component
// design specifies: admin, then ownership, then share, then deny.
type Engine struct{}

func New() *Engine { return &Engine{} }

// PermitEntity resolves view/edit/delete/reshare on a note or task.
// Shares never grant delete or reshare regardless of CanEdit.
func (e *Engine) PermitEntity(caller Subject, action Action, ent Entity) bool {
	if caller.IsAdmin {
		return true
	}
	if caller.UserID == ent.OwnerID {
		return true
	}
	if ent.Share == nil {
		return false
	}
	switch action {
	case View:
		return true
	case Edit:
		return ent.Share.CanEdit
	default: // Delete, Reshare
		return false
	}
}

// RequireEntity is PermitEntity wrapped in the standard NOT_FOUND-shaped
// denial: per the error taxonomy, a target a caller cannot see must be
// indistinguishable from an absent one, so a denial returns NOT_FOUND
// rather than FORBIDDEN whenever the caller has no view right at all, and
// FORBIDDEN when the caller can view the entity but lacks the action.
func (e *Engine) RequireEntity(caller Subject, action Action, ent Entity) error {
	if e.PermitEntity(caller, action, ent) {
		return nil
	}
	if e.PermitEntity(caller, View, ent) {
		// Caller can see the entity but lacks this specific capability.
		return apperr.New(apperr.Forbidden, "insufficient permission")
	}
	return apperr.New(apperr.NotFound, "not found")
}

// PermitFolderMove checks the two-sided ownership requirement for reparenting:
// the caller must own the folder being moved and, unless detaching to the
// root, own the destination parent too.
func (e *Engine) PermitFolderMove(caller Subject, folderOwnerID uuid.UUID, newParentOwnerID *uuid.UUID) bool {
	if caller.IsAdmin {
		return true
	}
	if caller.UserID != folderOwnerID {
		return false
	}
	if newParentOwnerID == nil {
		return true
	}
	return *newParentOwnerID == caller.UserID
}

// PermitFolderWrite checks plain (non-reparenting) folder ownership.
func (e *Engine) PermitFolderWrite(caller Subject, folderOwnerID uuid.UUID) bool {
	return caller.IsAdmin || caller.UserID == folderOwnerID
}

// ChatAction names a chat-room capability.
type ChatAction string

const (
	ChatPin         ChatAction = "pin"
	ChatReact       ChatAction = "react"
	ChatMarkRead    ChatAction = "mark-read"
	ChatUpdateTheme ChatAction = "update-theme"
	ChatDeleteRoom  ChatAction = "delete-room"
	ChatSend        ChatAction = "send"
)

// ChatRoom carries the membership facts for a room.
type ChatRoom struct {
	CreatedByID   uuid.UUID
	IsParticipant bool
}

// PermitChat resolves chat actions: any participant may pin/react/mark-read
// /update-theme/send, but only the creator may delete the room.
func (e *Engine) PermitChat(caller Subject, action ChatAction, room ChatRoom) bool {
	if caller.IsAdmin {
		return true
	}
	if !room.IsParticipant {
		return false
	}
	if action == ChatDeleteRoom {
		return caller.UserID == room.CreatedByID
	}
	return true
}

// AdminOp names a protected identity-management operation.
type AdminOp string

const (
	OpLock        AdminOp = "lock"
	OpDemote      AdminOp = "demote"
	OpDeleteUser  AdminOp = "delete-user"
	OpGrantAdmin  AdminOp = "grant-admin"
)

// PermitAdminOp enforces the bootstrap-admin protections: the canonical
// admin can never be locked, demoted, or deleted, and nobody can demote or
// delete themselves.
func (e *Engine) PermitAdminOp(caller Subject, targetUserID uuid.UUID, targetIsBootstrapAdmin bool, op AdminOp) error {
	if !caller.IsAdmin {
		return apperr.New(apperr.Forbidden, "admin required")
	}
	if targetIsBootstrapAdmin && (op == OpLock || op == OpDemote || op == OpDeleteUser) {
		return apperr.New(apperr.ForbiddenProtected, "bootstrap admin is protected")
	}
	if caller.UserID == targetUserID && (op == OpDemote || op == OpDeleteUser) {
		return apperr.New(apperr.Forbidden, "cannot demote or delete yourself")
	}
	return nil
}
