// Package chat implements direct/group rooms, messages, reactions, pins,
// read receipts, and derived delivery status.
package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/authz"
	"github.com/inkwell-hq/inkwell-core/internal/cursor"
	"github.com/inkwell-hq/inkwell-core/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Room is a direct or group chat room.
type Room struct {
	ID           uuid.UUID
	Name         *string
	IsGroup      bool
	CreatedByID  uuid.UUID
	Theme        string
	CreatedAt    time.Time
	Participants []uuid.UUID
}

// Status is the derived, client-visible delivery state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Message is a single chat message plus its derived status for the caller.
type Message struct {
	ID          uuid.UUID
	RoomID      uuid.UUID
	SenderID    uuid.UUID
	Body        string
	IsPinned    bool
	PinnedAt    *time.Time
	PinnedByID  *uuid.UUID
	SentAt      time.Time
	DeliveredAt *time.Time
	Status      Status
	Reactions   map[string][]uuid.UUID // emoji -> user ids
}

// Page is one cursor-paginated page of messages, ordered by descending
// (created_at, id); the cursor marks the oldest row returned.
type Page struct {
	Items      []Message
	NextCursor string
}

// Service owns chat_rooms/chat_participants/chat_messages/chat_reactions/chat_reads.
type Service struct {
	DB    *pgxpool.Pool
	Authz *authz.Engine
}

func New(db *pgxpool.Pool) *Service {
	return &Service{DB: db, Authz: authz.New()}
}

func (s *Service) isParticipant(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM chat_participants WHERE room_id = $1 AND user_id = $2)
	`, roomID, userID).Scan(&exists)
	if err != nil {
		return false, apperr.New(apperr.Internal, "failed to check membership")
	}
	return exists, nil
}

func (s *Service) roomEntity(ctx context.Context, room *Room, callerID uuid.UUID) (authz.ChatRoom, error) {
	isParticipant, err := s.isParticipant(ctx, room.ID, callerID)
	if err != nil {
		return authz.ChatRoom{}, err
	}
	return authz.ChatRoom{CreatedByID: room.CreatedByID, IsParticipant: isParticipant}, nil
}

// GetRoom loads a room by id, enforcing that the caller is a participant.
func (s *Service) GetRoom(ctx context.Context, caller authz.Subject, roomID uuid.UUID) (*Room, error) {
	r, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	ent, err := s.roomEntity(ctx, r, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !s.Authz.PermitChat(caller, authz.ChatSend, ent) {
		return nil, apperr.New(apperr.NotFound, "room not found")
	}
	return r, nil
}

func (s *Service) loadRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	var r Room
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, is_group, created_by_id, theme, created_at FROM chat_rooms WHERE id = $1
	`, id).Scan(&r.ID, &r.Name, &r.IsGroup, &r.CreatedByID, &r.Theme, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "room not found")
	}
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to load room")
	}

	rows, err := s.DB.Query(ctx, `SELECT user_id FROM chat_participants WHERE room_id = $1`, id)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to load participants")
	}
	defer rows.Close()
	for rows.Next() {
		var uid uuid.UUID
		if err := rows.Scan(&uid); err != nil {
			return nil, apperr.New(apperr.Internal, "failed to load participants")
		}
		r.Participants = append(r.Participants, uid)
	}
	return &r, nil
}

// directKey canonicalizes a pair of user ids into the value chat_rooms'
// partial unique index enforces, so two concurrent callers racing to open
// the same direct room collide at the database rather than both winning.
func directKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if as < bs {
		return as + ":" + bs
	}
	return bs + ":" + as
}

// GetOrCreateDirect returns the existing direct room between a and b, or
// creates one. The direct_key unique index (scoped to is_group = false)
// closes the race between two concurrent callers for the same pair: at most
// one of them inserts, the other observes the conflict and reads the winner's
// row back.
func (s *Service) GetOrCreateDirect(ctx context.Context, a, b uuid.UUID) (*Room, error) {
	if a == b {
		return nil, apperr.New(apperr.SelfShare, "cannot open a direct room with yourself")
	}
	key := directKey(a, b)

	var existing uuid.UUID
	err := s.DB.QueryRow(ctx, `SELECT id FROM chat_rooms WHERE direct_key = $1`, key).Scan(&existing)
	if err == nil {
		return s.loadRoom(ctx, existing)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.Internal, "failed to look up direct room")
	}

	id := uuid.New()
	now := time.Now().UTC()
	var roomID uuid.UUID
	err = store.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		scanErr := tx.QueryRow(ctx, `
			INSERT INTO chat_rooms (id, name, is_group, created_by_id, theme, created_at, direct_key)
			VALUES ($1, NULL, false, $2, 'default', $3, $4)
			ON CONFLICT (direct_key) WHERE is_group = false DO NOTHING
			RETURNING id
		`, id, a, now, key).Scan(&roomID)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			// a concurrent caller won the race; its participants are
			// already in place, so just resolve to its room.
			if err := tx.QueryRow(ctx, `SELECT id FROM chat_rooms WHERE direct_key = $1`, key).Scan(&roomID); err != nil {
				return apperr.New(apperr.Internal, "failed to look up direct room after conflict")
			}
			return nil
		}
		if scanErr != nil {
			return apperr.New(apperr.Internal, "failed to create direct room")
		}
		for _, uid := range []uuid.UUID{a, b} {
			if _, err := tx.Exec(ctx, `
				INSERT INTO chat_participants (room_id, user_id, last_read_at) VALUES ($1, $2, 'epoch')
			`, roomID, uid); err != nil {
				return apperr.New(apperr.Internal, "failed to add participant")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.loadRoom(ctx, roomID)
}

// CreateGroup creates a named group room with creator plus at least two
// more participants (three total, per the component design). The room and
// its participant rows are written inside one transaction so a mid-loop
// failure never leaves a group room with a partial member list.
func (s *Service) CreateGroup(ctx context.Context, creatorID uuid.UUID, name string, participantIDs []uuid.UUID) (*Room, error) {
	members := map[uuid.UUID]bool{creatorID: true}
	for _, id := range participantIDs {
		members[id] = true
	}
	if len(members) < 3 {
		return nil, apperr.Validation(apperr.FieldError{Field: "participantIds", Message: "group rooms require at least 3 participants including the creator"})
	}

	id := uuid.New()
	now := time.Now().UTC()
	err := store.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_rooms (id, name, is_group, created_by_id, theme, created_at)
			VALUES ($1, $2, true, $3, 'default', $4)
		`, id, name, creatorID, now); err != nil {
			return apperr.New(apperr.Internal, "failed to create group room")
		}
		for uid := range members {
			if _, err := tx.Exec(ctx, `
				INSERT INTO chat_participants (room_id, user_id, last_read_at) VALUES ($1, $2, 'epoch')
			`, id, uid); err != nil {
				return apperr.New(apperr.Internal, "failed to add participant")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.loadRoom(ctx, id)
}

// Send inserts a message after validating a non-empty trimmed body.
func (s *Service) Send(ctx context.Context, caller authz.Subject, roomID uuid.UUID, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Validation(apperr.FieldError{Field: "body", Message: "must not be empty"})
	}

	r, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	ent, err := s.roomEntity(ctx, r, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !s.Authz.PermitChat(caller, authz.ChatSend, ent) {
		return nil, apperr.New(apperr.NotFound, "room not found")
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err = s.DB.Exec(ctx, `
		INSERT INTO chat_messages (id, room_id, sender_id, body, is_pinned, sent_at, created_at)
		VALUES ($1, $2, $3, $4, false, $5, $5)
	`, id, roomID, caller.UserID, body, now)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to send message")
	}

	return &Message{ID: id, RoomID: roomID, SenderID: caller.UserID, Body: body, SentAt: now, Status: StatusSent}, nil
}

// MarkDelivered records first-delivery and returns whether this call is the
// transition (so the caller only broadcasts the status update once).
func (s *Service) MarkDelivered(ctx context.Context, messageID uuid.UUID) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE chat_messages SET delivered_at = now() WHERE id = $1 AND delivered_at IS NULL
	`, messageID)
	if err != nil {
		return false, apperr.New(apperr.Internal, "failed to mark delivered")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRead upserts a ChatRead row and advances the participant's last_read_at.
func (s *Service) MarkRead(ctx context.Context, caller authz.Subject, roomID, messageID uuid.UUID) error {
	if _, err := s.GetRoom(ctx, caller, roomID); err != nil {
		return err
	}

	var createdAt time.Time
	err := s.DB.QueryRow(ctx, `SELECT created_at FROM chat_messages WHERE id = $1 AND room_id = $2`, messageID, roomID).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.NotFound, "message not found")
	}
	if err != nil {
		return apperr.New(apperr.Internal, "failed to load message")
	}

	if _, err := s.DB.Exec(ctx, `
		INSERT INTO chat_reads (message_id, user_id, read_at) VALUES ($1, $2, now())
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, messageID, caller.UserID); err != nil {
		return apperr.New(apperr.Internal, "failed to record read")
	}

	if _, err := s.DB.Exec(ctx, `
		UPDATE chat_participants SET last_read_at = GREATEST(last_read_at, $1) WHERE room_id = $2 AND user_id = $3
	`, createdAt, roomID, caller.UserID); err != nil {
		return apperr.New(apperr.Internal, "failed to advance read cursor")
	}
	return nil
}

// IsFullyRead reports whether every other participant of the room has read
// the message, the condition that promotes status to "read".
func (s *Service) IsFullyRead(ctx context.Context, roomID, messageID, senderID uuid.UUID) (bool, error) {
	var unreadOthers int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_participants p
		WHERE p.room_id = $1 AND p.user_id != $2
		AND NOT EXISTS (SELECT 1 FROM chat_reads r WHERE r.message_id = $3 AND r.user_id = p.user_id)
	`, roomID, senderID, messageID).Scan(&unreadOthers)
	if err != nil {
		return false, apperr.New(apperr.Internal, "failed to check read status")
	}
	return unreadOthers == 0, nil
}

// UnreadCount returns the number of messages in roomID newer than caller's
// last_read_at, excluding caller's own messages.
func (s *Service) UnreadCount(ctx context.Context, callerID, roomID uuid.UUID) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_messages m
		JOIN chat_participants p ON p.room_id = m.room_id AND p.user_id = $1
		WHERE m.room_id = $2 AND m.created_at > p.last_read_at AND m.sender_id != $1
	`, callerID, roomID).Scan(&count)
	if err != nil {
		return 0, apperr.New(apperr.Internal, "failed to count unread messages")
	}
	return count, nil
}

// ToggleReaction adds a reaction, or removes it if the same (message, user,
// emoji) triple already exists.
func (s *Service) ToggleReaction(ctx context.Context, caller authz.Subject, roomID, messageID uuid.UUID, emoji string) (added bool, err error) {
	if _, err := s.GetRoom(ctx, caller, roomID); err != nil {
		return false, err
	}

	tag, err := s.DB.Exec(ctx, `
		DELETE FROM chat_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3
	`, messageID, caller.UserID, emoji)
	if err != nil {
		return false, apperr.New(apperr.Internal, "failed to toggle reaction")
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}

	if _, err := s.DB.Exec(ctx, `
		INSERT INTO chat_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
	`, messageID, caller.UserID, emoji); err != nil {
		return false, apperr.New(apperr.Internal, "failed to toggle reaction")
	}
	return true, nil
}

// SetPinned pins or unpins a message.
func (s *Service) SetPinned(ctx context.Context, caller authz.Subject, roomID, messageID uuid.UUID, pinned bool) error {
	r, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	ent, err := s.roomEntity(ctx, r, caller.UserID)
	if err != nil {
		return err
	}
	if !s.Authz.PermitChat(caller, authz.ChatPin, ent) {
		return apperr.New(apperr.Forbidden, "not a participant of this room")
	}

	if pinned {
		_, err = s.DB.Exec(ctx, `
			UPDATE chat_messages SET is_pinned = true, pinned_at = now(), pinned_by_id = $1 WHERE id = $2 AND room_id = $3
		`, caller.UserID, messageID, roomID)
	} else {
		_, err = s.DB.Exec(ctx, `
			UPDATE chat_messages SET is_pinned = false, pinned_at = NULL, pinned_by_id = NULL WHERE id = $1 AND room_id = $2
		`, messageID, roomID)
	}
	if err != nil {
		return apperr.New(apperr.Internal, "failed to update pin state")
	}
	return nil
}

// ListPinned returns every pinned message in a room.
func (s *Service) ListPinned(ctx context.Context, caller authz.Subject, roomID uuid.UUID) ([]Message, error) {
	if _, err := s.GetRoom(ctx, caller, roomID); err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, room_id, sender_id, body, is_pinned, pinned_at, pinned_by_id, sent_at, delivered_at
		FROM chat_messages WHERE room_id = $1 AND is_pinned = true ORDER BY pinned_at DESC
	`, roomID)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to list pinned messages")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Body, &m.IsPinned, &m.PinnedAt, &m.PinnedByID, &m.SentAt, &m.DeliveredAt); err != nil {
			return nil, apperr.New(apperr.Internal, "failed to list pinned messages")
		}
		out = append(out, m)
	}
	return out, nil
}

// UpdateTheme rewrites chat_rooms.theme.
func (s *Service) UpdateTheme(ctx context.Context, caller authz.Subject, roomID uuid.UUID, theme string) error {
	r, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	ent, err := s.roomEntity(ctx, r, caller.UserID)
	if err != nil {
		return err
	}
	if !s.Authz.PermitChat(caller, authz.ChatUpdateTheme, ent) {
		return apperr.New(apperr.Forbidden, "not a participant of this room")
	}
	if _, err := s.DB.Exec(ctx, `UPDATE chat_rooms SET theme = $1 WHERE id = $2`, theme, roomID); err != nil {
		return apperr.New(apperr.Internal, "failed to update theme")
	}
	return nil
}

// DeleteRoom removes a room (creator only, enforced by AuthzEngine).
func (s *Service) DeleteRoom(ctx context.Context, caller authz.Subject, roomID uuid.UUID) error {
	r, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	ent, err := s.roomEntity(ctx, r, caller.UserID)
	if err != nil {
		return err
	}
	if !s.Authz.PermitChat(caller, authz.ChatDeleteRoom, ent) {
		return apperr.New(apperr.Forbidden, "only the room creator may delete it")
	}
	if _, err := s.DB.Exec(ctx, `DELETE FROM chat_rooms WHERE id = $1`, roomID); err != nil {
		return apperr.New(apperr.Internal, "failed to delete room")
	}
	return nil
}

// ListMessages returns a page of messages ordered by descending
// (created_at, id), with reactions and derived status attached.
func (s *Service) ListMessages(ctx context.Context, caller authz.Subject, roomID uuid.UUID, c cursor.Cursor, limit int) (*Page, error) {
	defer store.LogSlow(ctx, "chat.ListMessages", time.Now())

	if _, err := s.GetRoom(ctx, caller, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	conds := []string{"room_id = $1"}
	args := []any{roomID}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if c.Ms != 0 || c.UID != uuid.Nil {
		ms := arg(c.Ms)
		uid := arg(c.UID)
		conds = append(conds, "(EXTRACT(EPOCH FROM created_at) * 1000 < "+ms+" OR (EXTRACT(EPOCH FROM created_at) * 1000 = "+ms+" AND id < "+uid+"))")
	}
	limitArg := arg(limit)

	query := `
		SELECT id, room_id, sender_id, body, is_pinned, pinned_at, pinned_by_id, sent_at, delivered_at, created_at
		FROM chat_messages
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY created_at DESC, id DESC
		LIMIT ` + limitArg

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to list messages")
	}
	defer rows.Close()

	var items []Message
	var createdAts []time.Time
	for rows.Next() {
		var m Message
		var createdAt time.Time
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Body, &m.IsPinned, &m.PinnedAt, &m.PinnedByID, &m.SentAt, &m.DeliveredAt, &createdAt); err != nil {
			return nil, apperr.New(apperr.Internal, "failed to list messages")
		}
		items = append(items, m)
		createdAts = append(createdAts, createdAt)
	}

	for i := range items {
		reactions, err := s.loadReactions(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Reactions = reactions

		fullyRead, err := s.IsFullyRead(ctx, roomID, items[i].ID, items[i].SenderID)
		if err != nil {
			return nil, err
		}
		switch {
		case fullyRead:
			items[i].Status = StatusRead
		case items[i].DeliveredAt != nil:
			items[i].Status = StatusDelivered
		default:
			items[i].Status = StatusSent
		}
	}

	var next string
	if len(items) == limit {
		next = cursor.Encode(cursor.FromTime(createdAts[len(createdAts)-1], items[len(items)-1].ID))
	}

	return &Page{Items: items, NextCursor: next}, nil
}

func (s *Service) loadReactions(ctx context.Context, messageID uuid.UUID) (map[string][]uuid.UUID, error) {
	rows, err := s.DB.Query(ctx, `SELECT emoji, user_id FROM chat_reactions WHERE message_id = $1`, messageID)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to load reactions")
	}
	defer rows.Close()

	out := make(map[string][]uuid.UUID)
	for rows.Next() {
		var emoji string
		var userID uuid.UUID
		if err := rows.Scan(&emoji, &userID); err != nil {
			return nil, apperr.New(apperr.Internal, "failed to load reactions")
		}
		out[emoji] = append(out[emoji], userID)
	}
	return out, nil
}
