package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/chat"
	"github.com/inkwell-hq/inkwell-core/internal/cursor"
	"github.com/inkwell-hq/inkwell-core/internal/presence"
)

type roomDTO struct {
	ID           string   `json:"id"`
	Name         *string  `json:"name"`
	IsGroup      bool     `json:"isGroup"`
	CreatedByID  string   `json:"createdById"`
	Theme        string   `json:"theme"`
	Participants []string `json:"participants"`
}

func toRoomDTO(room *chat.Room) roomDTO {
	ids := make([]string, len(room.Participants))
	for i, p := range room.Participants {
		ids[i] = p.String()
	}
	return roomDTO{
		ID: room.ID.String(), Name: room.Name, IsGroup: room.IsGroup,
		CreatedByID: room.CreatedByID.String(), Theme: room.Theme, Participants: ids,
	}
}

type messageDTO struct {
	ID          string              `json:"id"`
	RoomID      string              `json:"roomId"`
	SenderID    string              `json:"senderId"`
	Body        string              `json:"body"`
	IsPinned    bool                `json:"isPinned"`
	Status      string              `json:"status"`
	Reactions   map[string][]string `json:"reactions"`
}

func toMessageDTO(m *chat.Message) messageDTO {
	reactions := make(map[string][]string, len(m.Reactions))
	for emoji, userIDs := range m.Reactions {
		ids := make([]string, len(userIDs))
		for i, u := range userIDs {
			ids[i] = u.String()
		}
		reactions[emoji] = ids
	}
	return messageDTO{
		ID: m.ID.String(), RoomID: m.RoomID.String(), SenderID: m.SenderID.String(), Body: m.Body,
		IsPinned: m.IsPinned, Status: string(m.Status), Reactions: reactions,
	}
}

func messageDTOs(ms []chat.Message) []messageDTO {
	out := make([]messageDTO, len(ms))
	for i := range ms {
		out[i] = toMessageDTO(&ms[i])
	}
	return out
}

func (s *Server) GetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	room, err := s.Chat.GetRoom(r.Context(), subjectOf(r), id)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toRoomDTO(room))
}

type createGroupReq struct {
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participantIds"`
}

func (s *Server) CreateGroupRoom(w http.ResponseWriter, r *http.Request) {
	var req createGroupReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}
	ids := make([]uuid.UUID, 0, len(req.ParticipantIDs))
	for _, raw := range req.ParticipantIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "participantIds", Message: "invalid uuid"}))
			return
		}
		ids = append(ids, id)
	}

	room, err := s.Chat.CreateGroup(r.Context(), caller(r).ID, req.Name, ids)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, toRoomDTO(room))
}

type createDirectReq struct {
	UserID string `json:"userId"`
}

func (s *Server) CreateDirectRoom(w http.ResponseWriter, r *http.Request) {
	var req createDirectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}
	other, err := uuid.Parse(req.UserID)
	if err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "userId", Message: "invalid uuid"}))
		return
	}

	room, err := s.Chat.GetOrCreateDirect(r.Context(), caller(r).ID, other)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toRoomDTO(room))
}

func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 50, 200)
	c, _ := cursor.Decode(q.Get("cursor"))

	page, err := s.Chat.ListMessages(r.Context(), subjectOf(r), roomID, c, limit)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"items": messageDTOs(page.Items), "nextCursor": page.NextCursor})
}

type sendMessageReq struct {
	Body string `json:"body"`
}

func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	var req sendMessageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	msg, err := s.Chat.Send(r.Context(), subjectOf(r), roomID, req.Body)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}

	room := presence.Room("chat:" + roomID.String())
	dto := toMessageDTO(msg)
	s.Presence.Broadcast(room, "new-message", dto, "")
	if len(s.Presence.RoomMembers(room)) > 1 {
		if delivered, derr := s.Chat.MarkDelivered(r.Context(), msg.ID); derr == nil && delivered {
			s.Presence.Broadcast(room, "message-delivered", map[string]string{"messageId": msg.ID.String()}, "")
		}
	}

	writeData(w, r, http.StatusCreated, dto)
}

func (s *Server) MarkRoomRead(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	var req struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "messageId", Message: "invalid uuid"}))
		return
	}
	if err := s.Chat.MarkRead(r.Context(), subjectOf(r), roomID, messageID); err != nil {
		writeAppErr(w, r, err)
		return
	}
	s.Presence.Broadcast(presence.Room("chat:"+roomID.String()), "read", map[string]string{
		"roomId": roomID.String(), "messageId": messageID.String(), "userId": caller(r).ID.String(),
	}, "")
	writeMessage(w, r, http.StatusOK, "marked read")
}

func (s *Server) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	messageID, err := pathID(r, "messageId")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if err := s.Chat.MarkRead(r.Context(), subjectOf(r), roomID, messageID); err != nil {
		writeAppErr(w, r, err)
		return
	}
	s.Presence.Broadcast(presence.Room("chat:"+roomID.String()), "read", map[string]string{
		"roomId": roomID.String(), "messageId": messageID.String(), "userId": caller(r).ID.String(),
	}, "")
	writeMessage(w, r, http.StatusOK, "marked read")
}

type updateThemeReq struct {
	Theme string `json:"theme"`
}

func (s *Server) UpdateRoomTheme(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	var req updateThemeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}
	if err := s.Chat.UpdateTheme(r.Context(), subjectOf(r), roomID, req.Theme); err != nil {
		writeAppErr(w, r, err)
		return
	}
	s.Presence.Broadcast(presence.Room("chat:"+roomID.String()), "theme:updated", map[string]string{"theme": req.Theme}, "")
	writeMessage(w, r, http.StatusOK, "theme updated")
}

func (s *Server) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if err := s.Chat.DeleteRoom(r.Context(), subjectOf(r), roomID); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "room deleted")
}

func (s *Server) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	messageID, err := pathID(r, "messageId")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	emoji := req.Emoji
	if emoji == "" {
		emoji = chi.URLParam(r, "emoji")
	}
	if emoji == "" {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "emoji", Message: "required"}))
		return
	}

	added, err := s.Chat.ToggleReaction(r.Context(), subjectOf(r), roomID, messageID, emoji)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	event := "reaction:removed"
	if added {
		event = "reaction:added"
	}
	s.Presence.Broadcast(presence.Room("chat:"+roomID.String()), event, map[string]string{
		"messageId": messageID.String(), "emoji": emoji, "userId": caller(r).ID.String(),
	}, "")
	writeData(w, r, http.StatusOK, map[string]bool{"added": added})
}

func (s *Server) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	s.ToggleReaction(w, r)
}

func (s *Server) PinMessage(w http.ResponseWriter, r *http.Request) {
	s.setPinned(w, r, true)
}

func (s *Server) UnpinMessage(w http.ResponseWriter, r *http.Request) {
	s.setPinned(w, r, false)
}

func (s *Server) setPinned(w http.ResponseWriter, r *http.Request, pinned bool) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	messageID, err := pathID(r, "messageId")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if err := s.Chat.SetPinned(r.Context(), subjectOf(r), roomID, messageID, pinned); err != nil {
		writeAppErr(w, r, err)
		return
	}
	event := "unpinned"
	if pinned {
		event = "pinned"
	}
	s.Presence.Broadcast(presence.Room("chat:"+roomID.String()), event, map[string]string{"messageId": messageID.String()}, "")
	writeMessage(w, r, http.StatusOK, "pin state updated")
}

func (s *Server) ListPinned(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	msgs, err := s.Chat.ListPinned(r.Context(), subjectOf(r), roomID)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, messageDTOs(msgs))
}

// ChatUsers lists candidates for starting a new direct or group conversation.
func (s *Server) ChatUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 50, 200)
	users, err := s.Identity.SearchUsers(r.Context(), q.Get("q"), limit)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	me := caller(r).ID
	dtos := make([]userDTO, 0, len(users))
	for i := range users {
		if users[i].ID == me {
			continue
		}
		dtos = append(dtos, toUserDTO(&users[i]))
	}
	writeData(w, r, http.StatusOK, dtos)
}
