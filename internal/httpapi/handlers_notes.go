package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/authz"
	"github.com/inkwell-hq/inkwell-core/internal/cursor"
	"github.com/inkwell-hq/inkwell-core/internal/note"
	"github.com/inkwell-hq/inkwell-core/internal/presence"
)

type noteDTO struct {
	ID       string   `json:"id"`
	FolderID *string  `json:"folderId"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Tags     []string `json:"tags"`
	Favorite bool     `json:"favorite"`
	Pinned   bool     `json:"pinned"`
	Archived bool     `json:"archived"`
	CanEdit  bool     `json:"canEdit"`
}

func toNoteDTO(n *note.Note) noteDTO {
	dto := noteDTO{
		ID: n.ID.String(), Title: n.Title, Body: n.Body, Tags: n.Tags,
		Favorite: n.Favorite, Pinned: n.Pinned, Archived: n.Archived, CanEdit: n.CanEdit,
	}
	if n.FolderID != nil {
		id := n.FolderID.String()
		dto.FolderID = &id
	}
	return dto
}

func noteDTOs(ns []note.Note) []noteDTO {
	out := make([]noteDTO, len(ns))
	for i := range ns {
		out[i] = toNoteDTO(&ns[i])
	}
	return out
}

func subjectOf(r *http.Request) authz.Subject {
	u := caller(r)
	return authz.Subject{UserID: u.ID, IsAdmin: u.IsAdmin}
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation(apperr.FieldError{Field: name, Message: "invalid uuid"})
	}
	return id, nil
}

func boolQuery(r *http.Request, key string) *bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	b := v == "true" || v == "1"
	return &b
}

func (s *Server) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := note.ListFilter{
		Archived: boolQuery(r, "archived"),
		Favorite: boolQuery(r, "favorite"),
		Pinned:   boolQuery(r, "pinned"),
		Tag:      q.Get("tag"),
		Query:    q.Get("q"),
		Limit:    parseLimit(q.Get("limit"), 50, 200),
	}
	if fid := q.Get("folderId"); fid != "" {
		id, err := uuid.Parse(fid)
		if err != nil {
			writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "folderId", Message: "invalid uuid"}))
			return
		}
		f.FolderID = &id
	}
	if c, ok := cursor.Decode(q.Get("cursor")); ok {
		f.Cursor = c
	}

	page, err := s.Note.List(r.Context(), caller(r).ID, f)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"items": noteDTOs(page.Items), "nextCursor": page.NextCursor})
}

type noteWriteReq struct {
	FolderID *string  `json:"folderId"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Tags     []string `json:"tags"`
}

func (s *Server) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteWriteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}
	var folderID *uuid.UUID
	if req.FolderID != nil {
		id, err := uuid.Parse(*req.FolderID)
		if err != nil {
			writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "folderId", Message: "invalid uuid"}))
			return
		}
		folderID = &id
	}

	n, err := s.Note.Create(r.Context(), caller(r).ID, folderID, req.Title, req.Body, req.Tags)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, toNoteDTO(n))
}

func (s *Server) GetNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	n, err := s.Note.Get(r.Context(), subjectOf(r), id)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toNoteDTO(n))
}

func (s *Server) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	var req struct {
		Title    *string  `json:"title"`
		Body     *string  `json:"body"`
		FolderID *string  `json:"folderId"`
		Tags     []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	folderID, err := parseFolderIDPatch(req.FolderID)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}

	n, err := s.Note.Update(r.Context(), subjectOf(r), id, req.Title, req.Body, folderID, req.Tags)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	dto := toNoteDTO(n)
	s.Presence.Broadcast(presence.Room("note:"+id.String()), "updated", dto, "")
	writeData(w, r, http.StatusOK, dto)
}

type flagReq struct {
	Value bool `json:"value"`
}

func (s *Server) PatchNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	var req struct {
		Favorite *bool `json:"favorite"`
		Pinned   *bool `json:"pinned"`
		Archived *bool `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	subj := subjectOf(r)
	if req.Favorite != nil {
		if err := s.Note.SetFavorite(r.Context(), subj, id, *req.Favorite); err != nil {
			writeAppErr(w, r, err)
			return
		}
	}
	if req.Pinned != nil {
		if err := s.Note.SetPinned(r.Context(), subj, id, *req.Pinned); err != nil {
			writeAppErr(w, r, err)
			return
		}
	}
	if req.Archived != nil {
		if err := s.Note.SetArchived(r.Context(), subj, id, *req.Archived); err != nil {
			writeAppErr(w, r, err)
			return
		}
	}

	n, err := s.Note.Get(r.Context(), subj, id)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	dto := toNoteDTO(n)
	s.Presence.Broadcast(presence.Room("note:"+id.String()), "updated", dto, "")
	writeData(w, r, http.StatusOK, dto)
}

func (s *Server) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if err := s.Note.Delete(r.Context(), subjectOf(r), id); err != nil {
		writeAppErr(w, r, err)
		return
	}
	s.Presence.Broadcast(presence.Room("note:"+id.String()), "deleted", map[string]string{"id": id.String()}, "")
	writeMessage(w, r, http.StatusOK, "note deleted")
}

type shareReq struct {
	UserID  string `json:"userId"`
	CanEdit bool   `json:"canEdit"`
}

func (s *Server) ShareNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	var req shareReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}
	sharedWith, err := uuid.Parse(req.UserID)
	if err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "userId", Message: "invalid uuid"}))
		return
	}
	if err := s.Note.Share(r.Context(), subjectOf(r), id, sharedWith, req.CanEdit); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "note shared")
}

// parseFolderIDPatch turns a request-body folderId field into the
// **uuid.UUID shape note.Service.Update and task.Service.Update expect: a
// nil field means "leave unchanged", an empty string clears the folder,
// anything else must parse as the new folder id.
func parseFolderIDPatch(field *string) (**uuid.UUID, error) {
	if field == nil {
		return nil, nil
	}
	if *field == "" {
		var cleared *uuid.UUID
		return &cleared, nil
	}
	parsed, err := uuid.Parse(*field)
	if err != nil {
		return nil, apperr.Validation(apperr.FieldError{Field: "folderId", Message: "invalid uuid"})
	}
	set := &parsed
	return &set, nil
}

func (s *Server) UnshareNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	sharedWith, err := uuid.Parse(r.URL.Query().Get("userId"))
	if err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "userId", Message: "invalid uuid"}))
		return
	}
	if err := s.Note.Unshare(r.Context(), subjectOf(r), id, sharedWith); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "note unshared")
}
