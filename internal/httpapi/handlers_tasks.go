package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/cursor"
	"github.com/inkwell-hq/inkwell-core/internal/presence"
	"github.com/inkwell-hq/inkwell-core/internal/task"
)

type taskDTO struct {
	ID          string     `json:"id"`
	FolderID    *string    `json:"folderId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	DueAt       *time.Time `json:"dueAt"`
	Completed   bool       `json:"completed"`
	CanEdit     bool       `json:"canEdit"`
}

func toTaskDTO(t *task.Task) taskDTO {
	dto := taskDTO{
		ID: t.ID.String(), Title: t.Title, Description: t.Description,
		Priority: string(t.Priority), DueAt: t.DueAt, Completed: t.Completed, CanEdit: t.CanEdit,
	}
	if t.FolderID != nil {
		id := t.FolderID.String()
		dto.FolderID = &id
	}
	return dto
}

func taskDTOs(ts []task.Task) []taskDTO {
	out := make([]taskDTO, len(ts))
	for i := range ts {
		out[i] = toTaskDTO(&ts[i])
	}
	return out
}

func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := task.ListFilter{
		Completed: boolQuery(r, "completed"),
		Query:     q.Get("q"),
		Limit:     parseLimit(q.Get("limit"), 50, 200),
	}
	if p := q.Get("priority"); p != "" {
		pr := task.Priority(p)
		f.Priority = &pr
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

	page, err := s.Task.List(r.Context(), caller(r).ID, f)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"items": taskDTOs(page.Items), "nextCursor": page.NextCursor})
}

type taskWriteReq struct {
	FolderID    *string    `json:"folderId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	DueAt       *time.Time `json:"dueAt"`
}

func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskWriteReq
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
	priority := task.Priority(req.Priority)
	if priority == "" {
		priority = task.Medium
	}

	t, err := s.Task.Create(r.Context(), caller(r).ID, folderID, req.Title, req.Description, priority, req.DueAt)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, toTaskDTO(t))
}

func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	t, err := s.Task.Get(r.Context(), subjectOf(r), id)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toTaskDTO(t))
}

func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	var req struct {
		Title       *string    `json:"title"`
		Description *string    `json:"description"`
		Priority    *string    `json:"priority"`
		DueAt       **time.Time `json:"dueAt"`
		FolderID    *string    `json:"folderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	var priority *task.Priority
	if req.Priority != nil {
		p := task.Priority(*req.Priority)
		priority = &p
	}
	folderID, err := parseFolderIDPatch(req.FolderID)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}

	t, err := s.Task.Update(r.Context(), subjectOf(r), id, req.Title, req.Description, priority, req.DueAt, folderID)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	dto := toTaskDTO(t)
	s.Presence.Broadcast(presence.Room("task:"+id.String()), "updated", dto, "")
	writeData(w, r, http.StatusOK, dto)
}

func (s *Server) PatchTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	var req struct {
		Completed *bool `json:"completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}
	if req.Completed == nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "completed", Message: "required"}))
		return
	}

	subj := subjectOf(r)
	if err := s.Task.SetCompleted(r.Context(), subj, id, *req.Completed); err != nil {
		writeAppErr(w, r, err)
		return
	}
	t, err := s.Task.Get(r.Context(), subj, id)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	dto := toTaskDTO(t)
	s.Presence.Broadcast(presence.Room("task:"+id.String()), "updated", dto, "")
	writeData(w, r, http.StatusOK, dto)
}

func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if err := s.Task.Delete(r.Context(), subjectOf(r), id); err != nil {
		writeAppErr(w, r, err)
		return
	}
	s.Presence.Broadcast(presence.Room("task:"+id.String()), "deleted", map[string]string{"id": id.String()}, "")
	writeMessage(w, r, http.StatusOK, "task deleted")
}

func (s *Server) ShareTask(w http.ResponseWriter, r *http.Request) {
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
	if err := s.Task.Share(r.Context(), subjectOf(r), id, sharedWith, req.CanEdit); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "task shared")
}

func (s *Server) UnshareTask(w http.ResponseWriter, r *http.Request) {
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
	if err := s.Task.Unshare(r.Context(), subjectOf(r), id, sharedWith); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "task unshared")
}
