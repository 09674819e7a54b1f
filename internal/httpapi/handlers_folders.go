package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/folder"
)

type folderDTO struct {
	ID          string  `json:"id"`
	ParentID    *string `json:"parentId"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	Color       string  `json:"color"`
	Position    int     `json:"position"`
	IsExpanded  bool    `json:"isExpanded"`
	NoteCount   int     `json:"noteCount"`
	TaskCount   int     `json:"taskCount"`
}

func toFolderDTO(f *folder.Folder) folderDTO {
	dto := folderDTO{
		ID: f.ID.String(), Name: f.Name, Description: f.Description, Icon: f.Icon, Color: f.Color,
		Position: f.Position, IsExpanded: f.IsExpanded, NoteCount: f.NoteCount, TaskCount: f.TaskCount,
	}
	if f.ParentID != nil {
		id := f.ParentID.String()
		dto.ParentID = &id
	}
	return dto
}

func folderDTOs(fs []folder.Folder) []folderDTO {
	out := make([]folderDTO, len(fs))
	for i := range fs {
		out[i] = toFolderDTO(&fs[i])
	}
	return out
}

// requireFolderWrite loads the folder and checks the caller may write to it.
func (s *Server) requireFolderWrite(r *http.Request, id uuid.UUID) (*folder.Folder, error) {
	f, err := s.Folder.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !s.Authz.PermitFolderWrite(subjectOf(r), f.UserID) {
		return nil, apperr.New(apperr.Forbidden, "not your folder")
	}
	return f, nil
}

func (s *Server) ListFolders(w http.ResponseWriter, r *http.Request) {
	tree, err := s.Folder.Tree(r.Context(), caller(r).ID)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, folderDTOs(tree))
}

type folderWriteReq struct {
	ParentID    *string `json:"parentId"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	Color       string  `json:"color"`
}

func (s *Server) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req folderWriteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	userID := caller(r).ID
	var parentID *uuid.UUID
	if req.ParentID != nil {
		id, err := uuid.Parse(*req.ParentID)
		if err != nil {
			writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "parentId", Message: "invalid uuid"}))
			return
		}
		if _, err := s.requireFolderWrite(r, id); err != nil {
			writeAppErr(w, r, err)
			return
		}
		parentID = &id
	}

	f, err := s.Folder.Create(r.Context(), userID, parentID, req.Name, req.Description, req.Icon, req.Color)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, toFolderDTO(f))
}

func (s *Server) GetFolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	f, err := s.requireFolderWrite(r, id)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toFolderDTO(f))
}

func (s *Server) UpdateFolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if _, err := s.requireFolderWrite(r, id); err != nil {
		writeAppErr(w, r, err)
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Icon        *string `json:"icon"`
		Color       *string `json:"color"`
		Position    *int    `json:"position"`
		IsExpanded  *bool   `json:"isExpanded"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	f, err := s.Folder.Update(r.Context(), id, req.Name, req.Description, req.Icon, req.Color, req.Position, req.IsExpanded)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, toFolderDTO(f))
}

func (s *Server) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if _, err := s.requireFolderWrite(r, id); err != nil {
		writeAppErr(w, r, err)
		return
	}
	if err := s.Folder.Delete(r.Context(), id); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "folder deleted")
}

type folderMoveReq struct {
	NewParentID *string `json:"newParentId"`
}

func (s *Server) MoveFolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	f, err := s.Folder.Get(r.Context(), id)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}

	var req folderMoveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	var newParentID *uuid.UUID
	var newParentOwnerID *uuid.UUID
	if req.NewParentID != nil {
		pid, err := uuid.Parse(*req.NewParentID)
		if err != nil {
			writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "newParentId", Message: "invalid uuid"}))
			return
		}
		parent, err := s.Folder.Get(r.Context(), pid)
		if err != nil {
			writeAppErr(w, r, err)
			return
		}
		newParentID = &pid
		newParentOwnerID = &parent.UserID
	}

	if !s.Authz.PermitFolderMove(subjectOf(r), f.UserID, newParentOwnerID) {
		writeAppErr(w, r, apperr.New(apperr.Forbidden, "not permitted to move into that parent"))
		return
	}
	if err := s.Folder.Move(r.Context(), id, newParentID); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "folder moved")
}

func (s *Server) FolderPath(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if _, err := s.requireFolderWrite(r, id); err != nil {
		writeAppErr(w, r, err)
		return
	}
	path, err := s.Folder.Path(r.Context(), id)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, folderDTOs(path))
}

type entityMoveReq struct {
	FolderID *string `json:"folderId"`
}

func (s *Server) moveEntityFolder(w http.ResponseWriter, r *http.Request, table string, entityParam string) {
	entityID, err := pathID(r, entityParam)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	var req entityMoveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	var newFolderID *uuid.UUID
	if req.FolderID != nil {
		fid, err := uuid.Parse(*req.FolderID)
		if err != nil {
			writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "folderId", Message: "invalid uuid"}))
			return
		}
		if _, err := s.requireFolderWrite(r, fid); err != nil {
			writeAppErr(w, r, err)
			return
		}
		newFolderID = &fid
	}

	if err := s.Folder.MoveEntityFolder(r.Context(), table, entityID, caller(r).ID, newFolderID); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, table+" moved")
}

func (s *Server) MoveNoteFolder(w http.ResponseWriter, r *http.Request) {
	s.moveEntityFolder(w, r, "notes", "noteId")
}

func (s *Server) MoveTaskFolder(w http.ResponseWriter, r *http.Request) {
	s.moveEntityFolder(w, r, "tasks", "taskId")
}
