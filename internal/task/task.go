// Package task implements owned/shared task CRUD, isomorphic to package
// note but with a priority/due_at/completed shape instead of
// favorite/pinned/archived.
package task

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

// Priority is one of the three task priority levels.
type Priority string

const (
	Low    Priority = "low"
	Medium Priority = "medium"
	High   Priority = "high"
)

func validPriority(p Priority) bool {
	switch p {
	case Low, Medium, High:
		return true
	}
	return false
}

// Task is a single task row.
type Task struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	FolderID    *uuid.UUID
	Title       string
	Description string
	Priority    Priority
	DueAt       *time.Time
	Completed   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CanEdit     bool
}

// ListFilter narrows List beyond the owner-or-share-grantee union.
type ListFilter struct {
	Completed *bool
	Priority  *Priority
	FolderID  *uuid.UUID
	Query     string
	Cursor    cursor.Cursor
	Limit     int
}

// Page is one cursor-paginated page of tasks.
type Page struct {
	Items      []Task
	NextCursor string
}

// Service owns the tasks/task_shares tables.
type Service struct {
	DB    *pgxpool.Pool
	Authz *authz.Engine
}

func New(db *pgxpool.Pool) *Service {
	return &Service{DB: db, Authz: authz.New()}
}

func (s *Service) verifyFolderOwnership(ctx context.Context, folderID, ownerID uuid.UUID) error {
	var folderOwner uuid.UUID
	err := s.DB.QueryRow(ctx, `SELECT user_id FROM folders WHERE id = $1`, folderID).Scan(&folderOwner)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.NotFound, "folder not found")
	}
	if err != nil {
		return apperr.New(apperr.Internal, "failed to verify folder")
	}
	if folderOwner != ownerID {
		return apperr.New(apperr.Forbidden, "folder is not owned by this user")
	}
	return nil
}

// Create inserts a task owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID, title, description string, priority Priority, dueAt *time.Time) (*Task, error) {
	if priority == "" {
		priority = Medium
	}
	if !validPriority(priority) {
		return nil, apperr.Validation(apperr.FieldError{Field: "priority", Message: "must be one of low, medium, high"})
	}
	if folderID != nil {
		if err := s.verifyFolderOwnership(ctx, *folderID, ownerID); err != nil {
			return nil, err
		}
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err := s.DB.Exec(ctx, `
		INSERT INTO tasks (id, owner_id, folder_id, title, description, priority, due_at, completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $8)
	`, id, ownerID, folderID, title, description, string(priority), dueAt, now)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to create task")
	}

	return &Task{ID: id, OwnerID: ownerID, FolderID: folderID, Title: title, Description: description, Priority: priority, DueAt: dueAt, CreatedAt: now, UpdatedAt: now, CanEdit: true}, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Task, error) {
	var t Task
	var priority string
	err := s.DB.QueryRow(ctx, `
		SELECT id, owner_id, folder_id, title, description, priority, due_at, completed, created_at, updated_at
		FROM tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.OwnerID, &t.FolderID, &t.Title, &t.Description, &priority, &t.DueAt, &t.Completed, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "task not found")
	}
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to load task")
	}
	t.Priority = Priority(priority)
	return &t, nil
}

func (s *Service) shareFor(ctx context.Context, taskID, callerID uuid.UUID) (*authz.Share, error) {
	var canEdit bool
	err := s.DB.QueryRow(ctx, `
		SELECT can_edit FROM task_shares WHERE task_id = $1 AND shared_with_id = $2
	`, taskID, callerID).Scan(&canEdit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to load share")
	}
	return &authz.Share{CanEdit: canEdit}, nil
}

func (s *Service) entityFor(ctx context.Context, ownerID, taskID, callerID uuid.UUID) (authz.Entity, error) {
	if ownerID == callerID {
		return authz.Entity{OwnerID: ownerID}, nil
	}
	share, err := s.shareFor(ctx, taskID, callerID)
	if err != nil {
		return authz.Entity{}, err
	}
	return authz.Entity{OwnerID: ownerID, Share: share}, nil
}

// Get loads a task plus the caller's effective permission.
func (s *Service) Get(ctx context.Context, caller authz.Subject, id uuid.UUID) (*Task, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ent, err := s.entityFor(ctx, t.OwnerID, t.ID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.Authz.RequireEntity(caller, authz.View, ent); err != nil {
		return nil, err
	}
	t.CanEdit = s.Authz.PermitEntity(caller, authz.Edit, ent)
	return t, nil
}

// Update applies a partial patch, verifying edit permission.
func (s *Service) Update(ctx context.Context, caller authz.Subject, id uuid.UUID, title, description *string, priority *Priority, dueAt **time.Time, folderID **uuid.UUID) (*Task, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ent, err := s.entityFor(ctx, t.OwnerID, t.ID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.Authz.RequireEntity(caller, authz.Edit, ent); err != nil {
		return nil, err
	}

	newTitle := t.Title
	if title != nil {
		newTitle = *title
	}
	newDescription := t.Description
	if description != nil {
		newDescription = *description
	}
	newPriority := t.Priority
	if priority != nil {
		if !validPriority(*priority) {
			return nil, apperr.Validation(apperr.FieldError{Field: "priority", Message: "must be one of low, medium, high"})
		}
		newPriority = *priority
	}
	newDueAt := t.DueAt
	if dueAt != nil {
		newDueAt = *dueAt
	}
	newFolder := t.FolderID
	if folderID != nil {
		if *folderID != nil {
			if err := s.verifyFolderOwnership(ctx, **folderID, t.OwnerID); err != nil {
				return nil, err
			}
		}
		newFolder = *folderID
	}

	now := time.Now().UTC()
	_, err = s.DB.Exec(ctx, `
		UPDATE tasks SET title = $1, description = $2, priority = $3, due_at = $4, folder_id = $5, updated_at = $6
		WHERE id = $7
	`, newTitle, newDescription, string(newPriority), newDueAt, newFolder, now, id)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to update task")
	}

	return s.Get(ctx, caller, id)
}

// SetCompleted is the dedicated single-field completed toggle, idempotent.
func (s *Service) SetCompleted(ctx context.Context, caller authz.Subject, id uuid.UUID, completed bool) error {
	t, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	ent, err := s.entityFor(ctx, t.OwnerID, t.ID, caller.UserID)
	if err != nil {
		return err
	}
	if err := s.Authz.RequireEntity(caller, authz.Edit, ent); err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, `UPDATE tasks SET completed = $1, updated_at = $2 WHERE id = $3`, completed, time.Now().UTC(), id); err != nil {
		return apperr.New(apperr.Internal, "failed to update task")
	}
	return nil
}

// Delete removes a task, cascading task_shares. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, caller authz.Subject, id uuid.UUID) error {
	t, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	ent, err := s.entityFor(ctx, t.OwnerID, t.ID, caller.UserID)
	if err != nil {
		return err
	}
	if err := s.Authz.RequireEntity(caller, authz.Delete, ent); err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, t.ID); err != nil {
		return apperr.New(apperr.Internal, "failed to delete task")
	}
	return nil
}

// Share grants shared_with_id access to a task, rejecting self-share.
func (s *Service) Share(ctx context.Context, caller authz.Subject, id uuid.UUID, sharedWithID uuid.UUID, canEdit bool) error {
	t, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	ent, err := s.entityFor(ctx, t.OwnerID, t.ID, caller.UserID)
	if err != nil {
		return err
	}
	if err := s.Authz.RequireEntity(caller, authz.Reshare, ent); err != nil {
		return err
	}
	if sharedWithID == t.OwnerID {
		return apperr.New(apperr.SelfShare, "cannot share a task with its owner")
	}

	_, err = s.DB.Exec(ctx, `
		INSERT INTO task_shares (id, task_id, shared_by_id, shared_with_id, can_edit, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (task_id, shared_with_id) DO UPDATE SET can_edit = EXCLUDED.can_edit
	`, uuid.New(), t.ID, caller.UserID, sharedWithID, canEdit)
	if err != nil {
		return apperr.New(apperr.Internal, "failed to share task")
	}
	return nil
}

// Unshare revokes a share grant.
func (s *Service) Unshare(ctx context.Context, caller authz.Subject, id uuid.UUID, sharedWithID uuid.UUID) error {
	t, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	ent, err := s.entityFor(ctx, t.OwnerID, t.ID, caller.UserID)
	if err != nil {
		return err
	}
	if err := s.Authz.RequireEntity(caller, authz.Reshare, ent); err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, `DELETE FROM task_shares WHERE task_id = $1 AND shared_with_id = $2`, id, sharedWithID); err != nil {
		return apperr.New(apperr.Internal, "failed to unshare task")
	}
	return nil
}

// List returns tasks owned by or shared with callerID, newest-updated
// first, applying the given filters and cursor pagination.
func (s *Service) List(ctx context.Context, callerID uuid.UUID, f ListFilter) (*Page, error) {
	defer store.LogSlow(ctx, "task.List", time.Now())

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	conds := []string{"(t.owner_id = $1 OR ts.shared_with_id = $1)"}
	args := []any{callerID}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Completed != nil {
		conds = append(conds, "t.completed = "+arg(*f.Completed))
	}
	if f.Priority != nil {
		conds = append(conds, "t.priority = "+arg(string(*f.Priority)))
	}
	if f.FolderID != nil {
		conds = append(conds, "t.folder_id = "+arg(*f.FolderID))
	}
	if f.Query != "" {
		q := "%" + strings.ToLower(f.Query) + "%"
		conds = append(conds, "(LOWER(t.title) LIKE "+arg(q)+" OR LOWER(t.description) LIKE "+arg(q)+")")
	}
	if f.Cursor.Ms != 0 || f.Cursor.UID != uuid.Nil {
		ms := arg(f.Cursor.Ms)
		uid := arg(f.Cursor.UID)
		conds = append(conds, "(EXTRACT(EPOCH FROM t.updated_at) * 1000 < "+ms+" OR (EXTRACT(EPOCH FROM t.updated_at) * 1000 = "+ms+" AND t.id < "+uid+"))")
	}

	limitArg := arg(limit)

	query := `
		SELECT DISTINCT t.id, t.owner_id, t.folder_id, t.title, t.description, t.priority, t.due_at, t.completed, t.created_at, t.updated_at
		FROM tasks t
		LEFT JOIN task_shares ts ON ts.task_id = t.id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY t.updated_at DESC, t.id DESC
		LIMIT ` + limitArg

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to list tasks")
	}
	defer rows.Close()

	var items []Task
	for rows.Next() {
		var t Task
		var priority string
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.FolderID, &t.Title, &t.Description, &priority, &t.DueAt, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, apperr.New(apperr.Internal, "failed to list tasks")
		}
		t.Priority = Priority(priority)
		t.CanEdit = t.OwnerID == callerID
		items = append(items, t)
	}

	for i := range items {
		if !items[i].CanEdit {
			share, err := s.shareFor(ctx, items[i].ID, callerID)
			if err != nil {
				return nil, err
			}
			items[i].CanEdit = share != nil && share.CanEdit
		}
	}

	var next string
	if len(items) == limit {
		last := items[len(items)-1]
		next = cursor.Encode(cursor.FromTime(last.UpdatedAt, last.ID))
	}

	return &Page{Items: items, NextCursor: next}, nil
}
