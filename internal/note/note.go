// Package note implements owned/shared note CRUD, tag denormalization, and
// cursor-paginated listing.
package note

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

// Note is a single note row plus its denormalized tag names.
type Note struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	FolderID  *uuid.UUID
	Title     string
	Body      string
	Tags      []string
	Favorite  bool
	Pinned    bool
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	// CanEdit reflects the caller's effective permission when the note was
	// loaded through a list/get call, not a column on the row itself.
	CanEdit bool
}

// ListFilter narrows List beyond the owner-or-share-grantee union.
type ListFilter struct {
	Archived *bool
	Favorite *bool
	Pinned   *bool
	FolderID *uuid.UUID
	Tag      string
	Query    string // substring match against title/body
	Cursor   cursor.Cursor
	Limit    int
}

// Page is one cursor-paginated page of notes.
type Page struct {
	Items      []Note
	NextCursor string
}

// Service owns the notes/tags/note_tags/note_shares tables.
type Service struct {
	DB    *pgxpool.Pool
	Authz *authz.Engine
}

func New(db *pgxpool.Pool) *Service {
	return &Service{DB: db, Authz: authz.New()}
}

// Create inserts a note owned by ownerID, deduping and upserting tags.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID, title, body string, tags []string) (*Note, error) {
	if len(title) > 500 {
		return nil, apperr.Validation(apperr.FieldError{Field: "title", Message: "must be at most 500 characters"})
	}
	if folderID != nil {
		if err := s.verifyFolderOwnership(ctx, *folderID, ownerID); err != nil {
			return nil, err
		}
	}

	id := uuid.New()
	now := time.Now().UTC()
	var deduped []string
	err := store.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO notes (id, owner_id, folder_id, title, body, favorite, pinned, archived, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, false, false, false, $6, $6)
		`, id, ownerID, folderID, title, body, now); err != nil {
			return apperr.New(apperr.Internal, "failed to create note")
		}
		out, err := s.setTags(ctx, tx, id, ownerID, tags)
		if err != nil {
			return err
		}
		deduped = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Note{ID: id, OwnerID: ownerID, FolderID: folderID, Title: title, Body: body, Tags: deduped, CreatedAt: now, UpdatedAt: now, CanEdit: true}, nil
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

// setTags dedupes case-insensitively, upserts each into tags, and rewrites
// note_tags to match exactly. q runs against whatever scope the caller is
// already inside (a transaction for Create/Update's combined write).
func (s *Service) setTags(ctx context.Context, q store.Queryer, noteID, ownerID uuid.UUID, tags []string) ([]string, error) {
	seen := make(map[string]string, len(tags)) // lower -> original casing of first occurrence
	var order []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		lower := strings.ToLower(t)
		if _, ok := seen[lower]; !ok {
			seen[lower] = t
			order = append(order, lower)
		}
	}

	if _, err := q.Exec(ctx, `DELETE FROM note_tags WHERE note_id = $1`, noteID); err != nil {
		return nil, apperr.New(apperr.Internal, "failed to clear tags")
	}

	out := make([]string, 0, len(order))
	for _, lower := range order {
		name := seen[lower]
		var tagID uuid.UUID
		err := q.QueryRow(ctx, `
			INSERT INTO tags (id, owner_id, name, name_lower)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner_id, name_lower) DO UPDATE SET name_lower = EXCLUDED.name_lower
			RETURNING id
		`, uuid.New(), ownerID, name, lower).Scan(&tagID)
		if err != nil {
			return nil, apperr.New(apperr.Internal, "failed to upsert tag")
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO note_tags (note_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, noteID, tagID); err != nil {
			return nil, apperr.New(apperr.Internal, "failed to attach tag")
		}
		out = append(out, name)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Note, authz.Entity, error) {
	var n Note
	err := s.DB.QueryRow(ctx, `
		SELECT id, owner_id, folder_id, title, body, favorite, pinned, archived, created_at, updated_at
		FROM notes WHERE id = $1
	`, id).Scan(&n.ID, &n.OwnerID, &n.FolderID, &n.Title, &n.Body, &n.Favorite, &n.Pinned, &n.Archived, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authz.Entity{}, apperr.New(apperr.NotFound, "note not found")
	}
	if err != nil {
		return nil, authz.Entity{}, apperr.New(apperr.Internal, "failed to load note")
	}

	tags, err := s.loadTags(ctx, id)
	if err != nil {
		return nil, authz.Entity{}, err
	}
	n.Tags = tags

	return &n, authz.Entity{OwnerID: n.OwnerID}, nil
}

func (s *Service) loadTags(ctx context.Context, noteID uuid.UUID) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT t.name FROM tags t JOIN note_tags nt ON nt.tag_id = t.id WHERE nt.note_id = $1 ORDER BY t.name
	`, noteID)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to load tags")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.New(apperr.Internal, "failed to load tags")
		}
		out = append(out, name)
	}
	return out, nil
}

// shareFor loads caller's share grant, if any, on the given note.
func (s *Service) shareFor(ctx context.Context, noteID, callerID uuid.UUID) (*authz.Share, error) {
	var canEdit bool
	err := s.DB.QueryRow(ctx, `
		SELECT can_edit FROM note_shares WHERE note_id = $1 AND shared_with_id = $2
	`, noteID, callerID).Scan(&canEdit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to load share")
	}
	return &authz.Share{CanEdit: canEdit}, nil
}

// entityFor loads ownership + the caller's share into one authz.Entity.
func (s *Service) entityFor(ctx context.Context, ownerID, noteID, callerID uuid.UUID) (authz.Entity, error) {
	if ownerID == callerID {
		return authz.Entity{OwnerID: ownerID}, nil
	}
	share, err := s.shareFor(ctx, noteID, callerID)
	if err != nil {
		return authz.Entity{}, err
	}
	return authz.Entity{OwnerID: ownerID, Share: share}, nil
}

// Get loads a note plus the caller's effective permission, resolving any
// share grant to enforce view access and compute CanEdit.
func (s *Service) Get(ctx context.Context, caller authz.Subject, id uuid.UUID) (*Note, error) {
	n, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ent, err := s.entityFor(ctx, n.OwnerID, n.ID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.Authz.RequireEntity(caller, authz.View, ent); err != nil {
		return nil, err
	}
	n.CanEdit = s.Authz.PermitEntity(caller, authz.Edit, ent)
	return n, nil
}

// Update applies a partial patch, verifying edit permission and, when the
// folder is changing, ownership of the destination folder.
func (s *Service) Update(ctx context.Context, caller authz.Subject, id uuid.UUID, title, body *string, folderID **uuid.UUID, tags []string) (*Note, error) {
	n, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ent, err := s.entityFor(ctx, n.OwnerID, n.ID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.Authz.RequireEntity(caller, authz.Edit, ent); err != nil {
		return nil, err
	}

	newTitle := n.Title
	if title != nil {
		if len(*title) > 500 {
			return nil, apperr.Validation(apperr.FieldError{Field: "title", Message: "must be at most 500 characters"})
		}
		newTitle = *title
	}
	newBody := n.Body
	if body != nil {
		newBody = *body
	}
	newFolder := n.FolderID
	if folderID != nil {
		if *folderID != nil {
			if err := s.verifyFolderOwnership(ctx, **folderID, n.OwnerID); err != nil {
				return nil, err
			}
		}
		newFolder = *folderID
	}

	now := time.Now().UTC()
	err = store.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE notes SET title = $1, body = $2, folder_id = $3, updated_at = $4 WHERE id = $5
		`, newTitle, newBody, newFolder, now, id); err != nil {
			return apperr.New(apperr.Internal, "failed to update note")
		}
		if tags != nil {
			if _, err := s.setTags(ctx, tx, id, n.OwnerID, tags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, caller, id)
}

// setFlag toggles favorite/pinned/archived with idempotent semantics.
func (s *Service) setFlag(ctx context.Context, caller authz.Subject, id uuid.UUID, column string, value bool) error {
	n, _, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	ent, err := s.entityFor(ctx, n.OwnerID, n.ID, caller.UserID)
	if err != nil {
		return err
	}
	if err := s.Authz.RequireEntity(caller, authz.Edit, ent); err != nil {
		return err
	}
	query := `UPDATE notes SET ` + column + ` = $1, updated_at = $2 WHERE id = $3`
	if _, err := s.DB.Exec(ctx, query, value, time.Now().UTC(), id); err != nil {
		return apperr.New(apperr.Internal, "failed to update note")
	}
	return nil
}

func (s *Service) SetFavorite(ctx context.Context, caller authz.Subject, id uuid.UUID, value bool) error {
	return s.setFlag(ctx, caller, id, "favorite", value)
}

func (s *Service) SetPinned(ctx context.Context, caller authz.Subject, id uuid.UUID, value bool) error {
	return s.setFlag(ctx, caller, id, "pinned", value)
}

func (s *Service) SetArchived(ctx context.Context, caller authz.Subject, id uuid.UUID, value bool) error {
	return s.setFlag(ctx, caller, id, "archived", value)
}

// Delete removes a note, which cascades note_shares and note_tags. Only the
// owner may delete, never a share-grantee.
func (s *Service) Delete(ctx context.Context, caller authz.Subject, id uuid.UUID) error {
	n, _, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	ent, err := s.entityFor(ctx, n.OwnerID, n.ID, caller.UserID)
	if err != nil {
		return err
	}
	if err := s.Authz.RequireEntity(caller, authz.Delete, ent); err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, `DELETE FROM notes WHERE id = $1`, n.ID); err != nil {
		return apperr.New(apperr.Internal, "failed to delete note")
	}
	return nil
}

// Share grants shared_with_id access to a note, rejecting self-share.
func (s *Service) Share(ctx context.Context, caller authz.Subject, id uuid.UUID, sharedWithID uuid.UUID, canEdit bool) error {
	n, _, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	ent, err := s.entityFor(ctx, n.OwnerID, n.ID, caller.UserID)
	if err != nil {
		return err
	}
	if err := s.Authz.RequireEntity(caller, authz.Reshare, ent); err != nil {
		return err
	}
	if sharedWithID == n.OwnerID {
		return apperr.New(apperr.SelfShare, "cannot share a note with its owner")
	}

	_, err = s.DB.Exec(ctx, `
		INSERT INTO note_shares (id, note_id, shared_by_id, shared_with_id, can_edit, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (note_id, shared_with_id) DO UPDATE SET can_edit = EXCLUDED.can_edit
	`, uuid.New(), n.ID, caller.UserID, sharedWithID, canEdit)
	if err != nil {
		return apperr.New(apperr.Internal, "failed to share note")
	}
	return nil
}

// Unshare revokes a share grant.
func (s *Service) Unshare(ctx context.Context, caller authz.Subject, id uuid.UUID, sharedWithID uuid.UUID) error {
	n, _, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	ent, err := s.entityFor(ctx, n.OwnerID, n.ID, caller.UserID)
	if err != nil {
		return err
	}
	if err := s.Authz.RequireEntity(caller, authz.Reshare, ent); err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, `DELETE FROM note_shares WHERE note_id = $1 AND shared_with_id = $2`, id, sharedWithID); err != nil {
		return apperr.New(apperr.Internal, "failed to unshare note")
	}
	return nil
}

// List returns notes owned by or shared with callerID, newest-updated
// first, applying the given filters and cursor pagination.
func (s *Service) List(ctx context.Context, callerID uuid.UUID, f ListFilter) (*Page, error) {
	defer store.LogSlow(ctx, "note.List", time.Now())

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	conds := []string{"(n.owner_id = $1 OR ns.shared_with_id = $1)"}
	args := []any{callerID}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Archived != nil {
		conds = append(conds, "n.archived = "+arg(*f.Archived))
	}
	if f.Favorite != nil {
		conds = append(conds, "n.favorite = "+arg(*f.Favorite))
	}
	if f.Pinned != nil {
		conds = append(conds, "n.pinned = "+arg(*f.Pinned))
	}
	if f.FolderID != nil {
		conds = append(conds, "n.folder_id = "+arg(*f.FolderID))
	}
	if f.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM note_tags nt JOIN tags t ON t.id = nt.tag_id WHERE nt.note_id = n.id AND t.name_lower = "+arg(strings.ToLower(f.Tag))+")")
	}
	if f.Query != "" {
		q := "%" + strings.ToLower(f.Query) + "%"
		conds = append(conds, "(LOWER(n.title) LIKE "+arg(q)+" OR LOWER(n.body) LIKE "+arg(q)+")")
	}
	if f.Cursor.Ms != 0 || f.Cursor.UID != uuid.Nil {
		ms := arg(f.Cursor.Ms)
		uid := arg(f.Cursor.UID)
		conds = append(conds, "(EXTRACT(EPOCH FROM n.updated_at) * 1000 < "+ms+" OR (EXTRACT(EPOCH FROM n.updated_at) * 1000 = "+ms+" AND n.id < "+uid+"))")
	}

	limitArg := arg(limit)

	query := `
		SELECT DISTINCT n.id, n.owner_id, n.folder_id, n.title, n.body, n.favorite, n.pinned, n.archived, n.created_at, n.updated_at
		FROM notes n
		LEFT JOIN note_shares ns ON ns.note_id = n.id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY n.updated_at DESC, n.id DESC
		LIMIT ` + limitArg

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to list notes")
	}
	defer rows.Close()

	var items []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.FolderID, &n.Title, &n.Body, &n.Favorite, &n.Pinned, &n.Archived, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, apperr.New(apperr.Internal, "failed to list notes")
		}
		n.CanEdit = n.OwnerID == callerID
		items = append(items, n)
	}

	for i := range items {
		tags, err := s.loadTags(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Tags = tags
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
