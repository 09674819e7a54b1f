// Package folder implements the owned folder tree: CRUD, reparenting with
// acyclicity checks, path resolution, and the default Work/Personal/Archive
// seeding every new account receives.
package folder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Folder is one node of a user's folder tree.
type Folder struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ParentID   *uuid.UUID
	Name       string
	Description string
	Icon       string
	Color      string
	Position   int
	IsExpanded bool
	NoteCount  int
	TaskCount  int
}

// defaultFolders are seeded for every new account per the component design.
var defaultFolders = []struct {
	Name, Icon, Color string
}{
	{"Work", "briefcase", "#3B82F6"},
	{"Personal", "home", "#10B981"},
	{"Archive", "archive", "#6B7280"},
}

// Service owns the folders table plus a per-user tree cache.
type Service struct {
	DB *pgxpool.Pool

	mu    sync.Mutex
	cache map[uuid.UUID][]Folder
}

func New(db *pgxpool.Pool) *Service {
	return &Service{DB: db, cache: make(map[uuid.UUID][]Folder)}
}

func (s *Service) invalidate(userID uuid.UUID) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}

// SeedDefaults creates the three default folders for a brand-new account.
// Failures are logged and swallowed: registration must never fail because
// default-folder seeding did.
func (s *Service) SeedDefaults(ctx context.Context, userID uuid.UUID) {
	for i, d := range defaultFolders {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO folders (id, user_id, parent_id, name, description, icon, color, position, is_expanded)
			VALUES ($1, $2, NULL, $3, '', $4, $5, $6, true)
		`, uuid.New(), userID, d.Name, d.Icon, d.Color, i)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Str("folder", d.Name).Msg("failed to seed default folder")
		}
	}
	s.invalidate(userID)
}

// Tree loads every folder owned by userID with note/task counts, using the
// cache when present. Assembly is always one flat SELECT, never a
// per-node loader.
func (s *Service) Tree(ctx context.Context, userID uuid.UUID) ([]Folder, error) {
	s.mu.Lock()
	if cached, ok := s.cache[userID]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	rows, err := s.DB.Query(ctx, `
		SELECT f.id, f.user_id, f.parent_id, f.name, f.description, f.icon, f.color, f.position, f.is_expanded,
			COALESCE(n.note_count, 0), COALESCE(t.task_count, 0)
		FROM folders f
		LEFT JOIN (SELECT folder_id, COUNT(*) AS note_count FROM notes WHERE folder_id IS NOT NULL GROUP BY folder_id) n
			ON n.folder_id = f.id
		LEFT JOIN (SELECT folder_id, COUNT(*) AS task_count FROM tasks WHERE folder_id IS NOT NULL GROUP BY folder_id) t
			ON t.folder_id = f.id
		WHERE f.user_id = $1
		ORDER BY f.position, f.name
	`, userID)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to load folders")
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.UserID, &f.ParentID, &f.Name, &f.Description, &f.Icon, &f.Color, &f.Position, &f.IsExpanded, &f.NoteCount, &f.TaskCount); err != nil {
			return nil, apperr.New(apperr.Internal, "failed to load folders")
		}
		out = append(out, f)
	}

	s.mu.Lock()
	s.cache[userID] = out
	s.mu.Unlock()
	return out, nil
}

// Get loads a single folder by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Folder, error) {
	var f Folder
	err := s.DB.QueryRow(ctx, `
		SELECT id, user_id, parent_id, name, description, icon, color, position, is_expanded
		FROM folders WHERE id = $1
	`, id).Scan(&f.ID, &f.UserID, &f.ParentID, &f.Name, &f.Description, &f.Icon, &f.Color, &f.Position, &f.IsExpanded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "folder not found")
	}
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to load folder")
	}
	return &f, nil
}

// Create inserts a new folder under an optional parent, rejecting a
// duplicate (user_id, name, parent_id).
func (s *Service) Create(ctx context.Context, userID uuid.UUID, parentID *uuid.UUID, name, description, icon, color string) (*Folder, error) {
	if len(name) == 0 || len(name) > 100 {
		return nil, apperr.Validation(apperr.FieldError{Field: "name", Message: "must be 1-100 characters"})
	}
	if parentID != nil {
		parent, err := s.Get(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		if parent.UserID != userID {
			return nil, apperr.New(apperr.NotFound, "folder not found")
		}
	}

	if dup, err := s.nameTaken(ctx, userID, parentID, name, nil); err != nil {
		return nil, err
	} else if dup {
		return nil, apperr.New(apperr.Duplicate, "a folder with this name already exists here")
	}

	id := uuid.New()
	_, err := s.DB.Exec(ctx, `
		INSERT INTO folders (id, user_id, parent_id, name, description, icon, color, position, is_expanded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, true)
	`, id, userID, parentID, name, description, icon, color)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to create folder")
	}
	s.invalidate(userID)

	return &Folder{ID: id, UserID: userID, ParentID: parentID, Name: name, Description: description, Icon: icon, Color: color, IsExpanded: true}, nil
}

func (s *Service) nameTaken(ctx context.Context, userID uuid.UUID, parentID *uuid.UUID, name string, excludeID *uuid.UUID) (bool, error) {
	var exists bool
	var err error
	if excludeID == nil {
		err = s.DB.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM folders WHERE user_id = $1 AND name = $2 AND parent_id IS NOT DISTINCT FROM $3)
		`, userID, name, parentID).Scan(&exists)
	} else {
		err = s.DB.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM folders WHERE user_id = $1 AND name = $2 AND parent_id IS NOT DISTINCT FROM $3 AND id != $4)
		`, userID, name, parentID, *excludeID).Scan(&exists)
	}
	if err != nil {
		return false, apperr.New(apperr.Internal, "failed to check folder name")
	}
	return exists, nil
}

// Update edits folder metadata in place (never reparents; use Move for that).
func (s *Service) Update(ctx context.Context, id uuid.UUID, name, description, icon, color *string, position *int, isExpanded *bool) (*Folder, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	newName := f.Name
	if name != nil {
		if len(*name) == 0 || len(*name) > 100 {
			return nil, apperr.Validation(apperr.FieldError{Field: "name", Message: "must be 1-100 characters"})
		}
		newName = *name
	}
	if newName != f.Name {
		if dup, err := s.nameTaken(ctx, f.UserID, f.ParentID, newName, &f.ID); err != nil {
			return nil, err
		} else if dup {
			return nil, apperr.New(apperr.Duplicate, "a folder with this name already exists here")
		}
	}

	_, err = s.DB.Exec(ctx, `
		UPDATE folders SET
			name = $1,
			description = COALESCE($2, description),
			icon = COALESCE($3, icon),
			color = COALESCE($4, color),
			position = COALESCE($5, position),
			is_expanded = COALESCE($6, is_expanded)
		WHERE id = $7
	`, newName, description, icon, color, position, isExpanded, id)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "failed to update folder")
	}
	s.invalidate(f.UserID)
	return s.Get(ctx, id)
}

// Delete removes a folder with no subfolders, resetting owned notes/tasks'
// folder_id to NULL.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	f, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	var childCount int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM folders WHERE parent_id = $1`, id).Scan(&childCount); err != nil {
		return apperr.New(apperr.Internal, "failed to check subfolders")
	}
	if childCount > 0 {
		return apperr.New(apperr.NotEmpty, "folder has subfolders")
	}

	err = store.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE notes SET folder_id = NULL WHERE folder_id = $1`, id); err != nil {
			return apperr.New(apperr.Internal, "failed to detach notes")
		}
		if _, err := tx.Exec(ctx, `UPDATE tasks SET folder_id = NULL WHERE folder_id = $1`, id); err != nil {
			return apperr.New(apperr.Internal, "failed to detach tasks")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM folders WHERE id = $1`, id); err != nil {
			return apperr.New(apperr.Internal, "failed to delete folder")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(f.UserID)
	return nil
}

// DescendantIDs returns every folder id transitively reachable from id,
// assembled in memory from the user's flat folder list.
func (s *Service) DescendantIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := s.Tree(ctx, f.UserID)
	if err != nil {
		return nil, err
	}

	children := make(map[uuid.UUID][]uuid.UUID)
	for _, n := range all {
		if n.ParentID != nil {
			children[*n.ParentID] = append(children[*n.ParentID], n.ID)
		}
	}

	var out []uuid.UUID
	var walk func(uuid.UUID)
	walk = func(cur uuid.UUID) {
		for _, c := range children[cur] {
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out, nil
}

// Path returns [root..folder] by walking parent_id pointers.
func (s *Service) Path(ctx context.Context, id uuid.UUID) ([]Folder, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := s.Tree(ctx, f.UserID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]Folder, len(all))
	for _, n := range all {
		byID[n.ID] = n
	}

	cur, ok := byID[id]
	if !ok {
		cur = *f
	}
	var path []Folder
	for {
		path = append([]Folder{cur}, path...)
		if cur.ParentID == nil {
			break
		}
		parent, ok := byID[*cur.ParentID]
		if !ok {
			break
		}
		cur = parent
	}
	return path, nil
}

// Move reparents folder id under newParentID (nil detaches to root),
// rejecting cycles and name collisions at the destination.
func (s *Service) Move(ctx context.Context, id uuid.UUID, newParentID *uuid.UUID) error {
	f, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if newParentID != nil {
		if *newParentID == id {
			return apperr.New(apperr.Cycle, "a folder cannot be its own parent")
		}
		newParent, err := s.Get(ctx, *newParentID)
		if err != nil {
			return err
		}
		if newParent.UserID != f.UserID {
			return apperr.New(apperr.NotFound, "folder not found")
		}
		descendants, err := s.DescendantIDs(ctx, id)
		if err != nil {
			return err
		}
		for _, d := range descendants {
			if d == *newParentID {
				return apperr.New(apperr.Cycle, "cannot move a folder into its own descendant")
			}
		}
	}

	if dup, err := s.nameTaken(ctx, f.UserID, newParentID, f.Name, &f.ID); err != nil {
		return err
	} else if dup {
		return apperr.New(apperr.Duplicate, "a folder with this name already exists at the destination")
	}

	if _, err := s.DB.Exec(ctx, `UPDATE folders SET parent_id = $1 WHERE id = $2`, newParentID, id); err != nil {
		return apperr.New(apperr.Internal, "failed to move folder")
	}
	s.invalidate(f.UserID)
	return nil
}

// MoveEntityFolder reassigns the folder_id of a note or task, verifying the
// destination folder belongs to ownerID. table must be "notes" or "tasks".
func (s *Service) MoveEntityFolder(ctx context.Context, table string, entityID uuid.UUID, ownerID uuid.UUID, newFolderID *uuid.UUID) error {
	if newFolderID != nil {
		folder, err := s.Get(ctx, *newFolderID)
		if err != nil {
			return err
		}
		if folder.UserID != ownerID {
			return apperr.New(apperr.NotFound, "folder not found")
		}
	}

	query := `UPDATE notes SET folder_id = $1, updated_at = $2 WHERE id = $3`
	if table == "tasks" {
		query = `UPDATE tasks SET folder_id = $1, updated_at = $2 WHERE id = $3`
	}
	if _, err := s.DB.Exec(ctx, query, newFolderID, time.Now().UTC(), entityID); err != nil {
		return apperr.New(apperr.Internal, "failed to move item")
	}
	s.invalidate(ownerID)
	return nil
}
