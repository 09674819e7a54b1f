package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/authz"
	"github.com/inkwell-hq/inkwell-core/internal/folder"
	"github.com/inkwell-hq/inkwell-core/internal/note"
	"github.com/inkwell-hq/inkwell-core/internal/syncreplay"
	"github.com/inkwell-hq/inkwell-core/internal/task"
)

func mapStr(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func mapStrPtr(payload map[string]any, key string) *string {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func mapUUIDPtr(payload map[string]any, key string) *uuid.UUID {
	s := mapStrPtr(payload, key)
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

func mapTags(payload map[string]any) []string {
	raw, ok := payload["tags"].([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// noteDispatcher adapts note.Service to syncreplay.Dispatcher's
// entity-agnostic, map-payload shape.
type noteDispatcher struct {
	svc *note.Service
}

func (d noteDispatcher) subject(callerID uuid.UUID) authz.Subject {
	return authz.Subject{UserID: callerID}
}

func (d noteDispatcher) Create(ctx context.Context, callerID uuid.UUID, payload map[string]any) (uuid.UUID, error) {
	n, err := d.svc.Create(ctx, callerID, mapUUIDPtr(payload, "folderId"), mapStr(payload, "title"), mapStr(payload, "body"), mapTags(payload))
	if err != nil {
		return uuid.Nil, err
	}
	return n.ID, nil
}

func (d noteDispatcher) Update(ctx context.Context, callerID, serverID uuid.UUID, payload map[string]any) error {
	title := mapStrPtr(payload, "title")
	body := mapStrPtr(payload, "body")
	var tags []string
	if _, ok := payload["tags"]; ok {
		tags = mapTags(payload)
	}
	_, err := d.svc.Update(ctx, d.subject(callerID), serverID, title, body, nil, tags)
	return err
}

func (d noteDispatcher) Delete(ctx context.Context, callerID, serverID uuid.UUID) error {
	return d.svc.Delete(ctx, d.subject(callerID), serverID)
}

// taskDispatcher adapts task.Service to syncreplay.Dispatcher.
type taskDispatcher struct {
	svc *task.Service
}

func (d taskDispatcher) subject(callerID uuid.UUID) authz.Subject {
	return authz.Subject{UserID: callerID}
}

func (d taskDispatcher) Create(ctx context.Context, callerID uuid.UUID, payload map[string]any) (uuid.UUID, error) {
	priority := task.Priority(mapStr(payload, "priority"))
	if priority == "" {
		priority = task.Medium
	}
	t, err := d.svc.Create(ctx, callerID, mapUUIDPtr(payload, "folderId"), mapStr(payload, "title"), mapStr(payload, "description"), priority, nil)
	if err != nil {
		return uuid.Nil, err
	}
	return t.ID, nil
}

func (d taskDispatcher) Update(ctx context.Context, callerID, serverID uuid.UUID, payload map[string]any) error {
	title := mapStrPtr(payload, "title")
	description := mapStrPtr(payload, "description")
	var priority *task.Priority
	if p := mapStrPtr(payload, "priority"); p != nil {
		pr := task.Priority(*p)
		priority = &pr
	}
	_, err := d.svc.Update(ctx, d.subject(callerID), serverID, title, description, priority, nil, nil)
	return err
}

func (d taskDispatcher) Delete(ctx context.Context, callerID, serverID uuid.UUID) error {
	return d.svc.Delete(ctx, d.subject(callerID), serverID)
}

// folderDispatcher adapts folder.Service to syncreplay.Dispatcher. Folder
// authz here is caller-owns-target, enforced inline since folder.Service
// itself performs no authz checks.
type folderDispatcher struct {
	svc   *folder.Service
	authz *authz.Engine
}

func (d folderDispatcher) Create(ctx context.Context, callerID uuid.UUID, payload map[string]any) (uuid.UUID, error) {
	f, err := d.svc.Create(ctx, callerID, mapUUIDPtr(payload, "parentId"), mapStr(payload, "name"), mapStr(payload, "description"), mapStr(payload, "icon"), mapStr(payload, "color"))
	if err != nil {
		return uuid.Nil, err
	}
	return f.ID, nil
}

func (d folderDispatcher) Update(ctx context.Context, callerID, serverID uuid.UUID, payload map[string]any) error {
	existing, err := d.svc.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if !d.authz.PermitFolderWrite(authz.Subject{UserID: callerID}, existing.UserID) {
		return apperr.New(apperr.Forbidden, "not your folder")
	}
	_, err = d.svc.Update(ctx, serverID, mapStrPtr(payload, "name"), mapStrPtr(payload, "description"), mapStrPtr(payload, "icon"), mapStrPtr(payload, "color"), nil, nil)
	return err
}

func (d folderDispatcher) Delete(ctx context.Context, callerID, serverID uuid.UUID) error {
	existing, err := d.svc.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if !d.authz.PermitFolderWrite(authz.Subject{UserID: callerID}, existing.UserID) {
		return apperr.New(apperr.Forbidden, "not your folder")
	}
	return d.svc.Delete(ctx, serverID)
}

// ReplayDispatchers wires the note/task/folder services into the
// syncreplay.Dispatcher map the offline-queue replay service needs.
func ReplayDispatchers(notes *note.Service, tasks *task.Service, folders *folder.Service, az *authz.Engine) map[syncreplay.EntityType]syncreplay.Dispatcher {
	return map[syncreplay.EntityType]syncreplay.Dispatcher{
		syncreplay.EntityNote:   noteDispatcher{svc: notes},
		syncreplay.EntityTask:   taskDispatcher{svc: tasks},
		syncreplay.EntityFolder: folderDispatcher{svc: folders, authz: az},
	}
}

type syncReplayReq struct {
	Operations []struct {
		ClientOpID      string         `json:"clientOpId"`
		EntityType      string         `json:"entityType"`
		Kind            string         `json:"kind"`
		ClientTempID    string         `json:"clientTempId"`
		TargetServerID  *string        `json:"targetServerId"`
		ClientTimestamp int64          `json:"clientTimestamp"`
		Payload         map[string]any `json:"payload"`
	} `json:"operations"`
}

type syncOutcomeDTO struct {
	ClientOpID string  `json:"clientOpId"`
	Status     string  `json:"status"`
	Code       string  `json:"code,omitempty"`
	ServerID   *string `json:"serverId,omitempty"`
}

func (s *Server) SyncReplay(w http.ResponseWriter, r *http.Request) {
	var req syncReplayReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	ops := make([]syncreplay.Operation, 0, len(req.Operations))
	for _, o := range req.Operations {
		var target *uuid.UUID
		if o.TargetServerID != nil {
			if id, err := uuid.Parse(*o.TargetServerID); err == nil {
				target = &id
			}
		}
		ops = append(ops, syncreplay.Operation{
			ClientOpID:      o.ClientOpID,
			EntityType:      syncreplay.EntityType(o.EntityType),
			Kind:            syncreplay.OpKind(o.Kind),
			ClientTempID:    o.ClientTempID,
			TargetServerID:  target,
			ClientTimestamp: o.ClientTimestamp,
			Payload:         o.Payload,
		})
	}

	outcomes, err := s.Replay.Replay(r.Context(), caller(r).ID, ops)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}

	dtos := make([]syncOutcomeDTO, len(outcomes))
	for i, oc := range outcomes {
		dto := syncOutcomeDTO{ClientOpID: oc.ClientOpID, Status: oc.Status, Code: oc.Code}
		if oc.ServerID != nil {
			id := oc.ServerID.String()
			dto.ServerID = &id
		}
		dtos[i] = dto
	}
	writeData(w, r, http.StatusOK, map[string]any{"outcomes": dtos})
}
