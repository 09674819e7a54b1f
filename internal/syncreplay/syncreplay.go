// Package syncreplay is the server-side half of the offline sync queue:
// idempotent, per-item replay of a batch of client-authored operations.
package syncreplay

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EntityType names what an Operation targets.
type EntityType string

const (
	EntityNote   EntityType = "note"
	EntityTask   EntityType = "task"
	EntityFolder EntityType = "folder"
)

// OpKind names the mutation an Operation performs.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one client-authored queue entry.
type Operation struct {
	ClientOpID      string // client-stable id, the idempotence key
	EntityType      EntityType
	Kind            OpKind
	ClientTempID    string // set only for creates keyed by a temp id
	TargetServerID  *uuid.UUID
	ClientTimestamp int64 // unix ms, used to order the batch
	Payload         map[string]any
}

// Outcome is the per-item result of replaying one Operation.
type Outcome struct {
	ClientOpID string
	Status     string // "ok", "conflict", or "error"
	Code       string
	ServerID   *uuid.UUID
}

// Dispatcher performs the actual entity mutation for one operation kind,
// implemented separately per entity type so this package stays ignorant of
// note/task/folder internals.
type Dispatcher interface {
	Create(ctx context.Context, callerID uuid.UUID, payload map[string]any) (serverID uuid.UUID, err error)
	Update(ctx context.Context, callerID uuid.UUID, serverID uuid.UUID, payload map[string]any) error
	Delete(ctx context.Context, callerID uuid.UUID, serverID uuid.UUID) error
}

// Service replays batches against a set of per-entity-type dispatchers,
// recording outcomes in sync_replay_log so repeated batches are no-ops.
type Service struct {
	DB          *pgxpool.Pool
	Dispatchers map[EntityType]Dispatcher
}

func New(db *pgxpool.Pool, dispatchers map[EntityType]Dispatcher) *Service {
	return &Service{DB: db, Dispatchers: dispatchers}
}

// Replay processes ops in chronological order by ClientTimestamp, resolving
// temp ids referenced by later operations in the same batch.
func (s *Service) Replay(ctx context.Context, callerID uuid.UUID, ops []Operation) ([]Outcome, error) {
	sorted := make([]Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ClientTimestamp < sorted[j].ClientTimestamp })

	tempToServer := make(map[string]uuid.UUID)
	outcomes := make([]Outcome, 0, len(sorted))

	for _, op := range sorted {
		if existing, ok, err := s.previousOutcome(ctx, callerID, op.ClientOpID); err != nil {
			outcomes = append(outcomes, Outcome{ClientOpID: op.ClientOpID, Status: "error", Code: string(apperr.Internal)})
			continue
		} else if ok {
			outcomes = append(outcomes, existing)
			if existing.ServerID != nil && op.ClientTempID != "" {
				tempToServer[op.ClientTempID] = *existing.ServerID
			}
			continue
		}

		resolveTempRefs(op.Payload, tempToServer)
		if op.TargetServerID == nil && op.Kind != OpCreate {
			if resolved, ok := resolveTarget(op, tempToServer); ok {
				op.TargetServerID = &resolved
			}
		}

		outcome := s.replayOne(ctx, callerID, op)
		if outcome.ServerID != nil && op.ClientTempID != "" {
			tempToServer[op.ClientTempID] = *outcome.ServerID
		}
		if err := s.record(ctx, callerID, outcome); err != nil {
			outcome.Status = "error"
			outcome.Code = string(apperr.Internal)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// resolveTempRefs rewrites any payload field ending in "Id" whose value is a
// known temp id into the mapped server id, so later operations in the same
// batch can reference a create that just happened.
func resolveTempRefs(payload map[string]any, tempToServer map[string]uuid.UUID) {
	for k, v := range payload {
		if !strings.HasSuffix(k, "Id") {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if mapped, ok := tempToServer[s]; ok {
			payload[k] = mapped.String()
		}
	}
}

func resolveTarget(op Operation, tempToServer map[string]uuid.UUID) (uuid.UUID, bool) {
	if op.ClientTempID == "" {
		return uuid.Nil, false
	}
	id, ok := tempToServer[op.ClientTempID]
	return id, ok
}

func (s *Service) replayOne(ctx context.Context, callerID uuid.UUID, op Operation) Outcome {
	dispatcher, ok := s.Dispatchers[op.EntityType]
	if !ok {
		return Outcome{ClientOpID: op.ClientOpID, Status: "error", Code: string(apperr.Internal)}
	}

	switch op.Kind {
	case OpCreate:
		serverID, err := dispatcher.Create(ctx, callerID, op.Payload)
		if err != nil {
			return errOutcome(op.ClientOpID, err)
		}
		return Outcome{ClientOpID: op.ClientOpID, Status: "ok", ServerID: &serverID}

	case OpUpdate:
		if op.TargetServerID == nil {
			return Outcome{ClientOpID: op.ClientOpID, Status: "error", Code: string(apperr.NotFound)}
		}
		if err := dispatcher.Update(ctx, callerID, *op.TargetServerID, op.Payload); err != nil {
			return errOutcome(op.ClientOpID, err)
		}
		return Outcome{ClientOpID: op.ClientOpID, Status: "ok", ServerID: op.TargetServerID}

	case OpDelete:
		if op.TargetServerID == nil {
			return Outcome{ClientOpID: op.ClientOpID, Status: "error", Code: string(apperr.NotFound)}
		}
		if err := dispatcher.Delete(ctx, callerID, *op.TargetServerID); err != nil {
			return errOutcome(op.ClientOpID, err)
		}
		return Outcome{ClientOpID: op.ClientOpID, Status: "ok", ServerID: op.TargetServerID}

	default:
		return Outcome{ClientOpID: op.ClientOpID, Status: "error", Code: string(apperr.ValidationError)}
	}
}

func errOutcome(clientOpID string, err error) Outcome {
	ae := apperr.As(err)
	status := "error"
	switch ae.Code {
	case apperr.Conflict, apperr.Duplicate, apperr.NotFound, apperr.Cycle, apperr.NotEmpty, apperr.SelfShare:
		status = "conflict"
	}
	return Outcome{ClientOpID: clientOpID, Status: status, Code: string(ae.Code)}
}

func (s *Service) previousOutcome(ctx context.Context, callerID uuid.UUID, clientOpID string) (Outcome, bool, error) {
	var o Outcome
	var serverID *uuid.UUID
	err := s.DB.QueryRow(ctx, `
		SELECT outcome, code, server_id FROM sync_replay_log WHERE user_id = $1 AND client_op_id = $2
	`, callerID, clientOpID).Scan(&o.Status, &o.Code, &serverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, apperr.New(apperr.Internal, "failed to check replay log")
	}
	o.ClientOpID = clientOpID
	o.ServerID = serverID
	return o, true, nil
}

func (s *Service) record(ctx context.Context, callerID uuid.UUID, o Outcome) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO sync_replay_log (user_id, client_op_id, outcome, code, server_id, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, client_op_id) DO NOTHING
	`, callerID, o.ClientOpID, o.Status, o.Code, o.ServerID)
	if err != nil {
		return apperr.New(apperr.Internal, "failed to record replay outcome")
	}
	return nil
}
