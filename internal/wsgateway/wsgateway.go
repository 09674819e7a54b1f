// Package wsgateway is the WebSocket transport for internal/presence: it
// authenticates the handshake, decodes client frames, and drives
// room-join/leave commands into the broker.
package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/authz"
	"github.com/inkwell-hq/inkwell-core/internal/chat"
	"github.com/inkwell-hq/inkwell-core/internal/folder"
	"github.com/inkwell-hq/inkwell-core/internal/identity"
	"github.com/inkwell-hq/inkwell-core/internal/note"
	"github.com/inkwell-hq/inkwell-core/internal/presence"
	"github.com/inkwell-hq/inkwell-core/internal/task"
	"github.com/inkwell-hq/inkwell-core/internal/tokens"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeTimeout = 5 * time.Second
	maxRoomsJoin = 100
)

// ephemeralFields lists the "field" values each room kind accepts on a
// focus/cursor frame. typing frames carry no field and skip this check.
var ephemeralFields = map[string]map[string]bool{
	"note":   {"title": true, "body": true},
	"task":   {"title": true, "description": true},
	"folder": {"name": true},
	"chat":   {"message": true},
}

// frame is the wire shape of every client->server and server->client
// message: a type tag and an arbitrary payload.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Gateway upgrades authenticated HTTP requests to WebSocket connections and
// dispatches their frames into the presence broker.
type Gateway struct {
	Tokens   *tokens.Service
	Identity *identity.Service
	Presence *presence.Broker
	Note     *note.Service
	Task     *task.Service
	Folder   *folder.Service
	Chat     *chat.Service
}

// socket adapts one nhooyr.io/websocket connection to presence.Socket.
type socket struct {
	id   string
	conn *websocket.Conn

	mu sync.Mutex
}

func (s *socket) ID() string { return s.id }

func (s *socket) Send(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal socket frame payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, s.conn, frame{Type: event, Payload: raw}); err != nil {
		log.Warn().Err(err).Str("socketId", s.id).Msg("failed to write socket frame")
	}
}

// ServeHTTP authenticates the bearer token carried in the connect params,
// accepts the upgrade, and runs the per-socket read loop until the client
// disconnects or sends a malformed frame.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = bearerToken(r)
	}
	verified, err := g.Tokens.Verify(raw, tokens.Access)
	if err != nil {
		http.Error(w, "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}
	user, err := g.Identity.GetByID(r.Context(), verified.UserID)
	if err != nil || user.IsLocked {
		http.Error(w, "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	sock := &socket{id: uuid.New().String(), conn: conn}
	subject := authz.Subject{UserID: user.ID, IsAdmin: user.IsAdmin}
	joined := make(map[presence.Room]bool)

	defer func() {
		g.Presence.Disconnect(sock)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		if !g.handleFrame(ctx, subject, sock, joined, f) {
			return
		}
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// handleFrame dispatches one decoded client frame. It returns false when the
// connection must be torn down (a join or leave frame whose payload does not
// decode); a room name that does not resolve gets UNAUTHORIZED from join
// instead, and unknown frame types are ignored per the wire contract.
func (g *Gateway) handleFrame(ctx context.Context, subject authz.Subject, sock *socket, joined map[presence.Room]bool, f frame) bool {
	switch f.Type {
	case "join":
		var body struct {
			Room string `json:"room"`
		}
		if err := json.Unmarshal(f.Payload, &body); err != nil {
			return false
		}
		room := presence.Room(body.Room)
		if joined[room] {
			return true
		}
		if len(joined) >= maxRoomsJoin {
			sock.Send("ROOM_LIMIT", map[string]any{"max": maxRoomsJoin})
			return true
		}
		if !g.join(ctx, subject, room, sock) {
			return true
		}
		joined[room] = true
	case "leave":
		var body struct {
			Room string `json:"room"`
		}
		if err := json.Unmarshal(f.Payload, &body); err != nil {
			return false
		}
		room := presence.Room(body.Room)
		g.Presence.Leave(room, sock)
		delete(joined, room)
	case "typing", "focus", "cursor":
		g.relayEphemeral(sock, joined, f)
	default:
		// unknown frame types are ignored, not a protocol error
	}
	return true
}

// relayEphemeral fans a client-originated typing/focus/cursor frame out to
// the room it names. The frame is dropped silently, not errored, if the
// socket hasn't joined that room or names a field the room's entity kind
// doesn't recognize.
func (g *Gateway) relayEphemeral(sock *socket, joined map[presence.Room]bool, f frame) {
	var body struct {
		Room  string `json:"room"`
		Field string `json:"field"`
	}
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		return
	}
	room := presence.Room(body.Room)
	if !joined[room] {
		return
	}
	if body.Field != "" {
		kind, _, ok := splitRoom(room)
		if !ok || !ephemeralFields[kind][body.Field] {
			return
		}
	}
	g.Presence.Broadcast(room, f.Type, f.Payload, sock.ID())
}

// join resolves a room name ("note:<id>", "task:<id>", "folder:<id>",
// "chat:<id>") to the entity/chat-room authz facts presence.Broker needs,
// then admits the socket. An unrecognized or unauthorized room sends
// UNAUTHORIZED on the socket without tearing down the connection.
func (g *Gateway) join(ctx context.Context, subject authz.Subject, room presence.Room, sock *socket) bool {
	kind, id, ok := splitRoom(room)
	if !ok {
		sock.Send("UNAUTHORIZED", map[string]any{"room": string(room)})
		return false
	}

	switch kind {
	case "note":
		n, err := g.Note.Get(ctx, subject, id)
		if err != nil {
			sock.Send("UNAUTHORIZED", map[string]any{"room": string(room)})
			return false
		}
		g.Presence.Join(subject, room, entityOf(subject, n.OwnerID, n.CanEdit), sock)
	case "task":
		t, err := g.Task.Get(ctx, subject, id)
		if err != nil {
			sock.Send("UNAUTHORIZED", map[string]any{"room": string(room)})
			return false
		}
		g.Presence.Join(subject, room, entityOf(subject, t.OwnerID, t.CanEdit), sock)
	case "folder":
		f, err := g.Folder.Get(ctx, id)
		if err != nil {
			sock.Send("UNAUTHORIZED", map[string]any{"room": string(room)})
			return false
		}
		g.Presence.Join(subject, room, entityOf(subject, f.UserID, f.UserID == subject.UserID), sock)
	case "chat":
		r, err := g.Chat.GetRoom(ctx, subject, id)
		if err != nil {
			sock.Send("UNAUTHORIZED", map[string]any{"room": string(room)})
			return false
		}
		g.Presence.JoinChat(subject, room, authz.ChatRoom{CreatedByID: r.CreatedByID, IsParticipant: true}, sock)
	default:
		sock.Send("UNAUTHORIZED", map[string]any{"room": string(room)})
		return false
	}
	return true
}

// entityOf builds the authz.Entity presence.Broker.Join re-checks. The
// caller's Get already succeeded, so a non-owner necessarily holds a share;
// canEdit is carried through so the broker's edit-room semantics line up.
func entityOf(subject authz.Subject, ownerID uuid.UUID, canEdit bool) authz.Entity {
	if subject.UserID == ownerID {
		return authz.Entity{OwnerID: ownerID}
	}
	return authz.Entity{OwnerID: ownerID, Share: &authz.Share{CanEdit: canEdit}}
}

func splitRoom(room presence.Room) (kind string, id uuid.UUID, ok bool) {
	s := string(room)
	i := -1
	for j, c := range s {
		if c == ':' {
			i = j
			break
		}
	}
	if i < 0 {
		return "", uuid.Nil, false
	}
	parsed, err := uuid.Parse(s[i+1:])
	if err != nil {
		return "", uuid.Nil, false
	}
	return s[:i], parsed, true
}
