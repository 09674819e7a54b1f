// Package presence is the in-process real-time broker: per-entity rooms
// that fan typing, focus, cursor, and authoritative update events out to
// connected sockets.
package presence

import (
	"sync"

	"github.com/inkwell-hq/inkwell-core/internal/authz"
)

// Socket is the minimal surface a transport connection must expose to join
// rooms. The websocket gateway implements this over nhooyr.io/websocket;
// tests can fake it with an in-memory channel.
type Socket interface {
	ID() string
	Send(event string, payload any)
}

// Room names an entity-scoped channel: "note:<id>", "task:<id>", "chat:<id>".
type Room string

// Broker keeps the room<->socket membership the way the component design
// requires: a map from room to its connected sockets, and from socket to
// its joined rooms, so disconnect can walk either direction in one pass.
type Broker struct {
	mu      sync.Mutex
	rooms   map[Room]map[string]Socket
	sockets map[string]map[Room]bool
	authz   *authz.Engine
}

func New() *Broker {
	return &Broker{
		rooms:   make(map[Room]map[string]Socket),
		sockets: make(map[string]map[Room]bool),
		authz:   authz.New(),
	}
}

// Join admits a socket to a room only if caller may view the underlying
// entity. A denied join emits an UNAUTHORIZED frame on the socket and is
// silently dropped from the registry.
func (b *Broker) Join(caller authz.Subject, room Room, ent authz.Entity, sock Socket) {
	if !b.authz.PermitEntity(caller, authz.View, ent) {
		sock.Send("UNAUTHORIZED", map[string]any{"room": string(room)})
		return
	}
	b.admit(room, sock)
	b.Broadcast(room, "user-joined", map[string]any{"socketId": sock.ID()}, sock.ID())
}

// JoinChat is Join's chat-room counterpart, since chat membership is
// evaluated via AuthzEngine.PermitChat rather than PermitEntity.
func (b *Broker) JoinChat(caller authz.Subject, room Room, chatRoom authz.ChatRoom, sock Socket) {
	if !b.authz.PermitChat(caller, authz.ChatSend, chatRoom) {
		sock.Send("UNAUTHORIZED", map[string]any{"room": string(room)})
		return
	}
	b.admit(room, sock)
	b.Broadcast(room, "user-joined", map[string]any{"socketId": sock.ID()}, sock.ID())
}

func (b *Broker) admit(room Room, sock Socket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[string]Socket)
	}
	b.rooms[room][sock.ID()] = sock
	if b.sockets[sock.ID()] == nil {
		b.sockets[sock.ID()] = make(map[Room]bool)
	}
	b.sockets[sock.ID()][room] = true
}

// Leave removes a socket from a single room and notifies remaining members.
func (b *Broker) Leave(room Room, sock Socket) {
	b.mu.Lock()
	if members, ok := b.rooms[room]; ok {
		delete(members, sock.ID())
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
	if rooms, ok := b.sockets[sock.ID()]; ok {
		delete(rooms, room)
	}
	b.mu.Unlock()

	b.Broadcast(room, "user-left", map[string]any{"socketId": sock.ID()}, sock.ID())
}

// Disconnect removes a socket from every room it had joined, emitting
// user-left to each room's remaining members.
func (b *Broker) Disconnect(sock Socket) {
	b.mu.Lock()
	rooms := make([]Room, 0, len(b.sockets[sock.ID()]))
	for room := range b.sockets[sock.ID()] {
		rooms = append(rooms, room)
	}
	delete(b.sockets, sock.ID())
	for _, room := range rooms {
		if members, ok := b.rooms[room]; ok {
			delete(members, sock.ID())
			if len(members) == 0 {
				delete(b.rooms, room)
			}
		}
	}
	b.mu.Unlock()

	for _, room := range rooms {
		b.Broadcast(room, "user-left", map[string]any{"socketId": sock.ID()}, sock.ID())
	}
}

// Broadcast fans an event out to every member of room except excludeSocketID.
// Delivery is at-most-once and best-effort: a socket not currently joined
// simply does not receive the event.
func (b *Broker) Broadcast(room Room, event string, payload any, excludeSocketID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcastLocked(room, event, payload, excludeSocketID)
}

func (b *Broker) broadcastLocked(room Room, event string, payload any, excludeSocketID string) {
	for id, sock := range b.rooms[room] {
		if id == excludeSocketID {
			continue
		}
		sock.Send(event, payload)
	}
}

// RoomMembers returns the socket ids currently joined to room.
func (b *Broker) RoomMembers(room Room) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.rooms[room]))
	for id := range b.rooms[room] {
		out = append(out, id)
	}
	return out
}
