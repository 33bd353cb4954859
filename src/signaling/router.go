// Package signaling owns rooms and peer links and relays the offer/answer/
// candidate handshake between peers. The server never interprets SDP or
// candidates; it validates room membership and link state, then forwards.
package signaling

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/signalmesh/realtime/src/codec"
	"github.com/signalmesh/realtime/src/types"
)

// DeliverFunc resolves a logical peer id to its live connections and
// delivers the envelope to each. It returns ErrPeerNotFound when the peer
// has no resolvable connection at delivery time.
type DeliverFunc func(peerID string, env types.Envelope) error

// LifecycleForwarder receives fire-and-forget room lifecycle events for
// cross-process consumers. Failures are the forwarder's problem; the router
// never blocks on it.
type LifecycleForwarder interface {
	Forward(event string, payload map[string]any)
}

// Router relays signaling frames between peers grouped into rooms.
type Router struct {
	mu    sync.Mutex
	rooms map[string]*Room
	links map[string]map[linkKey]*PeerLink // room id -> links

	deliver         DeliverFunc
	forwarder       LifecycleForwarder
	defaultRoomSize int
	logger          zerolog.Logger
}

// New creates a router. deliver is how relayed frames and room
// notifications reach peers; forwarder may be nil.
func New(deliver DeliverFunc, forwarder LifecycleForwarder, defaultRoomSize int, logger zerolog.Logger) *Router {
	return &Router{
		rooms:           make(map[string]*Room),
		links:           make(map[string]map[linkKey]*PeerLink),
		deliver:         deliver,
		forwarder:       forwarder,
		defaultRoomSize: defaultRoomSize,
		logger:          logger.With().Str("component", "signaling").Logger(),
	}
}

// CreateOrJoinRoom joins a peer to a room, creating it when absent. An
// empty roomID asks for a fresh room with a generated id. A full room
// rejects the join with ErrRoomFull and mutates nothing. Existing
// participants are notified of the join.
func (r *Router) CreateOrJoinRoom(roomID, peerID, name string, maxParticipants int) (RoomSnapshot, error) {
	if maxParticipants <= 0 {
		maxParticipants = r.defaultRoomSize
	}

	r.mu.Lock()
	created := false
	if roomID == "" {
		roomID = uuid.New().String()
	}
	room, ok := r.rooms[roomID]
	if !ok {
		room = newRoom(roomID, name, peerID, maxParticipants)
		r.rooms[roomID] = room
		created = true
	} else if !room.has(peerID) {
		if len(room.participants) >= room.MaxParticipants {
			r.mu.Unlock()
			return RoomSnapshot{}, fmt.Errorf("join room %s: %w", roomID, types.ErrRoomFull)
		}
		room.participants[peerID] = struct{}{}
	}
	snap := room.snapshot()
	others := othersOf(room, peerID)
	r.mu.Unlock()

	if created {
		r.logger.Info().Str("room_id", roomID).Str("creator", peerID).Msg("room created")
		r.emit("room_created", map[string]any{"room_id": roomID, "creator_id": peerID})
	} else {
		r.logger.Info().Str("room_id", roomID).Str("peer_id", peerID).Msg("peer joined room")
	}
	r.notify(others, "peer_joined", roomID, peerID)
	r.emit("peer_joined", map[string]any{"room_id": roomID, "peer_id": peerID})
	return snap, nil
}

// LeaveRoom removes a peer from a room, tears down its links, notifies the
// remaining participants, and deletes the room once empty. Leaving a room
// the peer is not in is a no-op.
func (r *Router) LeaveRoom(roomID, peerID string) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok || !room.has(peerID) {
		r.mu.Unlock()
		return
	}
	delete(room.participants, peerID)
	r.teardownLinksLocked(roomID, peerID)

	var remaining []string
	deleted := false
	if len(room.participants) == 0 {
		delete(r.rooms, roomID)
		delete(r.links, roomID)
		deleted = true
	} else {
		remaining = othersOf(room, peerID)
	}
	r.mu.Unlock()

	r.notify(remaining, "peer_left", roomID, peerID)
	r.emit("peer_left", map[string]any{"room_id": roomID, "peer_id": peerID})
	if deleted {
		r.logger.Info().Str("room_id", roomID).Msg("room removed")
		r.emit("room_deleted", map[string]any{"room_id": roomID})
	}
}

// RelaySignal validates membership and link state, advances the peer link,
// and forwards the frame to every live connection of the target peer.
func (r *Router) RelaySignal(roomID string, frame *types.SignalFrame) error {
	from, to := frame.PeerID, frame.TargetPeerID

	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok || !room.has(from) || !room.has(to) {
		r.mu.Unlock()
		return fmt.Errorf("relay in room %s: %w", roomID, types.ErrPeerNotFound)
	}

	key := newLinkKey(from, to)
	roomLinks, ok := r.links[roomID]
	if !ok {
		roomLinks = make(map[linkKey]*PeerLink)
		r.links[roomID] = roomLinks
	}
	link, ok := roomLinks[key]
	if !ok {
		link = newPeerLink(roomID, key)
		roomLinks[key] = link
	}
	if err := link.apply(frame.SignalType); err != nil {
		r.mu.Unlock()
		return err
	}
	linkState := link.State
	r.mu.Unlock()

	env := codec.NewEnvelope(types.KindSignal)
	frame.RoomID = roomID
	env.Signal = frame
	env.Scope = types.DirectScope(to)

	if err := r.deliver(to, env); err != nil {
		return fmt.Errorf("relay %s to %s: %w", frame.SignalType, to, err)
	}

	r.logger.Debug().
		Str("room_id", roomID).
		Str("from", from).
		Str("to", to).
		Str("signal_type", string(frame.SignalType)).
		Str("link_state", string(linkState)).
		Msg("signal relayed")
	return nil
}

// CleanupPeer removes a peer from every room it is in. Invoked from the
// registry's unregister cascade when the peer's last connection dies.
func (r *Router) CleanupPeer(peerID string) {
	r.mu.Lock()
	var roomIDs []string
	for id, room := range r.rooms {
		if room.has(peerID) {
			roomIDs = append(roomIDs, id)
		}
	}
	r.mu.Unlock()

	for _, id := range roomIDs {
		r.LeaveRoom(id, peerID)
	}
}

// SweepStaleLinks closes and removes links idle past maxAge. Closed links
// are dropped immediately.
func (r *Router) SweepStaleLinks(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID, roomLinks := range r.links {
		for key, link := range roomLinks {
			if link.State == types.LinkClosed || link.LastActivity.Before(cutoff) {
				delete(roomLinks, key)
				r.logger.Debug().
					Str("room_id", roomID).
					Str("peer_a", key.a).
					Str("peer_b", key.b).
					Msg("stale peer link removed")
			}
		}
		if len(roomLinks) == 0 {
			delete(r.links, roomID)
		}
	}
}

// Room returns a snapshot of a room, if it exists.
func (r *Router) Room(roomID string) (RoomSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, false
	}
	return room.snapshot(), true
}

// LinkState reports the state of the link between two peers in a room.
func (r *Router) LinkState(roomID, p1, p2 string) (types.LinkState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[roomID][newLinkKey(p1, p2)]
	if !ok {
		return "", false
	}
	return link.State, true
}

// RoomCount returns the number of live rooms.
func (r *Router) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// ActiveLinkCount returns the number of non-closed peer links.
func (r *Router) ActiveLinkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, roomLinks := range r.links {
		for _, link := range roomLinks {
			if link.State != types.LinkClosed {
				n++
			}
		}
	}
	return n
}

// teardownLinksLocked closes every link in the room involving the peer.
func (r *Router) teardownLinksLocked(roomID, peerID string) {
	for key, link := range r.links[roomID] {
		if link.involves(peerID) {
			link.close()
			delete(r.links[roomID], key)
		}
	}
}

// notify sends a room lifecycle envelope to each listed peer. Delivery is
// best-effort; a peer with no live connection is simply skipped.
func (r *Router) notify(peerIDs []string, event, roomID, subjectPeer string) {
	for _, id := range peerIDs {
		env := codec.NewEnvelope(types.KindChannel)
		env.Channel = "room:" + roomID
		env.Metadata = map[string]any{
			"event":   event,
			"room_id": roomID,
			"peer_id": subjectPeer,
		}
		env.Scope = types.DirectScope(id)
		if err := r.deliver(id, env); err != nil {
			r.logger.Debug().Err(err).Str("peer_id", id).Str("event", event).Msg("notify skipped")
		}
	}
}

func (r *Router) emit(event string, payload map[string]any) {
	if r.forwarder != nil {
		r.forwarder.Forward(event, payload)
	}
}

func othersOf(room *Room, except string) []string {
	out := make([]string, 0, len(room.participants))
	for id := range room.participants {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}
