package signaling

import (
	"time"
)

// Room groups peers eligible to negotiate with one another.
type Room struct {
	ID              string
	Name            string
	MaxParticipants int
	CreatorID       string
	CreatedAt       time.Time

	participants map[string]struct{}
}

func newRoom(id, name, creator string, maxParticipants int) *Room {
	return &Room{
		ID:              id,
		Name:            name,
		MaxParticipants: maxParticipants,
		CreatorID:       creator,
		CreatedAt:       time.Now(),
		participants:    map[string]struct{}{creator: {}},
	}
}

func (r *Room) has(peerID string) bool {
	_, ok := r.participants[peerID]
	return ok
}

// RoomSnapshot is the immutable view returned to callers and carried in
// join/leave notifications.
type RoomSnapshot struct {
	ID              string    `json:"id"`
	Name            string    `json:"name,omitempty"`
	MaxParticipants int       `json:"max_participants"`
	CreatorID       string    `json:"creator_id"`
	CreatedAt       time.Time `json:"created_at"`
	Participants    []string  `json:"participants"`
}

func (r *Room) snapshot() RoomSnapshot {
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	return RoomSnapshot{
		ID:              r.ID,
		Name:            r.Name,
		MaxParticipants: r.MaxParticipants,
		CreatorID:       r.CreatorID,
		CreatedAt:       r.CreatedAt,
		Participants:    ids,
	}
}
