package signaling

import (
	"fmt"
	"time"

	"github.com/signalmesh/realtime/src/types"
)

// linkKey identifies a peer link by its unordered endpoint pair.
type linkKey struct {
	a, b string
}

func newLinkKey(p1, p2 string) linkKey {
	if p1 > p2 {
		p1, p2 = p2, p1
	}
	return linkKey{a: p1, b: p2}
}

// PeerLink tracks the negotiation state between two peers within a room.
type PeerLink struct {
	Key          linkKey
	RoomID       string
	State        types.LinkState
	LastActivity time.Time
}

func newPeerLink(roomID string, key linkKey) *PeerLink {
	return &PeerLink{
		Key:          key,
		RoomID:       roomID,
		State:        types.LinkNew,
		LastActivity: time.Now(),
	}
}

// apply validates and performs the state transition for a signal type.
// OFFER and ANSWER are strict; candidate and state-report frames pass in
// any non-closed state, with the answer-sent link advancing to connected on
// the first of them.
func (l *PeerLink) apply(st types.SignalType) error {
	if l.State == types.LinkClosed {
		return fmt.Errorf("link %s-%s is closed: %w", l.Key.a, l.Key.b, types.ErrInvalidSignalTransition)
	}

	switch st {
	case types.SignalOffer:
		if l.State != types.LinkNew {
			return fmt.Errorf("offer in state %s: %w", l.State, types.ErrInvalidSignalTransition)
		}
		l.State = types.LinkOfferSent
	case types.SignalAnswer:
		if l.State != types.LinkOfferSent {
			return fmt.Errorf("answer in state %s: %w", l.State, types.ErrInvalidSignalTransition)
		}
		l.State = types.LinkAnswerSent
	case types.SignalICECandidate, types.SignalConnectionState,
		types.SignalICEGatheringState, types.SignalDataChannel:
		if l.State == types.LinkAnswerSent {
			l.State = types.LinkConnected
		}
	default:
		return fmt.Errorf("signal type %q: %w", st, types.ErrInvalidSignalTransition)
	}

	l.LastActivity = time.Now()
	return nil
}

func (l *PeerLink) close() {
	l.State = types.LinkClosed
}

// involves reports whether the link has the peer as an endpoint.
func (l *PeerLink) involves(peerID string) bool {
	return l.Key.a == peerID || l.Key.b == peerID
}
