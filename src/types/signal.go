package types

// SignalType classifies a peer-negotiation frame.
type SignalType string

const (
	SignalOffer             SignalType = "offer"
	SignalAnswer            SignalType = "answer"
	SignalICECandidate      SignalType = "ice_candidate"
	SignalICEGatheringState SignalType = "ice_gathering_state"
	SignalConnectionState   SignalType = "connection_state"
	SignalDataChannel       SignalType = "data_channel"
)

// SignalFrame is the wire shape of one signaling message. The server only
// relays these between peers; it never inspects SDP or candidate contents.
type SignalFrame struct {
	SignalType      SignalType     `json:"signal_type"`
	PeerID          string         `json:"peer_id"`
	TargetPeerID    string         `json:"target_peer_id,omitempty"`
	RoomID          string         `json:"room_id,omitempty"`
	SDP             string         `json:"sdp,omitempty"`
	ICECandidate    map[string]any `json:"ice_candidate,omitempty"`
	ConnectionState string         `json:"connection_state,omitempty"`
	GatheringState  string         `json:"gathering_state,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// LinkState is the negotiation state of a PeerLink.
type LinkState string

const (
	LinkNew        LinkState = "new"
	LinkOfferSent  LinkState = "offer_sent"
	LinkAnswerSent LinkState = "answer_sent"
	LinkConnected  LinkState = "connected"
	LinkClosed     LinkState = "closed"
)
