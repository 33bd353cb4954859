package types

import "time"

// TransportKind identifies the delivery transport a connection uses.
type TransportKind string

const (
	// PushSocket is a full-duplex persistent connection (WebSocket).
	PushSocket TransportKind = "push_socket"
	// EventStream is a server-to-client-only long-lived HTTP response (SSE).
	EventStream TransportKind = "event_stream"
)

// ConnStatus is the lifecycle state of a connection.
type ConnStatus string

const (
	StatusConnecting ConnStatus = "connecting"
	StatusConnected  ConnStatus = "connected"
	StatusDraining   ConnStatus = "draining"
	StatusClosed     ConnStatus = "closed"
)

// EnvelopeKind discriminates the payload variant of an Envelope.
type EnvelopeKind string

const (
	KindText      EnvelopeKind = "text"
	KindBinary    EnvelopeKind = "binary"
	KindCommand   EnvelopeKind = "command"
	KindResponse  EnvelopeKind = "response"
	KindChannel   EnvelopeKind = "channel"
	KindSignal    EnvelopeKind = "signal"
	KindHeartbeat EnvelopeKind = "heartbeat"
	KindError     EnvelopeKind = "error"
)

// ScopeKind describes how an envelope is routed.
type ScopeKind string

const (
	ScopeDirect    ScopeKind = "direct"
	ScopeChannel   ScopeKind = "channel"
	ScopeBroadcast ScopeKind = "broadcast"
)

// Scope is the delivery scope of an envelope: a direct target (connection
// or peer id), a channel name, or a broadcast with an exclusion set.
type Scope struct {
	Kind    ScopeKind
	Target  string
	Exclude map[string]struct{}
}

// DirectScope targets a single connection or peer id.
func DirectScope(target string) Scope {
	return Scope{Kind: ScopeDirect, Target: target}
}

// ChannelScope targets all subscribers of a channel.
func ChannelScope(name string) Scope {
	return Scope{Kind: ScopeChannel, Target: name}
}

// BroadcastScope targets every registered connection except the excluded ids.
func BroadcastScope(exclude ...string) Scope {
	ex := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		ex[id] = struct{}{}
	}
	return Scope{Kind: ScopeBroadcast, Exclude: ex}
}

// Envelope is the unit of delivery. Exactly one payload field matching Kind
// is populated; the codec validates this at the wire boundary so downstream
// code never type-switches on raw payloads.
type Envelope struct {
	ID        string
	Kind      EnvelopeKind
	Text      string
	Binary    []byte
	Command   *Command
	Response  *Response
	Signal    *SignalFrame
	Channel   string
	UserID    string
	Metadata  map[string]any
	Timestamp time.Time
	Scope     Scope
}

// Command is a client-initiated request carried in a COMMAND envelope.
type Command struct {
	Action     string         `json:"action"`
	Data       map[string]any `json:"data,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	TargetUser string         `json:"target_user,omitempty"`
	BinaryData string         `json:"binary_data,omitempty"`
}

// Response is the single reply every client command receives.
type Response struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Capabilities are per-connection feature flags negotiated at handshake.
type Capabilities struct {
	SupportsBinary    bool
	SupportsSignaling bool
}

// Sender is the transport-facing side of a connection: the push-socket
// adapter writes frames directly, the event-stream adapter enqueues onto a
// bounded outbound queue. A Send error means the transport is dead.
type Sender interface {
	Send(env Envelope) error
	Close() error
}

// DeliveryReport aggregates the outcome of a fan-out. Per-recipient
// failures never abort the fan-out; they are recorded here and the failed
// connections are scheduled for unregistration.
type DeliveryReport struct {
	Sent   int
	Failed []string
}

// Stats is the monitoring snapshot exposed to collaborators.
type Stats struct {
	ConnectionsByTransport map[TransportKind]int `json:"connections_by_transport"`
	ChannelCount           int                   `json:"channel_count"`
	RoomCount              int                   `json:"room_count"`
	ActivePeerLinks        int                   `json:"active_peer_links"`
}
