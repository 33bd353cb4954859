package types

import "errors"

// Error taxonomy. Handshake-time errors (ErrCapacityExceeded,
// ErrAuthRequired) close the transport; in-session errors are returned to
// the requesting connection as a RESPONSE/ERROR envelope and leave the
// connection open.
var (
	ErrCapacityExceeded        = errors.New("capacity exceeded")
	ErrUnknownConnection       = errors.New("unknown connection")
	ErrChannelNotFound         = errors.New("channel not found")
	ErrRoomFull                = errors.New("room full")
	ErrPeerNotFound            = errors.New("peer not found")
	ErrInvalidSignalTransition = errors.New("invalid signal transition")
	ErrAuthRequired            = errors.New("authentication required")
	ErrQueueOverflow           = errors.New("outbound queue overflow")
)

// ErrorCode maps a taxonomy error to the wire error_code string carried in
// response envelopes. Unknown errors map to "internal_error".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrUnknownConnection):
		return "unknown_connection"
	case errors.Is(err, ErrChannelNotFound):
		return "channel_not_found"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrPeerNotFound):
		return "peer_not_found"
	case errors.Is(err, ErrInvalidSignalTransition):
		return "invalid_signal_transition"
	case errors.Is(err, ErrAuthRequired):
		return "auth_required"
	case errors.Is(err, ErrQueueOverflow):
		return "queue_overflow"
	default:
		return "internal_error"
	}
}
