// Package codec (de)serializes the three wire shapes: push-socket JSON
// frames, event-stream frames, and signaling frames. Validation of the
// envelope tagged union happens here so downstream components never see a
// malformed payload.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/signalmesh/realtime/src/types"
)

// Frame is the push-socket wire shape. The same JSON object rides in the
// data field of event-stream frames.
type Frame struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Data       any            `json:"data,omitempty"`
	BinaryData string         `json:"binary_data,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
}

// NewEnvelope allocates an envelope with a fresh id and timestamp.
func NewEnvelope(kind types.EnvelopeKind) types.Envelope {
	return types.Envelope{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// Validate checks the tagged-union invariant: exactly the payload field
// matching the envelope kind is populated.
func Validate(env types.Envelope) error {
	if env.ID == "" {
		return fmt.Errorf("envelope missing id")
	}
	switch env.Kind {
	case types.KindText, types.KindChannel:
		if env.Binary != nil || env.Command != nil || env.Response != nil || env.Signal != nil {
			return fmt.Errorf("%s envelope carries non-text payload", env.Kind)
		}
	case types.KindBinary:
		if env.Binary == nil {
			return fmt.Errorf("binary envelope missing payload")
		}
	case types.KindCommand:
		if env.Command == nil {
			return fmt.Errorf("command envelope missing payload")
		}
	case types.KindResponse, types.KindError:
		if env.Response == nil {
			return fmt.Errorf("%s envelope missing payload", env.Kind)
		}
	case types.KindSignal:
		if env.Signal == nil {
			return fmt.Errorf("signal envelope missing payload")
		}
	case types.KindHeartbeat:
		// No payload.
	default:
		return fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
	return nil
}

// EncodeFrame serializes an envelope to the push-socket JSON wire shape.
func EncodeFrame(env types.Envelope) ([]byte, error) {
	if err := Validate(env); err != nil {
		return nil, err
	}
	f := Frame{
		ID:        env.ID,
		Type:      string(env.Kind),
		Channel:   env.Channel,
		UserID:    env.UserID,
		Metadata:  env.Metadata,
		Timestamp: env.Timestamp,
	}
	switch env.Kind {
	case types.KindText, types.KindChannel:
		f.Data = env.Text
	case types.KindBinary:
		f.BinaryData = base64.StdEncoding.EncodeToString(env.Binary)
	case types.KindCommand:
		f.Data = env.Command
	case types.KindResponse, types.KindError:
		f.Data = env.Response
	case types.KindSignal:
		f.Data = env.Signal
	}
	return json.Marshal(f)
}

// DecodeCommand parses a client frame into a command. Clients only ever
// send commands; anything without an action is rejected here.
func DecodeCommand(raw []byte) (*types.Command, error) {
	var cmd types.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Action == "" {
		return nil, fmt.Errorf("decode command: missing action")
	}
	return &cmd, nil
}

// DecodeSignal parses the data object of a signal command into a frame and
// validates the signal type.
func DecodeSignal(data map[string]any) (*types.SignalFrame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}
	var frame types.SignalFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}
	switch frame.SignalType {
	case types.SignalOffer, types.SignalAnswer, types.SignalICECandidate,
		types.SignalICEGatheringState, types.SignalConnectionState, types.SignalDataChannel:
	default:
		return nil, fmt.Errorf("decode signal: unknown signal_type %q", frame.SignalType)
	}
	if frame.PeerID == "" {
		return nil, fmt.Errorf("decode signal: missing peer_id")
	}
	return &frame, nil
}

// DecodeBinary decodes the base64 binary_data field of a command.
func DecodeBinary(encoded string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode binary payload: %w", err)
	}
	return b, nil
}
