package codec

import (
	"bytes"
	"fmt"
	"time"

	"github.com/signalmesh/realtime/src/types"
)

// EncodeEventStream renders an envelope as one SSE frame. The data field
// carries the same JSON payload shape as the push-socket frame.
func EncodeEventStream(env types.Envelope) ([]byte, error) {
	payload, err := EncodeFrame(env)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %s\n", env.ID)
	fmt.Fprintf(&buf, "event: %s\n", env.Kind)
	fmt.Fprintf(&buf, "data: %s\n\n", payload)
	return buf.Bytes(), nil
}

// EventStreamRetry renders the retry directive sent once at stream open,
// telling the client how long to wait before reconnecting.
func EventStreamRetry(d time.Duration) []byte {
	return []byte(fmt.Sprintf("retry: %d\n\n", d.Milliseconds()))
}
