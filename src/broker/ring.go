package broker

import "github.com/signalmesh/realtime/src/types"

// ring is a bounded oldest-evicted-first buffer of persisted envelopes.
type ring struct {
	entries []types.Envelope
	bound   int
}

func newRing(bound int) *ring {
	return &ring{bound: bound}
}

// append adds an envelope, evicting the oldest once the bound is exceeded.
func (r *ring) append(env types.Envelope) {
	r.entries = append(r.entries, env)
	if len(r.entries) > r.bound {
		copy(r.entries, r.entries[len(r.entries)-r.bound:])
		r.entries = r.entries[:r.bound]
	}
}

// snapshot returns the buffered envelopes in original publish order.
func (r *ring) snapshot() []types.Envelope {
	out := make([]types.Envelope, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *ring) len() int { return len(r.entries) }
