package transport

import (
	"bufio"
	"sync"
	"time"

	"github.com/signalmesh/realtime/src/codec"
	"github.com/signalmesh/realtime/src/types"
)

// EventStream is the server-push-only transport adapter: a bounded outbound
// queue drained by one writer task. On overflow the policy is to report
// ErrQueueOverflow so the caller closes the connection; a slow consumer
// must never stall fan-out to other subscribers.
type EventStream struct {
	queue chan types.Envelope
	done  chan struct{}
	once  sync.Once
}

// NewEventStream creates the adapter with the given queue bound.
func NewEventStream(queueSize int) *EventStream {
	return &EventStream{
		queue: make(chan types.Envelope, queueSize),
		done:  make(chan struct{}),
	}
}

// Send enqueues without blocking. A full queue is an overflow, a closed
// stream reports the connection as gone.
func (s *EventStream) Send(env types.Envelope) error {
	select {
	case <-s.done:
		return types.ErrUnknownConnection
	default:
	}
	select {
	case s.queue <- env:
		return nil
	default:
		return types.ErrQueueOverflow
	}
}

// Close stops the writer task. Queued envelopes are abandoned; the stream
// is one-way so there is nothing to flush to a dead client.
func (s *EventStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Run drains the queue onto the HTTP response until the stream closes or a
// write fails. It first emits the retry directive so clients know their
// reconnect delay. Runs on the response's stream-writer goroutine.
func (s *EventStream) Run(w *bufio.Writer, retry time.Duration) error {
	if retry > 0 {
		if _, err := w.Write(codec.EventStreamRetry(retry)); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	for {
		select {
		case env := <-s.queue:
			data, err := codec.EncodeEventStream(env)
			if err != nil {
				continue
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		case <-s.done:
			return nil
		}
	}
}
