package stream

import (
	"sync"

	"github.com/forgehq/forge/internal/errors"
)

// ErrStreamClosed is returned by Emit after the stream has finished.
var ErrStreamClosed = errors.New("stream: emitter closed")

// DefaultBuffer is the channel capacity used by NewEmitter when the caller
// passes a non-positive size.
const DefaultBuffer = 64

// Emitter delivers events to a single consumer in emission order. Emit may be
// called from multiple goroutines; ordering is the order in which Emit calls
// complete. Finish emits the terminal Done event and closes the channel;
// Abort closes the channel without Done, which consumers must treat as an
// abnormal termination.
//
// Emits hold the lock shared; close paths hold it exclusively, so Finish and
// Abort wait for in-flight sends to drain before closing the channel, and a
// blocked Emit never blocks Closed.
type Emitter struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewEmitter creates an Emitter with the given channel buffer size.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Emitter{
		ch: make(chan Event, buffer),
	}
}

// Events returns the consumer channel. It is closed by Finish or Abort.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Emit delivers one event to the consumer. It blocks when the buffer is full
// and returns ErrStreamClosed after Finish or Abort. Concurrent Emit calls do
// not serialize against each other.
func (e *Emitter) Emit(ev Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrStreamClosed
	}
	e.ch <- ev
	return nil
}

// Finish emits the Done event and closes the channel. No events are accepted
// afterwards. Calling Finish more than once is a no-op.
func (e *Emitter) Finish(metadata *UsageMetadata) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.ch <- NewDoneEvent(metadata)
	e.closed = true
	close(e.ch)
}

// Abort closes the channel without a Done event. Consumers interpret the
// missing Done as an abnormal termination. Calling Abort after Finish is a
// no-op.
func (e *Emitter) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}

// Closed reports whether the stream has been finished or aborted. It does not
// block behind an Emit waiting on a full buffer.
func (e *Emitter) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}
