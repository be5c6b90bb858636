package stream

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wilson323/llmchat-sub012/chat"
)

// Dispatcher routes normalized stream events to the caller's callbacks while
// enforcing the single-terminal-event invariant: per call exactly one of
// OnComplete or OnError fires, and every event after the terminal is dropped.
// Vendors are known to emit heartbeat and no-op frames after logical
// completion; those are debug-logged, never delivered.
//
// One Dispatcher serves one streaming call. Dispatch may be called from the
// relay goroutine while Finish is called from the supervising one, so the
// terminated flag is mutex-guarded.
type Dispatcher struct {
	callbacks  chat.StreamCallbacks
	logger     *zap.Logger
	mu         sync.Mutex
	terminated bool
}

// NewDispatcher creates a Dispatcher for one call.
func NewDispatcher(callbacks chat.StreamCallbacks, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{callbacks: callbacks, logger: logger}
}

// Dispatch delivers one event to the matching callback.
func (d *Dispatcher) Dispatch(ev chat.StreamEvent) {
	d.mu.Lock()
	if d.terminated {
		d.mu.Unlock()
		d.logger.Debug("event after terminal dropped",
			zap.String("kind", string(ev.Kind)),
			zap.String("raw_event", ev.RawEvent),
		)
		return
	}
	if ev.Kind.Terminal() {
		d.terminated = true
	}
	d.mu.Unlock()

	switch ev.Kind {
	case chat.EventChunk:
		if d.callbacks.OnChunk != nil {
			d.callbacks.OnChunk(ev.Text)
		}
	case chat.EventComplete:
		if d.callbacks.OnComplete != nil {
			d.callbacks.OnComplete(ev)
		}
	case chat.EventError:
		err := ev.Err
		if err == nil {
			err = chat.NewError(chat.ErrUpstreamError, "vendor reported an unspecified stream error")
		}
		if d.callbacks.OnError != nil {
			d.callbacks.OnError(err)
		}
	default:
		if d.callbacks.OnEvent != nil {
			d.callbacks.OnEvent(ev.Kind, ev)
		}
	}
}

// Finish closes the call after the transport ended. When a terminal was
// already delivered it is a no-op. Otherwise a synthetic terminal error is
// emitted: the stream dropped before a vendor-native completion marker
// arrived, which the caller must not mistake for success. Passing nil uses a
// generic truncation error; cancellation passes a CANCELED error so the
// caller can tell an abort from an upstream failure.
func (d *Dispatcher) Finish(err *chat.Error) {
	d.mu.Lock()
	if d.terminated {
		d.mu.Unlock()
		return
	}
	d.terminated = true
	d.mu.Unlock()

	if err == nil {
		err = chat.NewError(chat.ErrUpstreamError, "stream ended before a completion event")
	}
	d.logger.Debug("synthetic terminal", zap.String("code", string(err.Code)))
	if d.callbacks.OnError != nil {
		d.callbacks.OnError(err)
	}
}

// Terminated reports whether the terminal callback has fired.
func (d *Dispatcher) Terminated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terminated
}
