package chat

import "encoding/json"

// EventKind is the normalized classification of one streaming frame.
type EventKind string

const (
	// EventChunk carries an incremental piece of answer text.
	EventChunk EventKind = "chunk"
	// EventStatus carries vendor lifecycle/progress metadata. It is also
	// the generic sink for vendor event names the adapter does not
	// recognize, so nothing is silently lost.
	EventStatus EventKind = "status"
	// EventReasoning carries model reasoning/thinking deltas.
	EventReasoning EventKind = "reasoning"
	// EventToolCall carries tool invocation activity.
	EventToolCall EventKind = "tool_call"
	// EventDatasetReference carries retrieved-document citations.
	EventDatasetReference EventKind = "dataset_reference"
	// EventInteractivePrompt carries a vendor request for user input
	// mid-flow (FastGPT interactive nodes).
	EventInteractivePrompt EventKind = "interactive_prompt"
	// EventError is terminal: the vendor reported a failure mid-stream.
	EventError EventKind = "error"
	// EventComplete is terminal: the reply finished normally.
	EventComplete EventKind = "complete"
)

// Terminal reports whether the kind ends the stream.
func (k EventKind) Terminal() bool {
	return k == EventComplete || k == EventError
}

// ProviderEvent is one parsed but not yet classified vendor frame: the raw
// vendor event name plus its payload. Adapters produce these from frame text
// and classify them into StreamEvents.
type ProviderEvent struct {
	Name string
	Data json.RawMessage
}

// StreamEvent is the normalized streaming event delivered to the dispatcher.
// RawEvent always retains the vendor's own event name for diagnostics, even
// when the kind is a recognized mapping.
type StreamEvent struct {
	Kind     EventKind       `json:"kind"`
	RawEvent string          `json:"raw_event,omitempty"`
	Text     string          `json:"text,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Usage    *ChatUsage      `json:"usage,omitempty"`
	Err      *Error          `json:"error,omitempty"`
}

// StreamCallbacks is the callback surface the controller hands to
// SendChatStream. The dispatcher guarantees exactly one of OnComplete or
// OnError fires per call, and nothing fires after it.
type StreamCallbacks struct {
	// OnChunk receives incremental answer text.
	OnChunk func(text string)
	// OnEvent receives non-terminal, non-chunk events (status, reasoning,
	// tool calls, dataset references, interactive prompts).
	OnEvent func(kind EventKind, ev StreamEvent)
	// OnComplete receives the terminal completion with any final usage
	// counters and pass-through metadata.
	OnComplete func(ev StreamEvent)
	// OnError receives the terminal failure, including the synthetic one
	// generated when the transport drops mid-stream and the CANCELED one
	// for caller-initiated aborts.
	OnError func(err *Error)
}
