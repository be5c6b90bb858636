package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wilson323/llmchat-sub012/chat"
	"github.com/wilson323/llmchat-sub012/chat/circuitbreaker"
)

func newGateway(t *testing.T, cfg Config) *Gateway {
	t.Helper()
	return New(cfg, zap.NewNop())
}

func openaiProfile(endpoint string) *chat.AgentProfile {
	return &chat.AgentProfile{
		ID:       "agent-x",
		Vendor:   chat.VendorOpenAI,
		Endpoint: endpoint,
		APIKey:   "sk-test",
		Model:    "gpt-4o",
		Features: chat.AgentFeatures{SupportsStream: true},
	}
}

func fastgptProfile(endpoint string) *chat.AgentProfile {
	return &chat.AgentProfile{
		ID:       "agent-fg",
		Vendor:   chat.VendorFastGPT,
		Endpoint: endpoint,
		APIKey:   "fg-key",
		Features: chat.AgentFeatures{SupportsStream: true, SupportsDetail: true},
	}
}

// streamRecorder collects callbacks and closes done on the terminal.
type streamRecorder struct {
	mu        sync.Mutex
	chunks    []string
	events    []chat.StreamEvent
	completes int
	errs      []*chat.Error
	done      chan struct{}
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{done: make(chan struct{})}
}

func (r *streamRecorder) callbacks() chat.StreamCallbacks {
	return chat.StreamCallbacks{
		OnChunk: func(text string) {
			r.mu.Lock()
			r.chunks = append(r.chunks, text)
			r.mu.Unlock()
		},
		OnEvent: func(kind chat.EventKind, ev chat.StreamEvent) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		},
		OnComplete: func(ev chat.StreamEvent) {
			r.mu.Lock()
			r.completes++
			r.mu.Unlock()
			close(r.done)
		},
		OnError: func(err *chat.Error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			close(r.done)
		},
	}
}

func (r *streamRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal callback")
	}
}

func (r *streamRecorder) terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes + len(r.errs)
}

const blockingReply = `{
	"id": "chatcmpl-1",
	"choices": [{"message": {"role": "assistant", "content": "pong"}}],
	"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
}`

func TestSendChatHappyPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		fmt.Fprint(w, blockingReply)
	}))
	defer ts.Close()

	gw := newGateway(t, DefaultConfig())
	resp, err := gw.SendChat(context.Background(), openaiProfile(ts.URL),
		[]chat.ChatMessage{chat.NewUserMessage("ping")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content)
	assert.Equal(t, 2, resp.Usage.TotalTokens)
}

// A request with zero user-role messages is rejected pre-flight: no HTTP
// call may be recorded.
func TestSendChatValidationRejectsBeforeNetwork(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	gw := newGateway(t, DefaultConfig())
	_, err := gw.SendChat(context.Background(), openaiProfile(ts.URL),
		[]chat.ChatMessage{chat.NewSystemMessage("only system")}, nil)

	require.Error(t, err)
	assert.Equal(t, chat.ErrInvalidRequest, chat.CodeOf(err))
	assert.Equal(t, int64(0), calls.Load())
}

func TestSendChatUnknownVendor(t *testing.T) {
	gw := newGateway(t, DefaultConfig())
	profile := openaiProfile("http://127.0.0.1:0")
	profile.Vendor = chat.VendorKind("smoke-signal")

	_, err := gw.SendChat(context.Background(), profile,
		[]chat.ChatMessage{chat.NewUserMessage("hi")}, nil)
	require.Error(t, err)
	assert.Equal(t, chat.ErrInvalidRequest, chat.CodeOf(err))
}

// Five consecutive transport failures open the circuit; the sixth call fails
// fast without touching the network.
func TestSendChatCircuitOpensAfterThreshold(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	gw := newGateway(t, Config{
		CallTimeout: time.Second,
		Breaker:     &circuitbreaker.Config{FailureThreshold: 5, Cooldown: time.Minute, SuccessThreshold: 2},
	})
	profile := openaiProfile(ts.URL)
	msgs := []chat.ChatMessage{chat.NewUserMessage("hi")}

	for i := 0; i < 5; i++ {
		_, err := gw.SendChat(context.Background(), profile, msgs, nil)
		require.Error(t, err)
		assert.Equal(t, chat.ErrUpstreamError, chat.CodeOf(err), "call %d", i+1)
	}

	_, err := gw.SendChat(context.Background(), profile, msgs, nil)
	require.Error(t, err)
	assert.Equal(t, chat.ErrCircuitOpen, chat.CodeOf(err))
	assert.Equal(t, int64(5), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, gw.BreakerStates()["agent-x"])
}

// After the cooldown the next call is admitted (half-open); two consecutive
// successes close the circuit again.
func TestSendChatCircuitRecovery(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, blockingReply)
	}))
	defer ts.Close()

	gw := newGateway(t, Config{
		CallTimeout: time.Second,
		Breaker:     &circuitbreaker.Config{FailureThreshold: 1, Cooldown: 50 * time.Millisecond, SuccessThreshold: 2},
	})
	profile := openaiProfile(ts.URL)
	msgs := []chat.ChatMessage{chat.NewUserMessage("hi")}

	_, err := gw.SendChat(context.Background(), profile, msgs, nil)
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, gw.BreakerStates()["agent-x"])

	fail.Store(false)
	time.Sleep(60 * time.Millisecond)

	_, err = gw.SendChat(context.Background(), profile, msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateHalfOpen, gw.BreakerStates()["agent-x"])

	_, err = gw.SendChat(context.Background(), profile, msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, gw.BreakerStates()["agent-x"])
}

// A 2xx body carrying a vendor application error surfaces to the caller but
// counts as transport success for the breaker.
func TestSendChatVendorErrorDoesNotTripBreaker(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer ts.Close()

	gw := newGateway(t, Config{
		CallTimeout: time.Second,
		Breaker:     &circuitbreaker.Config{FailureThreshold: 2, Cooldown: time.Minute, SuccessThreshold: 2},
	})
	profile := openaiProfile(ts.URL)
	msgs := []chat.ChatMessage{chat.NewUserMessage("hi")}

	for i := 0; i < 4; i++ {
		_, err := gw.SendChat(context.Background(), profile, msgs, nil)
		require.Error(t, err)
		assert.Equal(t, chat.ErrVendorApp, chat.CodeOf(err))
	}
	assert.Equal(t, circuitbreaker.StateClosed, gw.BreakerStates()["agent-x"])
}

// Per-call timeout expiry counts as a circuit-breaker failure.
func TestSendChatTimeoutCountsAsBreakerFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	gw := newGateway(t, Config{
		CallTimeout: 50 * time.Millisecond,
		Breaker:     &circuitbreaker.Config{FailureThreshold: 1, Cooldown: time.Minute, SuccessThreshold: 2},
	})
	_, err := gw.SendChat(context.Background(), openaiProfile(ts.URL),
		[]chat.ChatMessage{chat.NewUserMessage("slow")}, nil)

	require.Error(t, err)
	assert.Equal(t, chat.ErrUpstreamTimeout, chat.CodeOf(err))
	assert.Equal(t, circuitbreaker.StateOpen, gw.BreakerStates()["agent-x"])
}

func sseHandler(frames []string, hold time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
			if hold > 0 {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(hold):
				}
			}
		}
	}
}

func TestSendChatStreamHappyPath(t *testing.T) {
	ts := httptest.NewServer(sseHandler([]string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"hello \"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n",
		"data: [DONE]\n\n",
	}, 0))
	defer ts.Close()

	gw := newGateway(t, DefaultConfig())
	rec := newStreamRecorder()
	cancel, err := gw.SendChatStream(context.Background(), openaiProfile(ts.URL),
		[]chat.ChatMessage{chat.NewUserMessage("hi")}, nil, rec.callbacks())
	require.NoError(t, err)
	defer cancel()

	rec.wait(t)
	assert.Equal(t, []string{"hello ", "world"}, rec.chunks)
	assert.Equal(t, 1, rec.completes)
	assert.Equal(t, 1, rec.terminals())
	assert.Equal(t, circuitbreaker.StateClosed, gw.BreakerStates()["agent-x"])
}

// An unrecognized vendor event classifies to the generic status kind with
// the raw name retained; it must neither throw nor disappear.
func TestSendChatStreamUnknownEventPassthrough(t *testing.T) {
	ts := httptest.NewServer(sseHandler([]string{
		"event: bizarreFutureEvent\ndata: {\"x\":1}\n\n",
		"event: answer\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n",
		"event: end\ndata: {}\n\n",
	}, 0))
	defer ts.Close()

	gw := newGateway(t, DefaultConfig())
	rec := newStreamRecorder()
	cancel, err := gw.SendChatStream(context.Background(), fastgptProfile(ts.URL),
		[]chat.ChatMessage{chat.NewUserMessage("hi")}, nil, rec.callbacks())
	require.NoError(t, err)
	defer cancel()

	rec.wait(t)
	require.Len(t, rec.events, 1)
	assert.Equal(t, chat.EventStatus, rec.events[0].Kind)
	assert.Equal(t, "bizarreFutureEvent", rec.events[0].RawEvent)
	assert.Equal(t, []string{"ok"}, rec.chunks)
	assert.Equal(t, 1, rec.completes)
}

// A transport drop before the vendor completion marker produces exactly one
// synthetic terminal error.
func TestSendChatStreamTruncatedProducesSyntheticError(t *testing.T) {
	ts := httptest.NewServer(sseHandler([]string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n",
	}, 0))
	defer ts.Close()

	gw := newGateway(t, Config{
		CallTimeout: time.Second,
		Breaker:     &circuitbreaker.Config{FailureThreshold: 1, Cooldown: time.Minute, SuccessThreshold: 2},
	})
	rec := newStreamRecorder()
	cancel, err := gw.SendChatStream(context.Background(), openaiProfile(ts.URL),
		[]chat.ChatMessage{chat.NewUserMessage("hi")}, nil, rec.callbacks())
	require.NoError(t, err)
	defer cancel()

	rec.wait(t)
	assert.Equal(t, []string{"partial"}, rec.chunks)
	require.Len(t, rec.errs, 1)
	assert.Equal(t, chat.ErrUpstreamError, rec.errs[0].Code)
	assert.Equal(t, 1, rec.terminals())
	// Truncation counts against the breaker.
	assert.Equal(t, circuitbreaker.StateOpen, gw.BreakerStates()["agent-x"])
}

// Caller-initiated cancellation mid-stream yields exactly one terminal,
// tagged CANCELED, and no chunk callbacks afterwards.
func TestSendChatStreamCancellation(t *testing.T) {
	ts := httptest.NewServer(sseHandler([]string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"never\"}}]}\n\n",
		"data: [DONE]\n\n",
	}, time.Second))
	defer ts.Close()

	gw := newGateway(t, DefaultConfig())
	rec := newStreamRecorder()

	firstChunk := make(chan struct{})
	cbs := rec.callbacks()
	baseOnChunk := cbs.OnChunk
	var once sync.Once
	cbs.OnChunk = func(text string) {
		baseOnChunk(text)
		once.Do(func() { close(firstChunk) })
	}

	cancel, err := gw.SendChatStream(context.Background(), openaiProfile(ts.URL),
		[]chat.ChatMessage{chat.NewUserMessage("hi")}, nil, cbs)
	require.NoError(t, err)

	select {
	case <-firstChunk:
	case <-time.After(5 * time.Second):
		t.Fatal("first chunk never arrived")
	}
	cancel()

	rec.wait(t)
	require.Len(t, rec.errs, 1)
	assert.Equal(t, chat.ErrCanceled, rec.errs[0].Code)
	assert.Equal(t, 1, rec.terminals())
	assert.Equal(t, []string{"first"}, rec.chunks)
	// Cancellation says nothing about upstream health.
	assert.Equal(t, circuitbreaker.StateClosed, gw.BreakerStates()["agent-x"])
}

// An open breaker rejects streaming calls synchronously: no callbacks fire.
func TestSendChatStreamCircuitOpenRejectsSynchronously(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	gw := newGateway(t, Config{
		CallTimeout: time.Second,
		Breaker:     &circuitbreaker.Config{FailureThreshold: 1, Cooldown: time.Minute, SuccessThreshold: 2},
	})
	profile := openaiProfile(ts.URL)
	msgs := []chat.ChatMessage{chat.NewUserMessage("hi")}

	rec := newStreamRecorder()
	cancel, err := gw.SendChatStream(context.Background(), profile, msgs, nil, rec.callbacks())
	require.NoError(t, err)
	defer cancel()
	rec.wait(t)
	require.Len(t, rec.errs, 1)

	rec2 := newStreamRecorder()
	_, err = gw.SendChatStream(context.Background(), profile, msgs, nil, rec2.callbacks())
	require.Error(t, err)
	assert.Equal(t, chat.ErrCircuitOpen, chat.CodeOf(err))
	assert.Equal(t, 0, rec2.terminals())
}

// Agents without stream support are served by a blocking call replayed as
// one chunk plus the completion event.
func TestSendChatStreamBlockingFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, blockingReply)
	}))
	defer ts.Close()

	gw := newGateway(t, DefaultConfig())
	profile := openaiProfile(ts.URL)
	profile.Features.SupportsStream = false

	rec := newStreamRecorder()
	cancel, err := gw.SendChatStream(context.Background(), profile,
		[]chat.ChatMessage{chat.NewUserMessage("hi")}, nil, rec.callbacks())
	require.NoError(t, err)
	defer cancel()

	rec.wait(t)
	assert.Equal(t, []string{"pong"}, rec.chunks)
	assert.Equal(t, 1, rec.completes)
}
