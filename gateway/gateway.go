// Package gateway orchestrates the chat core: it selects the provider
// adapter for an agent's vendor kind, guards every upstream call with the
// agent's circuit breaker, and relays blocking and streaming replies to the
// caller. The inbound transport is not its concern; controllers map HTTP/SSE
// onto SendChat and SendChatStream.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wilson323/llmchat-sub012/chat"
	"github.com/wilson323/llmchat-sub012/chat/circuitbreaker"
	"github.com/wilson323/llmchat-sub012/chat/stream"
	"github.com/wilson323/llmchat-sub012/providers"
	"github.com/wilson323/llmchat-sub012/providers/dashscope"
	"github.com/wilson323/llmchat-sub012/providers/dify"
	"github.com/wilson323/llmchat-sub012/providers/fastgpt"
	"github.com/wilson323/llmchat-sub012/providers/openai"
)

// Config controls per-call behavior shared by all agents.
type Config struct {
	// CallTimeout bounds every upstream call, blocking or streaming,
	// independent of any vendor-declared timeout. Expiry counts as a
	// circuit-breaker failure.
	CallTimeout time.Duration

	// Breaker configures the per-agent circuit breakers.
	Breaker *circuitbreaker.Config
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 120 * time.Second,
		Breaker:     circuitbreaker.DefaultConfig(),
	}
}

// Observer receives gateway telemetry. Implementations must be safe for
// concurrent use; a nil Observer disables reporting.
type Observer interface {
	ObserveCall(agentID string, vendor chat.VendorKind, outcome string, duration time.Duration)
	ObserveStreamEvent(vendor chat.VendorKind, kind chat.EventKind)
	ObserveBreakerTransition(agentID string, from, to circuitbreaker.State)
}

// Gateway is safe for concurrent use. Each call owns its reassembler and
// dispatcher; the only cross-call state is the per-agent breaker group.
type Gateway struct {
	cfg      Config
	registry *chat.AdapterRegistry
	breakers *circuitbreaker.Group
	client   *http.Client
	logger   *zap.Logger
	observer Observer
}

// Option customizes Gateway construction.
type Option func(*Gateway)

// WithHTTPClient replaces the outbound HTTP client (tests, custom proxies).
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) { g.client = client }
}

// WithObserver attaches a telemetry observer.
func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

// New creates a Gateway with all four vendor adapters registered.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Gateway {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := chat.NewAdapterRegistry()
	registry.Register(fastgpt.New())
	registry.Register(dify.New())
	registry.Register(openai.New())
	registry.Register(dashscope.New())

	g := &Gateway{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With(zap.String("component", "gateway")),
		// Timeouts are enforced per call through contexts, not on the
		// client, so streams are not cut by a client-wide deadline.
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}

	breakerCfg := cfg.Breaker
	if breakerCfg == nil {
		breakerCfg = circuitbreaker.DefaultConfig()
	}
	if breakerCfg.OnStateChange == nil && g.observer != nil {
		obs := g.observer
		breakerCfg.OnStateChange = func(agentID string, from, to circuitbreaker.State) {
			obs.ObserveBreakerTransition(agentID, from, to)
		}
	}
	g.breakers = circuitbreaker.NewGroup(breakerCfg, logger)
	return g
}

// BreakerStates exposes the current per-agent breaker states for inspection.
func (g *Gateway) BreakerStates() map[string]circuitbreaker.State {
	return g.breakers.States()
}

// SendChat performs a blocking chat call.
//
// Validation failures reject before any network attempt and never touch the
// breaker. An open breaker rejects immediately with a CIRCUIT_OPEN error. A
// 2xx reply that encodes a vendor application error is surfaced to the
// caller but recorded as transport success.
func (g *Gateway) SendChat(ctx context.Context, profile *chat.AgentProfile, messages []chat.ChatMessage, opts *chat.ChatOptions) (*chat.ChatResponse, error) {
	callID := uuid.NewString()
	start := time.Now()
	logger := g.logger.With(
		zap.String("call_id", callID),
		zap.String("agent_id", profile.ID),
		zap.String("vendor", string(profile.Vendor)),
	)

	adapter, payload, err := g.prepare(profile, messages, false, opts)
	if err != nil {
		g.observe(profile, "rejected", start)
		return nil, err
	}

	breaker := g.breakers.Get(profile.ID)
	if err := breaker.Allow(); err != nil {
		g.observe(profile, "circuit_open", start)
		return nil, chat.NewError(chat.ErrCircuitOpen, "circuit open for agent "+profile.ID).
			WithVendor(string(profile.Vendor)).WithCause(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	resp, err := g.post(callCtx, adapter, profile, payload)
	if err != nil {
		outcome := g.recordTransport(breaker, err)
		g.observe(profile, outcome, start)
		logger.Warn("upstream call failed", zap.Error(err))
		return nil, asChatError(err, profile.Vendor)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		breaker.RecordFailure()
		g.observe(profile, "transport_error", start)
		return nil, chat.NewError(chat.ErrUpstreamError, "reading upstream response").
			WithVendor(string(profile.Vendor)).WithCause(readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		breaker.RecordFailure()
		g.observe(profile, "upstream_error", start)
		logger.Warn("upstream returned non-2xx", zap.Int("status", resp.StatusCode))
		return nil, upstreamStatusError(resp.StatusCode, body, profile.Vendor)
	}

	// Transport succeeded. Vendor application errors inside the 2xx body
	// do not count against the breaker.
	breaker.RecordSuccess()

	normalized, err := adapter.TransformResponse(body, profile)
	if err != nil {
		g.observe(profile, "vendor_app_error", start)
		return nil, err
	}
	g.observe(profile, "ok", start)
	logger.Debug("chat call completed", zap.Duration("duration", time.Since(start)))
	return normalized, nil
}

// SendChatStream performs a streaming chat call, delivering normalized
// events through callbacks. On a nil error return, exactly one terminal
// callback (OnComplete or OnError) fires, even when the transport drops
// before a vendor completion marker. The returned cancel function aborts the
// outbound call; the terminal then carries the CANCELED code, distinguishing
// caller aborts from upstream failures.
//
// On a non-nil error return (validation failure, open breaker, unknown
// vendor), no callback fires.
//
// Agents without streaming support are served by a blocking call whose reply
// is replayed as a single chunk followed by the completion event.
func (g *Gateway) SendChatStream(ctx context.Context, profile *chat.AgentProfile, messages []chat.ChatMessage, opts *chat.ChatOptions, callbacks chat.StreamCallbacks) (context.CancelFunc, error) {
	callID := uuid.NewString()
	start := time.Now()
	logger := g.logger.With(
		zap.String("call_id", callID),
		zap.String("agent_id", profile.ID),
		zap.String("vendor", string(profile.Vendor)),
	)

	if !profile.Features.SupportsStream {
		return g.fallbackBlockingStream(ctx, profile, messages, opts, callbacks)
	}

	adapter, payload, err := g.prepare(profile, messages, true, opts)
	if err != nil {
		g.observe(profile, "rejected", start)
		return nil, err
	}

	breaker := g.breakers.Get(profile.ID)
	if err := breaker.Allow(); err != nil {
		g.observe(profile, "circuit_open", start)
		return nil, chat.NewError(chat.ErrCircuitOpen, "circuit open for agent "+profile.ID).
			WithVendor(string(profile.Vendor)).WithCause(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)

	dispatcher := stream.NewDispatcher(callbacks, logger)
	go g.relay(callCtx, relayCall{
		adapter:    adapter,
		profile:    profile,
		payload:    payload,
		breaker:    breaker,
		dispatcher: dispatcher,
		logger:     logger,
		start:      start,
	})
	return cancel, nil
}

// relayCall carries the per-call state of one streaming relay.
type relayCall struct {
	adapter    chat.Adapter
	profile    *chat.AgentProfile
	payload    []byte
	breaker    *circuitbreaker.Breaker
	dispatcher *stream.Dispatcher
	logger     *zap.Logger
	start      time.Time
}

// relay owns the upstream connection for one streaming call: it feeds raw
// chunks through the reassembler, classifies completed frames via the
// adapter, and hands normalized events to the dispatcher. It always finishes
// the dispatcher exactly once.
func (g *Gateway) relay(ctx context.Context, call relayCall) {
	resp, err := g.post(ctx, call.adapter, call.profile, call.payload)
	if err != nil {
		outcome := g.recordTransport(call.breaker, err)
		g.observe(call.profile, outcome, call.start)
		call.dispatcher.Finish(asChatError(err, call.profile.Vendor))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		call.breaker.RecordFailure()
		g.observe(call.profile, "upstream_error", call.start)
		call.dispatcher.Finish(upstreamStatusError(resp.StatusCode, body, call.profile.Vendor))
		return
	}

	reassembler := stream.NewReassembler()
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range reassembler.Feed(buf[:n]) {
				g.relayFrame(call, frame)
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			// Flush and best-effort parse a truncated trailing frame;
			// unparsable remainders carry no information and are
			// dropped silently.
			if frame, ok := reassembler.Flush(); ok {
				g.relayFrame(call, frame)
			}
			if call.dispatcher.Terminated() {
				call.breaker.RecordSuccess()
				g.observe(call.profile, "ok", call.start)
			} else {
				// Dropped before a vendor completion marker.
				call.breaker.RecordFailure()
				g.observe(call.profile, "truncated", call.start)
				call.dispatcher.Finish(nil)
			}
			return
		}

		// Mid-stream transport failure, timeout or caller abort.
		outcome := g.recordTransport(call.breaker, readErr)
		g.observe(call.profile, outcome, call.start)
		call.dispatcher.Finish(asChatError(readErr, call.profile.Vendor))
		return
	}
}

func (g *Gateway) relayFrame(call relayCall, frame string) {
	ev, ok := call.adapter.ParseFrame(frame)
	if !ok {
		// A single malformed frame must not abort an otherwise healthy
		// session.
		call.logger.Debug("unparsable frame dropped",
			zap.String("code", string(chat.ErrStreamParse)),
			zap.Int("frame_len", len(frame)),
		)
		return
	}
	normalized := call.adapter.Classify(ev)
	if g.observer != nil {
		g.observer.ObserveStreamEvent(call.profile.Vendor, normalized.Kind)
	}
	call.dispatcher.Dispatch(normalized)
}

// fallbackBlockingStream serves a stream-shaped call over a blocking
// upstream call for agents without stream support.
func (g *Gateway) fallbackBlockingStream(ctx context.Context, profile *chat.AgentProfile, messages []chat.ChatMessage, opts *chat.ChatOptions, callbacks chat.StreamCallbacks) (context.CancelFunc, error) {
	// Pre-flight validation stays synchronous, matching the native path.
	req := chat.BuildRequest(messages, false, opts)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithCancel(ctx)
	dispatcher := stream.NewDispatcher(callbacks, g.logger)
	go func() {
		resp, err := g.SendChat(callCtx, profile, messages, opts)
		if err != nil {
			dispatcher.Finish(asChatError(err, profile.Vendor))
			return
		}
		if resp.Content != "" {
			dispatcher.Dispatch(chat.StreamEvent{Kind: chat.EventChunk, Text: resp.Content})
		}
		dispatcher.Dispatch(chat.StreamEvent{
			Kind:  chat.EventComplete,
			Usage: &resp.Usage,
		})
	}()
	return cancel, nil
}

// prepare resolves the adapter and builds the vendor payload. All failures
// here happen before any network activity.
func (g *Gateway) prepare(profile *chat.AgentProfile, messages []chat.ChatMessage, streamFlag bool, opts *chat.ChatOptions) (chat.Adapter, []byte, error) {
	adapter, ok := g.registry.Get(profile.Vendor)
	if !ok {
		return nil, nil, chat.NewError(chat.ErrInvalidRequest, "no adapter for vendor "+string(profile.Vendor))
	}
	req := chat.BuildRequest(messages, streamFlag, opts)
	payload, err := adapter.TransformRequest(req, profile)
	if err != nil {
		return nil, nil, err
	}
	return adapter, payload, nil
}

func (g *Gateway) post(ctx context.Context, adapter chat.Adapter, profile *chat.AgentProfile, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, profile.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, chat.NewError(chat.ErrInvalidRequest, "building upstream request").
			WithVendor(string(profile.Vendor)).WithCause(err)
	}
	httpReq.Header = adapter.BuildAuthHeaders(profile)
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	return g.client.Do(httpReq)
}

// recordTransport classifies a transport-layer error for the breaker:
// timeouts and network failures count against it, caller cancellation does
// not. Returns the metrics outcome label.
func (g *Gateway) recordTransport(breaker *circuitbreaker.Breaker, err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		// Cancellation says nothing about upstream health.
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		breaker.RecordFailure()
		return "timeout"
	default:
		breaker.RecordFailure()
		return "transport_error"
	}
}

func (g *Gateway) observe(profile *chat.AgentProfile, outcome string, start time.Time) {
	if g.observer != nil {
		g.observer.ObserveCall(profile.ID, profile.Vendor, outcome, time.Since(start))
	}
}

// asChatError converts any transport error into the structured form, mapping
// context outcomes onto the CANCELED and UPSTREAM_TIMEOUT codes.
func asChatError(err error, vendor chat.VendorKind) *chat.Error {
	var ce *chat.Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.Canceled):
		return chat.NewError(chat.ErrCanceled, "call canceled by caller").
			WithVendor(string(vendor)).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return chat.NewError(chat.ErrUpstreamTimeout, "per-call timeout exceeded").
			WithVendor(string(vendor)).WithRetryable(true).WithCause(err)
	default:
		return chat.NewError(chat.ErrUpstreamError, err.Error()).
			WithVendor(string(vendor)).WithRetryable(true).WithCause(err)
	}
}

func upstreamStatusError(status int, body []byte, vendor chat.VendorKind) *chat.Error {
	msg := "upstream returned status " + http.StatusText(status)
	if len(body) > 0 {
		if m := vendorErrorMessage(body); m != "" {
			msg = m
		}
	}
	return providers.MapHTTPError(status, msg, vendor)
}

// vendorErrorMessage digs the human-readable message out of the common error
// body shapes without caring which vendor produced them.
func vendorErrorMessage(body []byte) string {
	var probe struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	if probe.Error.Message != "" {
		return probe.Error.Message
	}
	return probe.Message
}
