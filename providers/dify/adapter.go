// Package dify adapts the unified chat envelope to the Dify wire protocol.
// Dify differs structurally from the chat-completion family: requests carry a
// single query string plus inputs instead of a message list, conversation
// identity travels as conversation_id, and streaming frames are data-only SSE
// with the event name embedded in the JSON payload.
package dify

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wilson323/llmchat-sub012/chat"
	"github.com/wilson323/llmchat-sub012/providers"
)

// Adapter implements chat.Adapter for Dify.
type Adapter struct{}

// New creates the Dify adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Vendor() chat.VendorKind { return chat.VendorDify }

type wireFile struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	URL            string `json:"url"`
}

type wireRequest struct {
	Query          string            `json:"query"`
	Inputs         map[string]string `json:"inputs"`
	ConversationID string            `json:"conversation_id,omitempty"`
	User           string            `json:"user"`
	ResponseMode   string            `json:"response_mode"`
	Files          []wireFile        `json:"files,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireMetadata struct {
	Usage              *wireUsage      `json:"usage"`
	RetrieverResources json.RawMessage `json:"retriever_resources"`
}

type wireResponse struct {
	MessageID      string       `json:"message_id"`
	ConversationID string       `json:"conversation_id"`
	Answer         string       `json:"answer"`
	Metadata       wireMetadata `json:"metadata"`
	// Application failures inside a 2xx body.
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// defaultUser is sent when the caller supplies no end-user id; Dify rejects
// requests without one.
const defaultUser = "llmchat-gateway"

// TransformRequest builds the Dify payload. Dify is single-turn on the wire:
// only the latest user message travels as query, history lives server-side
// under conversation_id. Variables map to inputs and attachments to files,
// each gated on the agent's feature flags.
func (a *Adapter) TransformRequest(req *chat.ChatRequest, profile *chat.AgentProfile) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	mode := "blocking"
	if req.Stream && profile.Features.SupportsStream {
		mode = "streaming"
	}
	user := req.User
	if user == "" {
		user = defaultUser
	}
	out := wireRequest{
		Query:          req.LastUserContent(),
		Inputs:         map[string]string{},
		ConversationID: req.ConversationID,
		User:           user,
		ResponseMode:   mode,
	}
	if profile.Features.SupportsVariables && req.Variables != nil {
		out.Inputs = req.Variables
	}
	if profile.Features.SupportsFiles {
		for _, f := range req.Files {
			out.Files = append(out.Files, wireFile{
				Type:           f.Type,
				TransferMethod: "remote_url",
				URL:            f.URL,
			})
		}
	}
	return json.Marshal(out)
}

// TransformResponse normalizes a blocking Dify reply, lifting usage out of
// the metadata envelope and passing retriever resources through untouched.
func (a *Adapter) TransformResponse(body []byte, profile *chat.AgentProfile) (*chat.ChatResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, chat.NewError(chat.ErrUpstreamError, "malformed dify response body").
			WithVendor(string(chat.VendorDify)).WithCause(err)
	}
	if wire.Code != "" || (wire.Status != 0 && wire.Status != 200) {
		msg := wire.Message
		if msg == "" {
			msg = "dify application error " + wire.Code
		}
		return nil, chat.NewError(chat.ErrVendorApp, msg).
			WithVendor(string(chat.VendorDify))
	}

	resp := &chat.ChatResponse{
		Content:        wire.Answer,
		ConversationID: wire.ConversationID,
	}
	if wire.Metadata.Usage != nil {
		resp.Usage = chat.ChatUsage{
			PromptTokens:     wire.Metadata.Usage.PromptTokens,
			CompletionTokens: wire.Metadata.Usage.CompletionTokens,
			TotalTokens:      wire.Metadata.Usage.TotalTokens,
		}
	}
	meta := map[string]json.RawMessage{}
	if wire.MessageID != "" {
		meta["message_id"] = providers.RawMeta(wire.MessageID)
	}
	if len(wire.Metadata.RetrieverResources) > 0 {
		meta["retriever_resources"] = wire.Metadata.RetrieverResources
	}
	if len(meta) > 0 {
		resp.Metadata = meta
	}
	return resp, nil
}

// ParseFrame parses one data-only SSE frame. The vendor event name lives in
// the JSON payload's event field.
func (a *Adapter) ParseFrame(frame string) (*chat.ProviderEvent, bool) {
	sse, ok := providers.ParseSSEFrame(frame)
	if !ok || strings.TrimSpace(sse.Data) == "" {
		return nil, false
	}
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal([]byte(sse.Data), &probe); err != nil {
		return nil, false
	}
	name := probe.Event
	if name == "" {
		name = sse.Event
	}
	if name == "" {
		return nil, false
	}
	return &chat.ProviderEvent{Name: name, Data: json.RawMessage(sse.Data)}, true
}

// Dify stream event vocabulary.
const (
	eventMessage      = "message"
	eventAgentMessage = "agent_message"
	eventAgentThought = "agent_thought"
	eventMessageEnd   = "message_end"
	eventMessageFile  = "message_file"
	eventError        = "error"
	eventPing         = "ping"
)

// Classify maps a Dify event to the normalized kind. Heartbeat pings become
// status events; workflow events Dify adds over time fall through to status
// as well.
func (a *Adapter) Classify(ev *chat.ProviderEvent) chat.StreamEvent {
	out := chat.StreamEvent{RawEvent: ev.Name, Payload: ev.Data}
	switch ev.Name {
	case eventMessage, eventAgentMessage:
		out.Kind = chat.EventChunk
		out.Text = answerOf(ev.Data)
	case eventAgentThought:
		out.Kind = chat.EventReasoning
		out.Text = thoughtOf(ev.Data)
	case eventMessageEnd:
		out.Kind = chat.EventComplete
		out.Usage = usageOf(ev.Data)
	case eventMessageFile:
		out.Kind = chat.EventStatus
	case eventError:
		out.Kind = chat.EventError
		out.Err = streamError(ev.Data)
	case eventPing:
		out.Kind = chat.EventStatus
	default:
		out.Kind = chat.EventStatus
	}
	return out
}

// BuildAuthHeaders authenticates with the app's bearer key.
func (a *Adapter) BuildAuthHeaders(profile *chat.AgentProfile) http.Header {
	return providers.BearerHeaders(profile.APIKey)
}

func answerOf(data json.RawMessage) string {
	var wire struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return ""
	}
	return wire.Answer
}

func thoughtOf(data json.RawMessage) string {
	var wire struct {
		Thought string `json:"thought"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return ""
	}
	return wire.Thought
}

func usageOf(data json.RawMessage) *chat.ChatUsage {
	var wire struct {
		Metadata wireMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wire); err != nil || wire.Metadata.Usage == nil {
		return nil
	}
	return &chat.ChatUsage{
		PromptTokens:     wire.Metadata.Usage.PromptTokens,
		CompletionTokens: wire.Metadata.Usage.CompletionTokens,
		TotalTokens:      wire.Metadata.Usage.TotalTokens,
	}
}

func streamError(data json.RawMessage) *chat.Error {
	var wire struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	msg := "dify stream error"
	if err := json.Unmarshal(data, &wire); err == nil && wire.Message != "" {
		msg = wire.Message
	}
	return chat.NewError(chat.ErrVendorApp, msg).WithVendor(string(chat.VendorDify))
}
