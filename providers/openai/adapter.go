// Package openai adapts the unified chat envelope to the standard
// chat-completion wire format: a choices array in blocking mode, delta chunks
// plus a [DONE] sentinel in streaming mode. Conversation identity and input
// variables have no wire representation here and are dropped silently.
package openai

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wilson323/llmchat-sub012/chat"
	"github.com/wilson323/llmchat-sub012/providers"
)

const defaultModel = "gpt-4o-mini"

// Adapter implements chat.Adapter for OpenAI-compatible endpoints.
type Adapter struct{}

// New creates the OpenAI adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Vendor() chat.VendorKind { return chat.VendorOpenAI }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	User     string        `json:"user,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireDelta struct {
	Content          string          `json:"content"`
	ReasoningContent string          `json:"reasoning_content"`
	ToolCalls        json.RawMessage `json:"tool_calls"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      wireMessage `json:"message"`
	Delta        *wireDelta  `json:"delta"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage"`
	Error   *wireError   `json:"error"`
}

// TransformRequest builds the chat-completion payload.
func (a *Adapter) TransformRequest(req *chat.ChatRequest, profile *chat.AgentProfile) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	out := wireRequest{
		Model:  providers.ChooseModel(profile, defaultModel),
		Stream: req.Stream && profile.Features.SupportsStream,
		User:   req.User,
	}
	out.Messages = make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return json.Marshal(out)
}

// TransformResponse normalizes a blocking chat-completion reply. A 2xx body
// carrying an error object is a vendor application error.
func (a *Adapter) TransformResponse(body []byte, profile *chat.AgentProfile) (*chat.ChatResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, chat.NewError(chat.ErrUpstreamError, "malformed chat-completion response body").
			WithVendor(string(a.Vendor())).WithCause(err)
	}
	if wire.Error != nil {
		return nil, chat.NewError(chat.ErrVendorApp, wire.Error.Message).
			WithVendor(string(a.Vendor()))
	}

	resp := &chat.ChatResponse{}
	if len(wire.Choices) > 0 {
		resp.Content = wire.Choices[0].Message.Content
	}
	if wire.Usage != nil {
		resp.Usage = chat.ChatUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}
	meta := map[string]json.RawMessage{}
	if wire.ID != "" {
		meta["id"] = providers.RawMeta(wire.ID)
	}
	if wire.Model != "" {
		meta["model"] = providers.RawMeta(wire.Model)
	}
	if len(wire.Choices) > 0 && wire.Choices[0].FinishReason != "" {
		meta["finish_reason"] = providers.RawMeta(wire.Choices[0].FinishReason)
	}
	if len(meta) > 0 {
		resp.Metadata = meta
	}
	return resp, nil
}

// Stream event names synthesized from the data-only protocol.
const (
	eventChunk = "chunk"
	eventDone  = "done"
	eventError = "error"
)

// ParseFrame parses one data-only SSE frame. The protocol has no event
// names, so frames are synthesized into chunk/done/error by content.
func (a *Adapter) ParseFrame(frame string) (*chat.ProviderEvent, bool) {
	sse, ok := providers.ParseSSEFrame(frame)
	if !ok || strings.TrimSpace(sse.Data) == "" {
		return nil, false
	}
	data := strings.TrimSpace(sse.Data)
	if data == "[DONE]" {
		return &chat.ProviderEvent{Name: eventDone}, true
	}
	if !json.Valid([]byte(data)) {
		return nil, false
	}
	var probe struct {
		Error *wireError `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &probe); err == nil && probe.Error != nil {
		return &chat.ProviderEvent{Name: eventError, Data: json.RawMessage(data)}, true
	}
	return &chat.ProviderEvent{Name: eventChunk, Data: json.RawMessage(data)}, true
}

// Classify maps a synthesized event to the normalized kind. Delta tool calls
// classify as tool-call activity, reasoning deltas as reasoning, everything
// else in a chunk as answer text.
func (a *Adapter) Classify(ev *chat.ProviderEvent) chat.StreamEvent {
	out := chat.StreamEvent{RawEvent: ev.Name, Payload: ev.Data}
	switch ev.Name {
	case eventDone:
		out.Kind = chat.EventComplete
	case eventError:
		var wire wireResponse
		msg := "chat-completion stream error"
		if err := json.Unmarshal(ev.Data, &wire); err == nil && wire.Error != nil && wire.Error.Message != "" {
			msg = wire.Error.Message
		}
		out.Kind = chat.EventError
		out.Err = chat.NewError(chat.ErrVendorApp, msg).WithVendor(string(a.Vendor()))
	case eventChunk:
		var wire wireResponse
		if err := json.Unmarshal(ev.Data, &wire); err != nil || len(wire.Choices) == 0 {
			out.Kind = chat.EventStatus
			return out
		}
		choice := wire.Choices[0]
		switch {
		case choice.Delta != nil && len(choice.Delta.ToolCalls) > 0:
			out.Kind = chat.EventToolCall
		case choice.Delta != nil && choice.Delta.ReasoningContent != "":
			out.Kind = chat.EventReasoning
			out.Text = choice.Delta.ReasoningContent
		default:
			out.Kind = chat.EventChunk
			if choice.Delta != nil {
				out.Text = choice.Delta.Content
			}
		}
		if wire.Usage != nil {
			out.Usage = &chat.ChatUsage{
				PromptTokens:     wire.Usage.PromptTokens,
				CompletionTokens: wire.Usage.CompletionTokens,
				TotalTokens:      wire.Usage.TotalTokens,
			}
		}
	default:
		out.Kind = chat.EventStatus
	}
	return out
}

// BuildAuthHeaders authenticates with a bearer key.
func (a *Adapter) BuildAuthHeaders(profile *chat.AgentProfile) http.Header {
	return providers.BearerHeaders(profile.APIKey)
}
