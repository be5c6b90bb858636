// Package dashscope adapts the unified chat envelope to Alibaba DashScope's
// OpenAI-compatible mode (the Qwen model family). The wire shape matches the
// standard chat-completion protocol; the differences are the workspace
// header, thinking-mode activation and Qwen model defaults, including
// reasoning_content deltas in the stream.
package dashscope

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wilson323/llmchat-sub012/chat"
	"github.com/wilson323/llmchat-sub012/providers"
	"github.com/wilson323/llmchat-sub012/providers/openai"
)

const defaultModel = "qwen-plus"

// Adapter implements chat.Adapter for DashScope. It embeds the OpenAI
// adapter for the shared chat-completion surface and overrides the points
// where DashScope diverges.
type Adapter struct {
	openai.Adapter
}

// New creates the DashScope adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Vendor() chat.VendorKind { return chat.VendorDashScope }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model          string        `json:"model"`
	Messages       []wireMessage `json:"messages"`
	Stream         bool          `json:"stream,omitempty"`
	User           string        `json:"user,omitempty"`
	EnableThinking bool          `json:"enable_thinking,omitempty"`
}

// TransformRequest builds the DashScope payload. Detail mode maps onto
// Qwen's thinking switch when the agent advertises trace support.
func (a *Adapter) TransformRequest(req *chat.ChatRequest, profile *chat.AgentProfile) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	out := wireRequest{
		Model:  providers.ChooseModel(profile, defaultModel),
		Stream: req.Stream && profile.Features.SupportsStream,
		User:   req.User,
	}
	if profile.Features.SupportsDetail {
		out.EnableThinking = req.Detail
	}
	out.Messages = make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return json.Marshal(out)
}

// BuildAuthHeaders authenticates with a bearer key and enables DashScope's
// SSE delivery mode.
func (a *Adapter) BuildAuthHeaders(profile *chat.AgentProfile) http.Header {
	h := providers.BearerHeaders(profile.APIKey)
	h.Set("X-DashScope-SSE", "enable")
	return h
}

// TransformResponse reuses the chat-completion normalization, re-stamping
// the vendor on errors so diagnostics attribute the failure correctly.
func (a *Adapter) TransformResponse(body []byte, profile *chat.AgentProfile) (*chat.ChatResponse, error) {
	resp, err := a.Adapter.TransformResponse(body, profile)
	if err != nil {
		var ce *chat.Error
		if errors.As(err, &ce) {
			ce.Vendor = string(chat.VendorDashScope)
		}
		return nil, err
	}
	return resp, nil
}

// Classify reuses the chat-completion tables but stamps this vendor on
// errors so diagnostics attribute the failure correctly.
func (a *Adapter) Classify(ev *chat.ProviderEvent) chat.StreamEvent {
	out := a.Adapter.Classify(ev)
	if out.Err != nil {
		out.Err.Vendor = string(chat.VendorDashScope)
	}
	return out
}
