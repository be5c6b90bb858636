// Package fastgpt adapts the unified chat envelope to the FastGPT wire
// protocol. FastGPT speaks an OpenAI-flavored request shape extended with
// chatId/variables/detail, and its streaming mode pushes the richest event
// vocabulary of the four vendors: answer deltas, workflow node status,
// tool-call lifecycle, dataset citations, interactive prompts and execution
// traces all arrive as named SSE events.
package fastgpt

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wilson323/llmchat-sub012/chat"
	"github.com/wilson323/llmchat-sub012/providers"
)

const defaultModel = "gpt-4o-mini"

// Adapter implements chat.Adapter for FastGPT.
type Adapter struct{}

// New creates the FastGPT adapter. Adapters are stateless; one instance
// serves all agents of this vendor.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Vendor() chat.VendorKind { return chat.VendorFastGPT }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	ChatID    string            `json:"chatId,omitempty"`
	Stream    bool              `json:"stream"`
	Detail    bool              `json:"detail,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Messages  []wireMessage     `json:"messages"`
	Model     string            `json:"model,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content          string `json:"content"`
		ReasoningContent string `json:"reasoning_content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type wireResponse struct {
	ID           string          `json:"id"`
	Code         int             `json:"code"`
	StatusText   string          `json:"statusText"`
	Message      string          `json:"message"`
	Choices      []wireChoice    `json:"choices"`
	Usage        *wireUsage      `json:"usage"`
	ResponseData json.RawMessage `json:"responseData"`
	NewVariables json.RawMessage `json:"newVariables"`
}

// TransformRequest builds the FastGPT payload. The conversation reference
// maps to chatId, input variables to variables, and detail mode to the
// execution-trace flag, each gated on the agent's feature flags.
func (a *Adapter) TransformRequest(req *chat.ChatRequest, profile *chat.AgentProfile) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	out := wireRequest{
		ChatID: req.ConversationID,
		Stream: req.Stream && profile.Features.SupportsStream,
		Model:  providers.ChooseModel(profile, defaultModel),
	}
	if profile.Features.SupportsDetail {
		out.Detail = req.Detail
	}
	if profile.Features.SupportsVariables {
		out.Variables = req.Variables
	}
	out.Messages = make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return json.Marshal(out)
}

// TransformResponse normalizes a blocking FastGPT reply. FastGPT wraps
// application failures in a 2xx body with a non-200 code field.
func (a *Adapter) TransformResponse(body []byte, profile *chat.AgentProfile) (*chat.ChatResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, chat.NewError(chat.ErrUpstreamError, "malformed fastgpt response body").
			WithVendor(string(chat.VendorFastGPT)).WithCause(err)
	}
	if wire.Code != 0 && wire.Code != 200 {
		msg := wire.Message
		if msg == "" {
			msg = wire.StatusText
		}
		return nil, chat.NewError(chat.ErrVendorApp, msg).
			WithVendor(string(chat.VendorFastGPT))
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
	if len(wire.ResponseData) > 0 {
		meta["responseData"] = wire.ResponseData
	}
	if len(wire.NewVariables) > 0 {
		meta["newVariables"] = wire.NewVariables
	}
	if len(meta) > 0 {
		resp.Metadata = meta
	}
	return resp, nil
}

// ParseFrame parses one SSE frame. FastGPT names its events on the event
// line; answer deltas occasionally arrive with a bare data line, which
// defaults to the answer event. The [DONE] sentinel closes the stream.
func (a *Adapter) ParseFrame(frame string) (*chat.ProviderEvent, bool) {
	sse, ok := providers.ParseSSEFrame(frame)
	if !ok {
		return nil, false
	}
	if strings.TrimSpace(sse.Data) == "[DONE]" {
		return &chat.ProviderEvent{Name: eventEnd}, true
	}
	name := sse.Event
	if name == "" {
		name = eventAnswer
	}
	return &chat.ProviderEvent{Name: name, Data: json.RawMessage(sse.Data)}, true
}

// FastGPT stream event vocabulary.
const (
	eventAnswer           = "answer"
	eventFastAnswer       = "fastAnswer"
	eventFlowNodeStatus   = "flowNodeStatus"
	eventModuleStatus     = "moduleStatus"
	eventFlowResponses    = "flowResponses"
	eventWorkflowDuration = "workflowDuration"
	eventUpdateVariables  = "updateVariables"
	eventThinking         = "thinking"
	eventReasoning        = "reasoning"
	eventToolCall         = "toolCall"
	eventToolParams       = "toolParams"
	eventToolResponse     = "toolResponse"
	eventQuote            = "quote"
	eventDatasetQuote     = "datasetQuote"
	eventInteractive      = "interactive"
	eventUsage            = "usage"
	eventError            = "error"
	eventEnd              = "end"
	eventAnswerEnd        = "answer_end"
)

// Classify maps a FastGPT event to the normalized kind. The table is
// deterministic; names outside it fall through to the generic status kind so
// nothing the vendor sends is lost.
func (a *Adapter) Classify(ev *chat.ProviderEvent) chat.StreamEvent {
	out := chat.StreamEvent{RawEvent: ev.Name, Payload: ev.Data}
	switch ev.Name {
	case eventAnswer, eventFastAnswer:
		out.Kind = chat.EventChunk
		out.Text = answerDelta(ev.Data)
	case eventFlowNodeStatus, eventModuleStatus, eventFlowResponses,
		eventWorkflowDuration, eventUpdateVariables, eventUsage:
		out.Kind = chat.EventStatus
	case eventThinking, eventReasoning:
		out.Kind = chat.EventReasoning
		out.Text = answerDelta(ev.Data)
	case eventToolCall, eventToolParams, eventToolResponse:
		out.Kind = chat.EventToolCall
	case eventQuote, eventDatasetQuote:
		out.Kind = chat.EventDatasetReference
	case eventInteractive:
		out.Kind = chat.EventInteractivePrompt
	case eventError:
		out.Kind = chat.EventError
		out.Err = streamError(ev.Data)
	case eventEnd, eventAnswerEnd:
		out.Kind = chat.EventComplete
	default:
		out.Kind = chat.EventStatus
	}
	return out
}

// BuildAuthHeaders authenticates with the agent's bearer key.
func (a *Adapter) BuildAuthHeaders(profile *chat.AgentProfile) http.Header {
	return providers.BearerHeaders(profile.APIKey)
}

// answerDelta extracts the text delta from an answer payload, which reuses
// the OpenAI chunk shape. Plain-string payloads pass through untouched.
func answerDelta(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var chunk struct {
		Choices []wireChoice `json:"choices"`
	}
	if err := json.Unmarshal(data, &chunk); err == nil && len(chunk.Choices) > 0 {
		if c := chunk.Choices[0]; c.Delta.Content != "" {
			return c.Delta.Content
		} else if c.Delta.ReasoningContent != "" {
			return c.Delta.ReasoningContent
		}
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return text
	}
	return ""
}

func streamError(data json.RawMessage) *chat.Error {
	var wire struct {
		Message    string `json:"message"`
		StatusText string `json:"statusText"`
	}
	msg := "fastgpt stream error"
	if err := json.Unmarshal(data, &wire); err == nil {
		if wire.Message != "" {
			msg = wire.Message
		} else if wire.StatusText != "" {
			msg = wire.StatusText
		}
	}
	return chat.NewError(chat.ErrVendorApp, msg).WithVendor(string(chat.VendorFastGPT))
}
