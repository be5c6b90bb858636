package chat

import (
	"encoding/json"
	"strings"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment references a file carried alongside a message. Only the
// reference travels through the gateway; the bytes live wherever the caller
// uploaded them.
type Attachment struct {
	Type string `json:"type"` // "image" or "document"
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// ChatMessage is one turn of a conversation. Instances are built by the
// caller per request and never mutated by the gateway.
type ChatMessage struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// NewUserMessage creates a user-role message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// NewSystemMessage creates a system-role message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// NewAssistantMessage creates an assistant-role message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// ChatRequest is the vendor-agnostic request envelope.
//
// ConversationID, Variables and Files are optional; each adapter maps them to
// its vendor's keys only when the agent's feature flags say the vendor
// supports them, and drops them silently otherwise so adapters stay
// interchangeable from the gateway's perspective.
type ChatRequest struct {
	Messages       []ChatMessage     `json:"messages"`
	Stream         bool              `json:"stream"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	Files          []Attachment      `json:"files,omitempty"`
	// Detail asks vendors that have one for their execution-trace /
	// worknode event stream (FastGPT "detail" mode).
	Detail bool `json:"detail,omitempty"`
	// User is an opaque end-user identifier some vendors require (Dify).
	User string `json:"user,omitempty"`
}

// Validate rejects requests that must never reach the network.
// A request without at least one non-empty user-role message is malformed.
func (r *ChatRequest) Validate() error {
	for _, m := range r.Messages {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			return nil
		}
	}
	return NewError(ErrInvalidRequest, "chat request must contain at least one user message")
}

// LastUserContent returns the content of the most recent user message.
// Single-query vendors (Dify) send only this turn upstream.
func (r *ChatRequest) LastUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// ChatUsage carries token accounting. Fields a vendor omits stay zero.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the normalized blocking reply.
type ChatResponse struct {
	Content        string    `json:"content"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Usage          ChatUsage `json:"usage"`
	// Metadata is an opaque pass-through bag for vendor extras such as
	// retrieved-document references. The gateway never interprets it.
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

// ChatOptions are per-call knobs owned by the caller.
type ChatOptions struct {
	ConversationID string
	Variables      map[string]string
	Files          []Attachment
	Detail         bool
	User           string
}

// BuildRequest assembles a ChatRequest from messages and options.
func BuildRequest(messages []ChatMessage, stream bool, opts *ChatOptions) *ChatRequest {
	req := &ChatRequest{Messages: messages, Stream: stream}
	if opts != nil {
		req.ConversationID = opts.ConversationID
		req.Variables = opts.Variables
		req.Files = opts.Files
		req.Detail = opts.Detail
		req.User = opts.User
	}
	return req
}
