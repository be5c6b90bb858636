// Package providers contains helpers shared by the vendor adapter packages.
// Each vendor family lives in its own subpackage and keeps its wire structs
// private; only the chat.Adapter surface is exported.
package providers

import (
	"encoding/json"
	"net/http"

	"github.com/wilson323/llmchat-sub012/chat"
)

// ChooseModel selects the model to send upstream: the profile's configured
// model wins, falling back to the vendor default.
func ChooseModel(profile *chat.AgentProfile, defaultModel string) string {
	if profile != nil && profile.Model != "" {
		return profile.Model
	}
	return defaultModel
}

// MapHTTPError converts a non-2xx upstream status into a transport error for
// the gateway. Non-2xx always counts against the circuit breaker, so every
// status maps to UPSTREAM_ERROR; Retryable only hints at caller policy.
func MapHTTPError(status int, msg string, vendor chat.VendorKind) *chat.Error {
	retryable := status == http.StatusTooManyRequests || status >= 500
	return chat.NewError(chat.ErrUpstreamError, msg).
		WithHTTPStatus(status).
		WithVendor(string(vendor)).
		WithRetryable(retryable)
}

// BearerHeaders builds the common Authorization/Content-Type header pair.
func BearerHeaders(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("Content-Type", "application/json")
	return h
}

// RawMeta marshals a value for a response metadata bag, returning nil when
// the value cannot be represented.
func RawMeta(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
