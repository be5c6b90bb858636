// Package chat is the protocol-adaptation core of the llmchat gateway.
//
// It normalizes four heterogeneous upstream chat wire protocols (FastGPT,
// Dify, OpenAI, DashScope) into one internal envelope, routes each request to
// the adapter selected by the agent's vendor kind, guards every upstream call
// with a per-agent circuit breaker, and relays blocking and streaming replies
// back to the caller.
//
// The package deliberately knows nothing about the inbound transport: the
// controller layer owns HTTP/SSE termination and maps it onto SendChat and
// SendChatStream. Agent profiles are read-only input supplied by an external
// configuration service (see package agents for the file-backed stand-in).
package chat
