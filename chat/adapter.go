package chat

import "net/http"

// Adapter translates between the unified envelope and one vendor's wire
// format, in both directions, for blocking and streaming modes. Four
// implementations exist, one per VendorKind; see the providers tree.
//
// Adapters are stateless and safe for concurrent use. No vendor-specific
// concept may leak through this interface: anything a vendor emits that has
// no unified representation travels in metadata bags or EventStatus payloads.
type Adapter interface {
	// Vendor returns the protocol family this adapter speaks.
	Vendor() VendorKind

	// TransformRequest builds the vendor JSON payload for req. It fails
	// with an INVALID_REQUEST error when the request has no user-role
	// message. Optional fields the vendor (per profile.Features) does not
	// support are dropped silently.
	TransformRequest(req *ChatRequest, profile *AgentProfile) ([]byte, error)

	// TransformResponse normalizes a blocking vendor reply body. Usage
	// counters absent from the reply are zero-filled; vendor extras are
	// preserved in the response metadata bag. A 2xx body that encodes a
	// vendor failure returns a VENDOR_APP_ERROR.
	TransformResponse(body []byte, profile *AgentProfile) (*ChatResponse, error)

	// ParseFrame parses one complete frame of the vendor's push protocol.
	// It is tolerant: malformed or non-event frames yield (nil, false)
	// rather than an error, and the caller decides whether to log.
	ParseFrame(frame string) (*ProviderEvent, bool)

	// Classify maps a parsed vendor event to a normalized StreamEvent via
	// a deterministic per-vendor table. Unrecognized vendor event names
	// map to EventStatus with the payload attached, never dropped.
	Classify(ev *ProviderEvent) StreamEvent

	// BuildAuthHeaders returns the headers that authenticate requests for
	// this agent.
	BuildAuthHeaders(profile *AgentProfile) http.Header
}
