package providers

import "strings"

// SSEFrame is the line-level decomposition of one server-sent-events frame:
// the optional event name and the concatenated data payload.
type SSEFrame struct {
	Event string
	Data  string
}

// ParseSSEFrame splits one complete frame into its event and data fields.
// Multiple data lines are joined with newlines per the SSE spec. Comment
// lines (leading colon) and unknown fields are skipped. Returns false when
// the frame carries no data at all.
func ParseSSEFrame(frame string) (SSEFrame, bool) {
	var out SSEFrame
	var dataLines []string
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			out.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if len(dataLines) == 0 && out.Event == "" {
		return out, false
	}
	out.Data = strings.Join(dataLines, "\n")
	return out, true
}
