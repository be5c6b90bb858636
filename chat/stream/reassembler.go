// Package stream contains the vendor-agnostic pieces of the streaming relay:
// the frame reassembler that turns arbitrarily chunked bytes into complete
// protocol frames, and the event dispatcher that enforces the
// single-terminal-event contract towards the caller.
package stream

import (
	"strings"
)

// frameBoundary is the double-separator convention every supported vendor
// uses to delimit server-push frames. CRLF variants are normalized before
// scanning.
const frameBoundary = "\n\n"

// Reassembler converts an arbitrarily chunked byte stream into a sequence of
// complete frames. One Reassembler serves exactly one streaming call; it is
// not safe for concurrent use and is discarded when the call ends.
//
// Frames may span several chunks (the buffer persists across Feed calls) and
// several frames may arrive in one chunk (Feed loops until no boundary
// remains). The produced frame sequence is independent of how the stream was
// split into chunks.
type Reassembler struct {
	// rest holds the unconsumed remainder between Feed calls.
	rest string
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends a chunk and returns every complete frame now available, in
// order. Empty and whitespace-only frames are filtered out.
func (r *Reassembler) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	// Normalize after concatenation so a CRLF split across two chunks is
	// still collapsed.
	data := normalize(r.rest + string(chunk))

	var frames []string
	for {
		idx := strings.Index(data, frameBoundary)
		if idx < 0 {
			break
		}
		frame := data[:idx]
		data = data[idx+len(frameBoundary):]
		if strings.TrimSpace(frame) == "" {
			continue
		}
		frames = append(frames, frame)
	}
	r.rest = data
	return frames
}

// Flush returns the unconsumed remainder as a final frame, if any. A
// truncated trailing frame that parses to nothing carries no information, so
// callers best-effort parse the result and drop it silently on failure.
func (r *Reassembler) Flush() (string, bool) {
	frame := r.rest
	r.rest = ""
	if strings.TrimSpace(frame) == "" {
		return "", false
	}
	return frame, true
}

// Pending reports whether unconsumed bytes remain in the buffer.
func (r *Reassembler) Pending() bool {
	return strings.TrimSpace(r.rest) != ""
}

func normalize(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
