package rpc

import "github.com/tidwall/gjson"

// Kind classifies one line of child output.
type Kind int

const (
	// KindNone is not a JSON-RPC message (plain log output).
	KindNone Kind = iota
	// KindResponse answers a request (has id, no method).
	KindResponse
	// KindRequest is child-initiated and expects a reply.
	KindRequest
	// KindNotification is child-initiated without an id.
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	default:
		return "none"
	}
}

// Classify inspects a line without fully decoding it. Most plugin output is
// plain text, so the cheap gjson probe runs first.
func Classify(line []byte) Kind {
	if len(line) == 0 || line[0] != '{' || !gjson.ValidBytes(line) {
		return KindNone
	}
	if gjson.GetBytes(line, "jsonrpc").String() != Version {
		return KindNone
	}

	hasID := gjson.GetBytes(line, "id").Exists()
	method := gjson.GetBytes(line, "method")
	switch {
	case method.Exists() && hasID:
		return KindRequest
	case method.Exists():
		return KindNotification
	case hasID && (gjson.GetBytes(line, "result").Exists() || gjson.GetBytes(line, "error").Exists()):
		return KindResponse
	default:
		return KindNone
	}
}

// idKey returns the correlation key for a raw id: its canonical JSON text.
func idKey(raw []byte) string {
	return gjson.ParseBytes(raw).Raw
}
