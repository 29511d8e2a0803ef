package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the only protocol version spoken.
const Version = "2.0"

// Message is an outgoing envelope. Exactly one of the two shapes is used:
// {method, params} for requests, {result} for replies.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// IsReply reports whether the message answers a child-initiated request.
func (m *Message) IsReply() bool {
	return m.Result != nil
}

// NewRequest builds a request envelope with a numeric id.
func NewRequest(id int64, method string, params any) *Message {
	return &Message{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  params,
	}
}

// NewReply builds a reply envelope. A nil result is sent as JSON null.
func NewReply(id json.RawMessage, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// EncodeID converts a caller-supplied id (number or string) into its wire form.
func EncodeID(id any) (json.RawMessage, error) {
	switch v := id.(type) {
	case json.RawMessage:
		return v, nil
	case int:
		return json.RawMessage(strconv.Itoa(v)), nil
	case int64:
		return json.RawMessage(strconv.FormatInt(v, 10)), nil
	case string:
		return json.Marshal(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding id: %w", err)
		}
		return raw, nil
	}
}

// Response is an incoming reply to one of our requests.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Incoming is a child-initiated request or notification.
type Incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the child expects no reply.
func (in *Incoming) IsNotification() bool {
	return len(in.ID) == 0
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
