package bridge

import (
	"time"

	"github.com/google/uuid"
)

// Command actions.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// CommandMessage is received on a plugin's command topic.
type CommandMessage struct {
	// ID correlates acknowledgements. One is generated when empty.
	ID     string   `json:"id"`
	Action string   `json:"action"`
	App    string   `json:"app,omitempty"`
	Flags  []string `json:"flags,omitempty"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	AckAccepted  AckStatus = "accepted"
	AckCompleted AckStatus = "completed"
	AckFailed    AckStatus = "failed"
)

// AckMessage is published on a plugin's ack topic.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Plugin    string    `json:"plugin"`
	Action    string    `json:"action"`
	Status    AckStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMessage is the retained payload of a plugin's state topic.
type StateMessage struct {
	Plugin    string    `json:"plugin"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// EventMessage wraps any other plugin event.
type EventMessage struct {
	Plugin    string    `json:"plugin"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newCommandID() string {
	return "cmd-" + uuid.NewString()[:8]
}

func newAck(plugin string, cmd CommandMessage, status AckStatus, err error) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		Plugin:    plugin,
		Action:    cmd.Action,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		ack.Error = err.Error()
	}
	return ack
}
