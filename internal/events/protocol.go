package events

import (
	"github.com/Stemt/hexcaster/internal/supervisor"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgEvent    MessageType = "event"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload is sent once to every new client. Last is nil until the
// supervisor has emitted its first event.
type SnapshotPayload struct {
	Last *supervisor.Event `json:"last"`
}

type EventPayload struct {
	Event supervisor.Event `json:"event"`
}
