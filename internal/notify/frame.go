package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Stream event names.
const (
	EventReminder  = "reminder"
	EventHeartbeat = "heartbeat"
	EventError     = "error"
)

// Frame is one server-sent event.
type Frame struct {
	ID    uint64
	Event string
	Data  json.RawMessage
}

// WriteTo writes f in text/event-stream framing.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(strconv.FormatUint(f.ID, 10))
	buf.WriteString("\nevent: ")
	buf.WriteString(f.Event)
	buf.WriteString("\ndata: ")
	if len(f.Data) == 0 {
		buf.WriteString("{}")
	} else {
		buf.Write(f.Data)
	}
	buf.WriteString("\n\n")
	return buf.WriteTo(w)
}

// gapNotice is the payload of the error frame sent when a reconnecting
// client may have missed events.
type gapNotice struct {
	Type           string `json:"type"`
	LastEventID    string `json:"last_event_id"`
	CurrentEventID uint64 `json:"current_event_id"`
	Message        string `json:"message"`
}

func newGapNotice(lastEventID string, current uint64) gapNotice {
	return gapNotice{
		Type:           "events_missed",
		LastEventID:    lastEventID,
		CurrentEventID: current,
		Message:        fmt.Sprintf("events after %s were not delivered and are not replayed", lastEventID),
	}
}

type heartbeat struct {
	Type string `json:"type"`
}
