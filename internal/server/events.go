package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/types"
)

// Event is one outbound frame. Its JSON form is the variant's fields plus a
// "type" discriminator.
type Event interface {
	Kind() string
}

type ConnectionEstablished struct {
	Message      string `json:"message"`
	ConnectionId string `json:"connection_id"`
	UserId       int    `json:"user_id,omitempty"`
}

type NewMessage struct {
	Message types.Message `json:"message"`
}

// MessageStatusUpdate is a read receipt. Single-message updates carry
// MessageId; bulk updates carry MessageIds.
type MessageStatusUpdate struct {
	MessageId  int   `json:"message_id,omitempty"`
	MessageIds []int `json:"message_ids,omitempty"`
	IsRead     bool  `json:"is_read"`
}

type NewNotification struct {
	Notification types.Notification `json:"notification"`
}

// ChatMessage is a stored message as seen by the members of a room.
type ChatMessage struct {
	Room        string    `json:"room"`
	MessageId   int       `json:"message_id"`
	SenderId    int       `json:"sender"`
	SenderName  string    `json:"sender_name"`
	RecipientId int       `json:"recipient"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

func chatMessageFor(room string, msg types.Message) ChatMessage {
	return ChatMessage{
		Room:        room,
		MessageId:   msg.Id,
		SenderId:    msg.SenderId,
		SenderName:  msg.SenderName,
		RecipientId: msg.RecipientId,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
	}
}

type Pong struct{}

type ErrorEvent struct {
	Message string              `json:"message"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

type Echo struct {
	Data json.RawMessage `json:"data"`
}

func (ConnectionEstablished) Kind() string { return "connection_established" }
func (NewMessage) Kind() string            { return "new_message" }
func (MessageStatusUpdate) Kind() string   { return "message_status_update" }
func (NewNotification) Kind() string       { return "new_notification" }
func (ChatMessage) Kind() string           { return "chat_message" }
func (Pong) Kind() string                  { return "pong" }
func (ErrorEvent) Kind() string            { return "error" }
func (Echo) Kind() string                  { return "echo" }

// Encode renders ev as a single JSON object with the type key first.
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encode %s: event is not an object", ev.Kind())
	}

	kind, err := json.Marshal(ev.Kind())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}

	frame := make([]byte, 0, len(body)+len(kind)+9)
	frame = append(frame, `{"type":`...)
	frame = append(frame, kind...)
	if len(body) > 2 {
		frame = append(frame, ',')
	}
	frame = append(frame, body[1:]...)

	return frame, nil
}

// ErrorFor turns a service error into the error event sent to a client.
// Errors outside the apperr taxonomy are not described to the client.
func ErrorFor(err error) ErrorEvent {
	for _, known := range []error{apperr.ErrValidation, apperr.ErrForbidden, apperr.ErrNotFound,
		apperr.ErrUnavailable, apperr.ErrProtocol} {
		if errors.Is(err, known) {
			return ErrorEvent{
				Message: err.Error(),
				Fields:  apperr.Fields(err),
			}
		}
	}
	return ErrorEvent{Message: "internal error"}
}

// Inbound frames.

type Inbound interface {
	inbound()
}

type PingFrame struct{}

type SendMessageFrame struct {
	Recipient int    `json:"recipient"`
	Content   string `json:"content"`
}

// MarkReadFrame marks the caller's unread messages. A nil MessageIds means
// all of them.
type MarkReadFrame struct {
	MessageIds *[]int `json:"message_ids"`
}

type ChatFrame struct {
	Recipient int    `json:"recipient"`
	Content   string `json:"content"`
}

func (PingFrame) inbound()        {}
func (SendMessageFrame) inbound() {}
func (MarkReadFrame) inbound()    {}
func (ChatFrame) inbound()        {}

// DecodeFrame parses one inbound frame. Malformed input and unknown types
// are reported as apperr.ErrProtocol.
func DecodeFrame(raw []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", apperr.ErrProtocol, err)
	}

	var (
		frame Inbound
		err   error
	)
	switch head.Type {
	case "ping":
		return PingFrame{}, nil
	case "new_message":
		var f SendMessageFrame
		err = json.Unmarshal(raw, &f)
		frame = f
	case "mark_read":
		var f MarkReadFrame
		err = json.Unmarshal(raw, &f)
		frame = f
	case "chat_message":
		var f ChatFrame
		err = json.Unmarshal(raw, &f)
		frame = f
	case "":
		return nil, fmt.Errorf("%w: missing frame type", apperr.ErrProtocol)
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", apperr.ErrProtocol, head.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s frame: %v", apperr.ErrProtocol, head.Type, err)
	}

	return frame, nil
}
