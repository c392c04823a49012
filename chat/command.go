package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound events.
const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventLeaveRoom   = "leave_room"
	EventListRooms   = "list_rooms"
)

// Outbound events.
const (
	EventReceiveMessage = "receive_message"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventRoomList       = "room_list"
	EventError          = "error"
)

const systemAuthor = "System"

// Frame is the envelope every event travels in, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoom struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// Message is a chat line. It is never stored: it is built, delivered and dropped.
type Message struct {
	Room    string `json:"room"`
	Author  string `json:"author"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// UserEvent announces a participant joining or leaving. Author and Message
// carry the rendered system line so clients need no templating.
type UserEvent struct {
	Username string `json:"username"`
	Author   string `json:"author"`
	Message  string `json:"message"`
	Time     string `json:"time"`
}

type RoomSummary struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

type RoomList struct {
	Rooms []RoomSummary `json:"rooms"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Command is a decoded and schema-checked inbound event.
type Command struct {
	Event   string
	Join    JoinRoom
	Message Message
}

// ParseCommand decodes one inbound frame. Errors wrap ErrMalformedFrame,
// ErrUnknownEvent or are a *ValidationError.
func ParseCommand(raw []byte) (Command, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	cmd := Command{Event: f.Event}
	switch f.Event {
	case EventJoinRoom:
		if err := decodeData(f, &cmd.Join); err != nil {
			return Command{}, err
		}
		if err := cmd.Join.validate(); err != nil {
			return Command{}, err
		}
	case EventSendMessage:
		if err := decodeData(f, &cmd.Message); err != nil {
			return Command{}, err
		}
		if err := cmd.Message.validate(); err != nil {
			return Command{}, err
		}
	case EventLeaveRoom, EventListRooms:
	case "":
		return Command{}, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	return cmd, nil
}

func decodeData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return &ValidationError{Event: f.Event, Reason: "data is required"}
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return &ValidationError{Event: f.Event, Reason: "data does not match the event schema"}
	}
	return nil
}

func (j JoinRoom) validate() error {
	if isBlank(j.Room) {
		return &ValidationError{Event: EventJoinRoom, Field: "room", Reason: "is required"}
	}
	if isBlank(j.Username) {
		return &ValidationError{Event: EventJoinRoom, Field: "username", Reason: "is required"}
	}
	return nil
}

// validate checks the addressing fields. An empty body is not an error:
// such messages are dropped without a reply.
func (m Message) validate() error {
	if isBlank(m.Room) {
		return &ValidationError{Event: EventSendMessage, Field: "room", Reason: "is required"}
	}
	if isBlank(m.Author) {
		return &ValidationError{Event: EventSendMessage, Field: "author", Reason: "is required"}
	}
	return nil
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

func joinedEvent(username string) UserEvent {
	return UserEvent{
		Username: username,
		Author:   systemAuthor,
		Message:  username + " joined the chat",
	}
}

func leftEvent(username string) UserEvent {
	return UserEvent{
		Username: username,
		Author:   systemAuthor,
		Message:  username + " left the chat",
	}
}
