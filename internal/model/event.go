package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Client -> server event names. Unknown names are rejected at the boundary.
const (
	EventJoinRoom      = "join_room"
	EventLeaveRoom     = "leave_room"
	EventSendMessage   = "send_message"
	EventMarkSeen      = "mark_seen"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
)

// Server -> client event names.
const (
	EventNewMessage     = "new_message"
	EventMessagesSeen   = "messages_seen"
	EventEditMsg        = "edit_msg"
	EventDeleteMsg      = "delete_msg"
	EventUserTyping     = "user_typing"
	EventUserTypingStop = "user_typing_stop"
	EventOnlineUsers    = "get_online_user"
	EventError          = "error"
)

// Inbound is the tagged envelope read off the websocket. The payload is left
// raw so each handler can decode it against its own schema.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Outbound is the envelope written to the websocket.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type JoinRoomPayload struct {
	ReceiverID uuid.UUID  `json:"receiverId"`
	ProjectID  *uuid.UUID `json:"projectId,omitempty"`
}

type SendMessagePayload struct {
	ReceiverID uuid.UUID  `json:"receiverId"`
	Body       string     `json:"message"`
	ProjectID  *uuid.UUID `json:"projectId,omitempty"`
}

// MarkSeenPayload carries optional explicit message ids. The store marks
// every unread message from the other party regardless; the ids are accepted
// for wire compatibility with older clients.
type MarkSeenPayload struct {
	OtherPartyID uuid.UUID   `json:"otherPartyId"`
	ProjectID    *uuid.UUID  `json:"projectId,omitempty"`
	MessageIDs   []uuid.UUID `json:"messageIds,omitempty"`
}

type EditMessagePayload struct {
	MessageID uuid.UUID `json:"messageId"`
	Body      string    `json:"message"`
}

type DeleteMessagePayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

type TypingPayload struct {
	ReceiverID uuid.UUID  `json:"receiverId"`
	ProjectID  *uuid.UUID `json:"projectId,omitempty"`
}

type MessagesSeenPayload struct {
	By         uuid.UUID   `json:"by"`
	MessageIDs []uuid.UUID `json:"messageIds"`
	SeenAt     time.Time   `json:"seenAt"`
}

type EditMsgPayload struct {
	MessageID uuid.UUID `json:"messageId"`
	Body      string    `json:"message"`
	Sender    uuid.UUID `json:"sender"`
	Receiver  uuid.UUID `json:"receiver"`
}

type DeleteMsgPayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

type UserTypingPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type OnlineUsersPayload struct {
	OnlineUserIDs []uuid.UUID `json:"onlineUserIds"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
