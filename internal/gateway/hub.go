// Package gateway ties authentication, presence, rooms, and the message
// store together behind the websocket event protocol.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/gigdesk/gigdesk/internal/apperr"
	"github.com/gigdesk/gigdesk/internal/broker"
	"github.com/gigdesk/gigdesk/internal/metrics"
	"github.com/gigdesk/gigdesk/internal/model"
	"github.com/gigdesk/gigdesk/internal/presence"
	"github.com/gigdesk/gigdesk/internal/rooms"
	"github.com/gigdesk/gigdesk/internal/store"
)

type sanitizer interface {
	Sanitize(s string) string
	SanitizeBytes(p []byte) []byte
}

// Registration is the handshake between an accepted connection and the hub
// loop; Done closes once presence is recorded.
type Registration struct {
	Client *Client
	Done   chan struct{}
}

// Event is one inbound protocol event from a connection.
type Event struct {
	Client   *Client
	Envelope model.Inbound
}

// ProjectChecker optionally validates that both parties share the project
// before a message is accepted. Nil disables the check.
type ProjectChecker func(ctx context.Context, senderID, receiverID uuid.UUID, projectID *uuid.UUID) error

// Hub owns all connection state. A single Run loop consumes registrations,
// unregistrations, and events, so presence and room mutations are serialized;
// store calls are the only blocking work inside a handler.
type Hub struct {
	messages  store.MessageStore
	users     store.UserStore
	presence  *presence.Registry
	rooms     *rooms.Router
	publisher *broker.Publisher
	sanitizer sanitizer

	Register   chan Registration
	Unregister chan *Client
	Events     chan Event

	// ProjectCheck gates send_message on a shared project context when set.
	ProjectCheck ProjectChecker
}

// NewHub returns a new instance of Hub. The publisher may be nil when no
// broker is configured.
func NewHub(messages store.MessageStore, users store.UserStore, registry *presence.Registry, router *rooms.Router, publisher *broker.Publisher) *Hub {
	return &Hub{
		messages:   messages,
		users:      users,
		presence:   registry,
		rooms:      router,
		publisher:  publisher,
		sanitizer:  bluemonday.StrictPolicy(),
		Register:   make(chan Registration),
		Unregister: make(chan *Client),
		Events:     make(chan Event, 1024),
	}
}

// Run manages incoming and outgoing hub traffic until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case reg := <-h.Register:
			h.register(reg)

		case client := <-h.Unregister:
			h.unregister(client)

		case ev := <-h.Events:
			h.dispatch(ctx, ev.Client, ev.Envelope)

		case <-ctx.Done():
			log.Printf("context cancelled: %v", ctx.Err())
			return
		}
	}
}

func (h *Hub) register(reg Registration) {
	c := reg.Client
	cameOnline := h.presence.Register(c.identity.ID, c)
	metrics.WSConnections.Inc()
	if cameOnline {
		h.broadcastOnline()
	}
	close(reg.Done)
}

func (h *Hub) unregister(c *Client) {
	h.rooms.LeaveAll(c)
	wentOffline := h.presence.Unregister(c.identity.ID, c)
	metrics.WSConnections.Dec()
	c.closed = true
	close(c.sendCh)
	if wentOffline {
		h.broadcastOnline()
	}
}

// broadcastOnline pushes the full online set to every connection on any
// presence transition.
func (h *Hub) broadcastOnline() {
	h.presence.Broadcast(model.Outbound{
		Event: model.EventOnlineUsers,
		Data:  model.OnlineUsersPayload{OnlineUserIDs: h.presence.OnlineIdentities()},
	})
}

func (h *Hub) dispatch(ctx context.Context, c *Client, env model.Inbound) {
	// The select loop may process an unregister before events the same
	// connection queued earlier. Its send channel is closed and its rooms
	// are gone, so those events must not be handled.
	if c.closed {
		return
	}

	metrics.WSEventsTotal.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case model.EventJoinRoom:
		h.handleJoin(c, env.Data, true)
	case model.EventLeaveRoom:
		h.handleJoin(c, env.Data, false)
	case model.EventSendMessage:
		h.handleSend(ctx, c, env.Data)
	case model.EventMarkSeen:
		h.handleMarkSeen(ctx, c, env.Data)
	case model.EventEditMessage:
		h.handleEdit(ctx, c, env.Data)
	case model.EventDeleteMessage:
		h.handleDelete(ctx, c, env.Data)
	case model.EventTypingStart:
		h.handleTyping(c, env.Data, true)
	case model.EventTypingStop:
		h.handleTyping(c, env.Data, false)
	default:
		h.sendError(c, apperr.New(apperr.Validation, "unknown event: "+env.Event))
	}
}

// sendError converts a failure into an error event on the originating
// connection only. No failure propagates to the other party or tears down a
// connection.
func (h *Hub) sendError(c *Client, err error) {
	kind := apperr.KindOf(err)
	metrics.WSErrorsTotal.WithLabelValues(kind.String()).Inc()
	slog.Warn("event failed",
		"error", err,
		"kind", kind.String(),
		"user_id", c.identity.ID.String())

	c.Deliver(model.Outbound{
		Event: model.EventError,
		Data:  model.ErrorPayload{Code: kind.String(), Message: apperr.UserMessage(err)},
	})
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage, join bool) {
	var p model.JoinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ReceiverID == uuid.Nil {
		h.sendError(c, apperr.New(apperr.Validation, "receiverId is required"))
		return
	}

	roomID := rooms.RoomID(c.identity.ID, p.ReceiverID, p.ProjectID)
	if join {
		h.rooms.Join(roomID, c)
	} else {
		h.rooms.Leave(roomID, c)
	}
}

func (h *Hub) handleSend(ctx context.Context, c *Client, data json.RawMessage) {
	var p model.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ReceiverID == uuid.Nil {
		h.sendError(c, apperr.New(apperr.Validation, "receiverId and message are required"))
		return
	}

	if c.messageLim != nil && !c.messageLim.Allow() {
		h.sendError(c, apperr.New(apperr.Validation, "sending too fast, slow down"))
		return
	}

	body := strings.TrimSpace(h.sanitizer.Sanitize(p.Body))
	if body == "" {
		h.sendError(c, apperr.New(apperr.Validation, "receiverId and message are required"))
		return
	}

	receiver, err := h.users.FindIdentity(ctx, p.ReceiverID)
	if err != nil {
		h.sendError(c, err)
		return
	}
	if receiver == nil {
		h.sendError(c, apperr.New(apperr.NotFound, "receiver not found"))
		return
	}

	if h.ProjectCheck != nil {
		if err := h.ProjectCheck(ctx, c.identity.ID, p.ReceiverID, p.ProjectID); err != nil {
			h.sendError(c, err)
			return
		}
	}

	msg, err := h.messages.Create(ctx, c.identity.ID, p.ReceiverID, body, p.ProjectID)
	if err != nil {
		// Not retried here; resending creates a new independent message.
		h.sendError(c, err)
		return
	}

	metrics.MessagesSent.Inc()

	if err := h.publisher.MessageCreated(ctx, msg); err != nil {
		slog.Warn("failed to publish message event",
			"error", err,
			"message_id", msg.ID.String())
	}

	// Delivery goes to every live connection of both parties, never through
	// room membership. A participant who has not joined the room still
	// receives the message on all their devices.
	h.deliverToParticipants(msg.SenderID, msg.ReceiverID, model.Outbound{
		Event: model.EventNewMessage,
		Data:  msg,
	})
}

func (h *Hub) handleMarkSeen(ctx context.Context, c *Client, data json.RawMessage) {
	var p model.MarkSeenPayload
	if err := json.Unmarshal(data, &p); err != nil || p.OtherPartyID == uuid.Nil {
		h.sendError(c, apperr.New(apperr.Validation, "otherPartyId is required"))
		return
	}

	ids, err := h.messages.MarkAllSeen(ctx, c.identity.ID, p.OtherPartyID, p.ProjectID)
	if err != nil {
		h.sendError(c, err)
		return
	}
	if len(ids) == 0 {
		return
	}

	// Notify the original sender on all their devices that the viewer has
	// seen these messages.
	h.deliverTo(p.OtherPartyID, model.Outbound{
		Event: model.EventMessagesSeen,
		Data: model.MessagesSeenPayload{
			By:         c.identity.ID,
			MessageIDs: ids,
			SeenAt:     time.Now().UTC(),
		},
	})
}

func (h *Hub) handleEdit(ctx context.Context, c *Client, data json.RawMessage) {
	var p model.EditMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == uuid.Nil {
		h.sendError(c, apperr.New(apperr.Validation, "messageId and message are required"))
		return
	}

	msg, err := h.messages.FindByID(ctx, p.MessageID)
	if err != nil {
		h.sendError(c, err)
		return
	}
	if msg == nil {
		h.sendError(c, apperr.New(apperr.NotFound, "message not found"))
		return
	}
	if msg.SenderID != c.identity.ID {
		h.sendError(c, apperr.New(apperr.Forbidden, "only the sender can edit a message"))
		return
	}

	body := strings.TrimSpace(h.sanitizer.Sanitize(p.Body))
	if body == "" {
		h.sendError(c, apperr.New(apperr.Validation, "messageId and message are required"))
		return
	}

	updated, err := h.messages.UpdateBody(ctx, p.MessageID, body)
	if err != nil {
		h.sendError(c, err)
		return
	}
	if updated == nil {
		// Deleted between the ownership check and the update.
		h.sendError(c, apperr.New(apperr.NotFound, "message not found"))
		return
	}

	h.deliverToParticipants(updated.SenderID, updated.ReceiverID, model.Outbound{
		Event: model.EventEditMsg,
		Data: model.EditMsgPayload{
			MessageID: updated.ID,
			Body:      updated.Body,
			Sender:    updated.SenderID,
			Receiver:  updated.ReceiverID,
		},
	})
}

func (h *Hub) handleDelete(ctx context.Context, c *Client, data json.RawMessage) {
	var p model.DeleteMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == uuid.Nil {
		h.sendError(c, apperr.New(apperr.Validation, "messageId is required"))
		return
	}

	msg, err := h.messages.FindByID(ctx, p.MessageID)
	if err != nil {
		h.sendError(c, err)
		return
	}
	if msg == nil {
		h.sendError(c, apperr.New(apperr.NotFound, "message not found"))
		return
	}
	// Either party may delete, unlike edit.
	if !msg.Involves(c.identity.ID) {
		h.sendError(c, apperr.New(apperr.Forbidden, "only a participant can delete a message"))
		return
	}

	deleted, err := h.messages.Delete(ctx, p.MessageID)
	if err != nil {
		h.sendError(c, err)
		return
	}
	if !deleted {
		h.sendError(c, apperr.New(apperr.NotFound, "message not found"))
		return
	}

	// Recipients drop the message from any local view, stale copy or not.
	h.deliverToParticipants(msg.SenderID, msg.ReceiverID, model.Outbound{
		Event: model.EventDeleteMsg,
		Data:  model.DeleteMsgPayload{MessageID: msg.ID},
	})
}

// handleTyping is fire-and-forget: nothing persists, nothing errors, and an
// offline party simply misses the signal.
func (h *Hub) handleTyping(c *Client, data json.RawMessage, start bool) {
	var p model.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ReceiverID == uuid.Nil {
		return
	}

	if c.typingLim != nil && !c.typingLim.Allow() {
		return
	}

	event := model.EventUserTyping
	if !start {
		event = model.EventUserTypingStop
	}

	// Only the other party sees the indicator, never the sender's own
	// devices.
	h.deliverTo(p.ReceiverID, model.Outbound{
		Event: event,
		Data:  model.UserTypingPayload{UserID: c.identity.ID},
	})
}

func (h *Hub) deliverTo(identityID uuid.UUID, ev model.Outbound) {
	for _, conn := range h.presence.Connections(identityID) {
		conn.Deliver(ev)
	}
}

func (h *Hub) deliverToParticipants(senderID, receiverID uuid.UUID, ev model.Outbound) {
	h.deliverTo(senderID, ev)
	if receiverID != senderID {
		h.deliverTo(receiverID, ev)
	}
}
