package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigdesk/gigdesk/internal/apperr"
	"github.com/gigdesk/gigdesk/internal/model"
	"github.com/gigdesk/gigdesk/internal/presence"
	"github.com/gigdesk/gigdesk/internal/rooms"
	"github.com/gigdesk/gigdesk/internal/store"
)

// The hub handlers are exercised directly instead of through Run and a real
// websocket: clients get a buffered send channel and no conn, so every
// delivery the hub makes lands in the buffer for inspection.

func newTestHub(t *testing.T) (*Hub, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	h := NewHub(mem, mem, presence.NewRegistry(), rooms.NewRouter(), nil)
	return h, mem
}

func newTestUser(t *testing.T, mem *store.MemoryStore, name string) model.Identity {
	t.Helper()
	user, err := mem.CreateUser(context.Background(), name, name+"@test.com", "freelancer", "hash")
	require.NoError(t, err)
	return user.Identity()
}

func newTestClient(identity model.Identity) *Client {
	return &Client{
		connID:   uuid.New(),
		identity: identity,
		sendCh:   make(chan model.Outbound, 32),
	}
}

func connect(h *Hub, c *Client) {
	h.register(Registration{Client: c, Done: make(chan struct{})})
}

// drained returns everything queued on the client so far and leaves the
// buffer empty. Handles a channel already closed by unregister.
func drained(c *Client) []model.Outbound {
	var out []model.Outbound
	for {
		select {
		case ev, ok := <-c.sendCh:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofEvent(evs []model.Outbound, name string) []model.Outbound {
	var out []model.Outbound
	for _, ev := range evs {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func inbound(t *testing.T, event string, payload any) model.Inbound {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return model.Inbound{Event: event, Data: data}
}

func errorCode(t *testing.T, ev model.Outbound) string {
	t.Helper()
	p, ok := ev.Data.(model.ErrorPayload)
	require.True(t, ok, "error event must carry an ErrorPayload")
	return p.Code
}

func TestSendDeliversToAllConnections(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	aPhone, aLaptop := newTestClient(alice), newTestClient(alice)
	bPhone := newTestClient(bob)
	for _, c := range []*Client{aPhone, aLaptop, bPhone} {
		connect(h, c)
		drained(c)
	}

	h.dispatch(ctx, aPhone, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{ReceiverID: bob.ID, Body: "hello bob"}))

	// Sender echo on every sender device, plus the receiver's devices.
	for _, c := range []*Client{aPhone, aLaptop, bPhone} {
		evs := ofEvent(drained(c), model.EventNewMessage)
		require.Len(t, evs, 1)

		msg, ok := evs[0].Data.(*model.Message)
		require.True(t, ok)
		assert.Equal(t, alice.ID, msg.SenderID)
		assert.Equal(t, bob.ID, msg.ReceiverID)
		assert.Equal(t, "hello bob", msg.Body)
	}

	list, err := mem.FindConversation(ctx, alice.ID, bob.ID, nil, 50, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSendToOfflineReceiver(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	h.dispatch(ctx, a, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{ReceiverID: bob.ID, Body: "anyone there?"}))

	// Persisted regardless of the receiver being offline.
	list, err := mem.FindConversation(ctx, alice.ID, bob.ID, nil, 50, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, ofEvent(drained(a), model.EventNewMessage), 1)

	// No realtime backlog on reconnect; history comes from the REST endpoint.
	b := newTestClient(bob)
	connect(h, b)
	assert.Empty(t, ofEvent(drained(b), model.EventNewMessage))
}

func TestSendSelfMessage(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	h.dispatch(ctx, a, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{ReceiverID: alice.ID, Body: "note to self"}))

	// Sender and receiver are the same identity; no duplicate delivery.
	assert.Len(t, ofEvent(drained(a), model.EventNewMessage), 1)
}

func TestSendValidation(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	a := newTestClient(alice)
	b := newTestClient(bob)
	connect(h, a)
	connect(h, b)
	drained(a)
	drained(b)

	h.dispatch(ctx, a, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{Body: "no receiver"}))
	h.dispatch(ctx, a, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{ReceiverID: bob.ID, Body: "   "}))

	errs := ofEvent(drained(a), model.EventError)
	require.Len(t, errs, 2)
	for _, ev := range errs {
		assert.Equal(t, "validation", errorCode(t, ev))
	}

	// Failures never leak to the other party.
	assert.Empty(t, drained(b))
}

func TestSendUnknownReceiver(t *testing.T) {
	h, mem := newTestHub(t)
	alice := newTestUser(t, mem, "alice")

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	h.dispatch(context.Background(), a, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{ReceiverID: uuid.New(), Body: "hello?"}))

	errs := ofEvent(drained(a), model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "not_found", errorCode(t, errs[0]))
}

func TestSendSanitizesBody(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	h.dispatch(ctx, a, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{ReceiverID: bob.ID, Body: "<script>alert(1)</script> <b>hi</b> there"}))

	list, err := mem.FindConversation(ctx, alice.ID, bob.ID, nil, 50, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "hi there", list[0].Body)
}

func TestSendRateLimited(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	a := newTestClient(alice)
	a.SetMessageLimiter(1, time.Minute)
	connect(h, a)
	drained(a)

	h.dispatch(ctx, a, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{ReceiverID: bob.ID, Body: "one"}))
	h.dispatch(ctx, a, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{ReceiverID: bob.ID, Body: "two"}))

	evs := drained(a)
	assert.Len(t, ofEvent(evs, model.EventNewMessage), 1)
	assert.Len(t, ofEvent(evs, model.EventError), 1)

	list, err := mem.FindConversation(ctx, alice.ID, bob.ID, nil, 50, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1, "rate limited message must not persist")
}

func TestSendProjectCheck(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")
	h.ProjectCheck = func(ctx context.Context, senderID, receiverID uuid.UUID, projectID *uuid.UUID) error {
		return apperr.New(apperr.Forbidden, "no shared project")
	}

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	project := uuid.New()
	h.dispatch(ctx, a, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{ReceiverID: bob.ID, Body: "hi", ProjectID: &project}))

	errs := ofEvent(drained(a), model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "forbidden", errorCode(t, errs[0]))

	list, err := mem.FindConversation(ctx, alice.ID, bob.ID, nil, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEditOnlyBySender(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	a, b := newTestClient(alice), newTestClient(bob)
	connect(h, a)
	connect(h, b)

	msg, err := mem.Create(ctx, alice.ID, bob.ID, "draft", nil)
	require.NoError(t, err)
	drained(a)
	drained(b)

	// The receiver cannot edit.
	h.dispatch(ctx, b, inbound(t, model.EventEditMessage,
		model.EditMessagePayload{MessageID: msg.ID, Body: "hijacked"}))

	errs := ofEvent(drained(b), model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "forbidden", errorCode(t, errs[0]))

	unchanged, err := mem.FindByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", unchanged.Body)

	// The sender can, and both parties hear about it.
	h.dispatch(ctx, a, inbound(t, model.EventEditMessage,
		model.EditMessagePayload{MessageID: msg.ID, Body: "final"}))

	for _, c := range []*Client{a, b} {
		evs := ofEvent(drained(c), model.EventEditMsg)
		require.Len(t, evs, 1)

		p, ok := evs[0].Data.(model.EditMsgPayload)
		require.True(t, ok)
		assert.Equal(t, msg.ID, p.MessageID)
		assert.Equal(t, "final", p.Body)
		assert.Equal(t, alice.ID, p.Sender)
		assert.Equal(t, bob.ID, p.Receiver)
	}
}

func TestEditMissingMessage(t *testing.T) {
	h, mem := newTestHub(t)
	alice := newTestUser(t, mem, "alice")

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	h.dispatch(context.Background(), a, inbound(t, model.EventEditMessage,
		model.EditMessagePayload{MessageID: uuid.New(), Body: "ghost"}))

	errs := ofEvent(drained(a), model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "not_found", errorCode(t, errs[0]))
}

func TestDeleteByEitherParty(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")
	eve := newTestUser(t, mem, "eve")

	a, b, e := newTestClient(alice), newTestClient(bob), newTestClient(eve)
	for _, c := range []*Client{a, b, e} {
		connect(h, c)
	}

	msg, err := mem.Create(ctx, alice.ID, bob.ID, "temp", nil)
	require.NoError(t, err)
	for _, c := range []*Client{a, b, e} {
		drained(c)
	}

	// An outsider cannot delete.
	h.dispatch(ctx, e, inbound(t, model.EventDeleteMessage,
		model.DeleteMessagePayload{MessageID: msg.ID}))
	errs := ofEvent(drained(e), model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "forbidden", errorCode(t, errs[0]))

	// The receiver can.
	h.dispatch(ctx, b, inbound(t, model.EventDeleteMessage,
		model.DeleteMessagePayload{MessageID: msg.ID}))

	for _, c := range []*Client{a, b} {
		evs := ofEvent(drained(c), model.EventDeleteMsg)
		require.Len(t, evs, 1)
		p, ok := evs[0].Data.(model.DeleteMsgPayload)
		require.True(t, ok)
		assert.Equal(t, msg.ID, p.MessageID)
	}

	gone, err := mem.FindByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// A second delete finds nothing.
	h.dispatch(ctx, b, inbound(t, model.EventDeleteMessage,
		model.DeleteMessagePayload{MessageID: msg.ID}))
	errs = ofEvent(drained(b), model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "not_found", errorCode(t, errs[0]))
}

func TestMarkSeenNotifiesSender(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	aPhone, aLaptop, b := newTestClient(alice), newTestClient(alice), newTestClient(bob)
	for _, c := range []*Client{aPhone, aLaptop, b} {
		connect(h, c)
	}

	m1, err := mem.Create(ctx, alice.ID, bob.ID, "one", nil)
	require.NoError(t, err)
	m2, err := mem.Create(ctx, alice.ID, bob.ID, "two", nil)
	require.NoError(t, err)
	for _, c := range []*Client{aPhone, aLaptop, b} {
		drained(c)
	}

	h.dispatch(ctx, b, inbound(t, model.EventMarkSeen,
		model.MarkSeenPayload{OtherPartyID: alice.ID}))

	// Every sender device hears the receipt; the viewer hears nothing.
	for _, c := range []*Client{aPhone, aLaptop} {
		evs := ofEvent(drained(c), model.EventMessagesSeen)
		require.Len(t, evs, 1)

		p, ok := evs[0].Data.(model.MessagesSeenPayload)
		require.True(t, ok)
		assert.Equal(t, bob.ID, p.By)
		assert.ElementsMatch(t, []uuid.UUID{m1.ID, m2.ID}, p.MessageIDs)
		assert.False(t, p.SeenAt.IsZero())
	}
	assert.Empty(t, drained(b))

	// Nothing newly unread: no event at all.
	h.dispatch(ctx, b, inbound(t, model.EventMarkSeen,
		model.MarkSeenPayload{OtherPartyID: alice.ID}))
	assert.Empty(t, drained(aPhone))
	assert.Empty(t, drained(aLaptop))
}

func TestTypingOnlyToOtherParty(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	aPhone, aLaptop, b := newTestClient(alice), newTestClient(alice), newTestClient(bob)
	for _, c := range []*Client{aPhone, aLaptop, b} {
		connect(h, c)
	}
	for _, c := range []*Client{aPhone, aLaptop, b} {
		drained(c)
	}

	h.dispatch(ctx, aPhone, inbound(t, model.EventTypingStart,
		model.TypingPayload{ReceiverID: bob.ID}))
	h.dispatch(ctx, aPhone, inbound(t, model.EventTypingStop,
		model.TypingPayload{ReceiverID: bob.ID}))

	evs := drained(b)
	require.Len(t, ofEvent(evs, model.EventUserTyping), 1)
	require.Len(t, ofEvent(evs, model.EventUserTypingStop), 1)

	p, ok := ofEvent(evs, model.EventUserTyping)[0].Data.(model.UserTypingPayload)
	require.True(t, ok)
	assert.Equal(t, alice.ID, p.UserID)

	// The typist's own devices never see the indicator.
	assert.Empty(t, drained(aPhone))
	assert.Empty(t, drained(aLaptop))
}

func TestTypingToOfflineReceiverIsSilent(t *testing.T) {
	h, mem := newTestHub(t)
	alice := newTestUser(t, mem, "alice")

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	h.dispatch(context.Background(), a, inbound(t, model.EventTypingStart,
		model.TypingPayload{ReceiverID: uuid.New()}))
	assert.Empty(t, drained(a))
}

func TestUnknownEvent(t *testing.T) {
	h, mem := newTestHub(t)
	alice := newTestUser(t, mem, "alice")

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	h.dispatch(context.Background(), a, model.Inbound{Event: "no_such_event", Data: json.RawMessage(`{}`)})

	errs := ofEvent(drained(a), model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "validation", errorCode(t, errs[0]))
}

func TestPresenceBroadcasts(t *testing.T) {
	h, mem := newTestHub(t)
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	aPhone := newTestClient(alice)
	connect(h, aPhone)

	evs := ofEvent(drained(aPhone), model.EventOnlineUsers)
	require.Len(t, evs, 1, "first connection announces the identity online")
	p, ok := evs[0].Data.(model.OnlineUsersPayload)
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{alice.ID}, p.OnlineUserIDs)

	// A second device is not a presence transition.
	aLaptop := newTestClient(alice)
	connect(h, aLaptop)
	assert.Empty(t, ofEvent(drained(aPhone), model.EventOnlineUsers))
	assert.Empty(t, ofEvent(drained(aLaptop), model.EventOnlineUsers))

	// Another identity coming online reaches everyone.
	b := newTestClient(bob)
	connect(h, b)
	for _, c := range []*Client{aPhone, aLaptop, b} {
		evs := ofEvent(drained(c), model.EventOnlineUsers)
		require.Len(t, evs, 1)
		p, ok := evs[0].Data.(model.OnlineUsersPayload)
		require.True(t, ok)
		assert.ElementsMatch(t, []uuid.UUID{alice.ID, bob.ID}, p.OnlineUserIDs)
	}

	// Dropping one of two devices is not a transition either.
	h.unregister(aLaptop)
	assert.Empty(t, ofEvent(drained(aPhone), model.EventOnlineUsers))
	assert.Empty(t, ofEvent(drained(b), model.EventOnlineUsers))

	// Dropping the last device takes the identity offline.
	h.unregister(aPhone)
	evs = ofEvent(drained(b), model.EventOnlineUsers)
	require.Len(t, evs, 1)
	p, ok = evs[0].Data.(model.OnlineUsersPayload)
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{bob.ID}, p.OnlineUserIDs)
}

func TestUnregisterLeavesRooms(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	h.dispatch(ctx, a, inbound(t, model.EventJoinRoom,
		model.JoinRoomPayload{ReceiverID: bob.ID}))

	roomID := rooms.RoomID(alice.ID, bob.ID, nil)
	require.Len(t, h.rooms.Members(roomID), 1)

	h.unregister(a)
	assert.Empty(t, h.rooms.Members(roomID))
}

func TestEventQueuedBeforeDisconnect(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()
	alice := newTestUser(t, mem, "alice")
	bob := newTestUser(t, mem, "bob")

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	// The loop may take the unregister before events this connection queued
	// earlier. Dispatching them afterwards must not write to the closed send
	// channel or resurrect room membership.
	h.unregister(a)

	h.dispatch(ctx, a, model.Inbound{Event: "no_such_event", Data: json.RawMessage(`{}`)})
	h.dispatch(ctx, a, inbound(t, model.EventJoinRoom,
		model.JoinRoomPayload{ReceiverID: bob.ID}))
	h.dispatch(ctx, a, inbound(t, model.EventSendMessage,
		model.SendMessagePayload{ReceiverID: bob.ID, Body: "late"}))

	assert.Empty(t, h.rooms.Members(rooms.RoomID(alice.ID, bob.ID, nil)))

	list, err := mem.FindConversation(ctx, alice.ID, bob.ID, nil, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, list, "events from a disconnected client are dropped")
}

func TestJoinRoomValidation(t *testing.T) {
	h, mem := newTestHub(t)
	alice := newTestUser(t, mem, "alice")

	a := newTestClient(alice)
	connect(h, a)
	drained(a)

	h.dispatch(context.Background(), a, inbound(t, model.EventJoinRoom, model.JoinRoomPayload{}))

	errs := ofEvent(drained(a), model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "validation", errorCode(t, errs[0]))
}
