package gateway

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/gigdesk/gigdesk/internal/metrics"
	"github.com/gigdesk/gigdesk/internal/model"
)

// Client is one live websocket connection bound to an authenticated identity.
// The identity is resolved once at handshake and never changes afterwards.
type Client struct {
	connID     uuid.UUID
	identity   model.Identity
	conn       *websocket.Conn
	hub        *Hub
	sendCh     chan model.Outbound
	messageLim *rate.Limiter
	typingLim  *rate.Limiter

	// closed is set by the hub loop when it unregisters the connection and
	// is only ever touched from that goroutine. Events the connection queued
	// before disconnecting may still sit in the hub's buffer; the flag lets
	// dispatch drop them instead of writing to the closed send channel.
	closed bool
}

func NewClient(conn *websocket.Conn, identity model.Identity, hub *Hub) *Client {
	return &Client{
		connID:   uuid.New(),
		identity: identity,
		conn:     conn,
		hub:      hub,
		sendCh:   make(chan model.Outbound, 64),
	}
}

func (c *Client) ID() uuid.UUID {
	return c.connID
}

func (c *Client) Identity() model.Identity {
	return c.identity
}

func (c *Client) SetMessageLimiter(requests int, window time.Duration) {
	c.messageLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

func (c *Client) SetTypingLimiter(requests int, window time.Duration) {
	c.typingLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// Deliver queues an event for the write pump without blocking. A full buffer
// means the client is too slow to keep up; the frame is dropped and the
// connection kept. The client reconciles from the history endpoint.
func (c *Client) Deliver(ev model.Outbound) bool {
	select {
	case c.sendCh <- ev:
		return true
	default:
		metrics.DeliveriesDropped.Inc()
		log.Println("skipping event payload - channel full or client slow")
		return false
	}
}

// WritePump drains the send buffer onto the websocket.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case ev, ok := <-c.sendCh:
			// The hub closes the channel on unregister; stop writing then.
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}

			payload, err := json.Marshal(ev)
			if err != nil {
				slog.ErrorContext(ctx, "failed to encode event",
					"error", err,
					"event", ev.Event,
					"user_id", c.identity.ID.String())
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = c.conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				slog.WarnContext(ctx, "failed to write event",
					"error", err,
					"event", ev.Event)
				continue
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}

// ReadPump reads inbound events off the websocket and forwards them to the
// hub. The deferred unregister runs on every exit path, so presence is torn
// down for abrupt network drops exactly as for clean closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister <- c
		c.conn.CloseNow()
	}()

	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				log.Printf("%v", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var env model.Inbound
		if err := json.Unmarshal(p, &env); err != nil || env.Event == "" {
			// Malformed frames are reported to this connection only and
			// never tear it down.
			c.Deliver(model.Outbound{
				Event: model.EventError,
				Data:  model.ErrorPayload{Code: "validation", Message: "malformed event payload"},
			})
			continue
		}

		c.hub.Events <- Event{Client: c, Envelope: env}
	}
}
