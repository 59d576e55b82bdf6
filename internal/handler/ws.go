package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/gigdesk/gigdesk/internal"
	"github.com/gigdesk/gigdesk/internal/auth"
	"github.com/gigdesk/gigdesk/internal/gateway"
)

// Bounded window for the handshake; a hung authentication closes the
// connection before any presence state exists.
const authTimeout = 10 * time.Second

// ServeWs upgrades the connection, authenticates it exactly once, and hands
// it to the hub.
func ServeWs(hub *gateway.Hub, resolver *auth.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Printf("failed to accept websocket connection: %v", err)
			return
		}

		authCtx, cancel := context.WithTimeout(ctx, authTimeout)
		identity, err := resolver.Authenticate(authCtx, internal.BearerToken(r))
		cancel()
		if err != nil {
			log.Printf("handshake rejected: %v", err)
			conn.Close(websocket.StatusPolicyViolation, "unauthenticated")
			return
		}

		c := gateway.NewClient(conn, identity, hub)
		c.SetMessageLimiter(30, time.Minute)
		c.SetTypingLimiter(60, time.Minute)

		reg := gateway.Registration{
			Client: c,
			Done:   make(chan struct{}),
		}

		hub.Register <- reg

		// Wait for registration to complete
		<-reg.Done

		// We block on c.ReadPump() because the request context is canceled
		// as soon as we return from this handler.
		go c.WritePump(ctx)
		c.ReadPump(ctx)
	}
}
