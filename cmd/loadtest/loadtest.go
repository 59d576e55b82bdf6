// Command loadtest opens websocket connections against a running gateway and
// sends a burst of messages between two accounts. Useful for eyeballing
// delivery fan-out and presence broadcasts during development.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gigdesk/gigdesk/internal/model"
)

func main() {
	var (
		addr     = flag.String("addr", "ws://localhost:8080/ws", "gateway websocket URL")
		token    = flag.String("token", "", "bearer token for the sending account")
		receiver = flag.String("receiver", "", "receiver user id")
		count    = flag.Int("count", 10, "messages to send")
	)
	flag.Parse()

	if *token == "" || *receiver == "" {
		log.Fatal("-token and -receiver are required")
	}

	receiverID, err := uuid.Parse(*receiver)
	if err != nil {
		log.Fatalf("invalid receiver id: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?token="+*token, nil)
	if err != nil {
		log.Fatalf("failed to dial gateway: %v", err)
	}
	defer conn.CloseNow()

	go func() {
		for {
			_, p, err := conn.Read(ctx)
			if err != nil {
				return
			}
			log.Printf("<- %s", p)
		}
	}()

	for i := range *count {
		payload, _ := json.Marshal(model.SendMessagePayload{
			ReceiverID: receiverID,
			Body:       fmt.Sprintf("loadtest message %d", i),
		})
		frame, _ := json.Marshal(model.Inbound{
			Event: model.EventSendMessage,
			Data:  payload,
		})
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			log.Fatalf("write failed at message %d: %v", i, err)
		}
	}

	// Give deliveries a moment to come back before closing.
	time.Sleep(2 * time.Second)
	conn.Close(websocket.StatusNormalClosure, "done")
}
