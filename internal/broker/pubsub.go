// Package broker publishes chat events to NATS JetStream for out-of-process
// consumers (the notification/email service). Publishing is best-effort; a
// broker failure never fails the originating send.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/gigdesk/gigdesk/internal/model"
)

// EnsureStream creates or updates the chat event stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{StreamName + ".>"},
		MaxBytes: 1 << 30, // 1GB max storage
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	return stream, nil
}

// Publisher emits persisted messages onto the stream.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// MessageCreated publishes the persisted message. The message id doubles as
// the dedup id so redeliveries collapse server-side.
func (p *Publisher) MessageCreated(ctx context.Context, msg *model.Message) error {
	if p == nil || p.js == nil {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not encode payload to JSON: %w", err)
	}

	_, err = p.js.Publish(ctx,
		SubjectMessageCreated,
		payload,
		jetstream.WithMsgID(msg.ID.String()),
	)
	if err != nil {
		return fmt.Errorf("failed to publish to stream [%s]: %w", SubjectMessageCreated, err)
	}

	return nil
}
