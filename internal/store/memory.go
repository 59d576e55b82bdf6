package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gigdesk/gigdesk/internal/apperr"
	"github.com/gigdesk/gigdesk/internal/model"
)

// MemoryStore is an in-memory MessageStore/UserStore used by unit tests and
// local development (STORE_BACKEND=memory). Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[uuid.UUID]*model.Message
	order    map[uuid.UUID]int64 // insertion sequence, breaks CreatedAt ties
	users    map[uuid.UUID]*model.User
	seq      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[uuid.UUID]*model.Message),
		order:    make(map[uuid.UUID]int64),
		users:    make(map[uuid.UUID]*model.User),
	}
}

func (s *MemoryStore) Create(_ context.Context, senderID, receiverID uuid.UUID, body string, projectID *uuid.UUID) (*model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.New(apperr.Validation, "message body is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	msg := &model.Message{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		ProjectID:  projectID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.seq++
	s.messages[msg.ID] = msg
	s.order[msg.ID] = s.seq

	out := *msg
	return &out, nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	out := *msg
	return &out, nil
}

func sameProject(a, b *uuid.UUID) bool {
	if a == nil {
		return true // no filter
	}
	return b != nil && *a == *b
}

func (s *MemoryStore) FindConversation(_ context.Context, a, b uuid.UUID, projectID *uuid.UUID, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Message
	for _, msg := range s.messages {
		pairMatch := (msg.SenderID == a && msg.ReceiverID == b) ||
			(msg.SenderID == b && msg.ReceiverID == a)
		if pairMatch && sameProject(projectID, msg.ProjectID) {
			matched = append(matched, msg)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return s.order[matched[i].ID] < s.order[matched[j].ID]
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	// Offset counts back from the newest message, same as the SQL path.
	end := len(matched) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]model.Message, 0, end-start)
	for _, msg := range matched[start:end] {
		out = append(out, *msg)
	}
	return out, nil
}

func (s *MemoryStore) MarkAllSeen(_ context.Context, viewerID, otherPartyID uuid.UUID, projectID *uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var ids []uuid.UUID
	for _, msg := range s.messages {
		if msg.ReceiverID == viewerID && msg.SenderID == otherPartyID && !msg.Read &&
			sameProject(projectID, msg.ProjectID) {
			msg.Read = true
			seen := now
			msg.SeenAt = &seen
			ids = append(ids, msg.ID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) UpdateBody(_ context.Context, id uuid.UUID, body string) (*model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.New(apperr.Validation, "message body is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	msg.Body = body
	msg.UpdatedAt = time.Now().UTC()

	out := *msg
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return false, nil
	}
	delete(s.messages, id)
	delete(s.order, id)
	return true, nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, msg := range s.messages {
		if msg.ReceiverID == userID && !msg.Read {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) FindIdentity(_ context.Context, id uuid.UUID) (*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	ident := user.Identity()
	return &ident, nil
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == email {
			out := *user
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, userName, email, role, passwordHash string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	user := &model.User{
		ID:           uuid.New(),
		UserName:     userName,
		Email:        email,
		Role:         role,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[user.ID] = user

	out := *user
	return &out, nil
}
