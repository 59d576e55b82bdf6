package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigdesk/gigdesk/internal/apperr"
	"github.com/gigdesk/gigdesk/internal/model"
)

const messageColumns = `id, sender_id, receiver_id, message, project_id, read, seen_at, created_at, updated_at`

// PostgresStore implements MessageStore and UserStore over a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying pool for migrations and test teardown.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	msg := &model.Message{}
	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Body,
		&msg.ProjectID,
		&msg.Read,
		&msg.SeenAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *PostgresStore) Create(ctx context.Context, senderID, receiverID uuid.UUID, body string, projectID *uuid.UUID) (*model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.New(apperr.Validation, "message body is required")
	}

	now := time.Now().UTC()
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		INSERT INTO chats (id, sender_id, receiver_id, message, project_id, read, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, false, $6, $6)
		RETURNING `+messageColumns,
		uuid.New(), senderID, receiverID, body, projectID, now,
	))
	if err != nil {
		return nil, apperr.Wrap(apperr.Persistence, "failed to save message", err)
	}
	return msg, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM chats WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Persistence, "failed to load message", err)
	}
	return msg, nil
}

func (s *PostgresStore) FindConversation(ctx context.Context, a, b uuid.UUID, projectID *uuid.UUID, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	// Page from the newest message backwards, then flip to oldest-first so
	// the client renders history top-down.
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM chats
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND ($3::uuid IS NULL OR project_id = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, a, b, projectID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.Persistence, "failed to load conversation", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Persistence, "failed to scan message", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Persistence, "failed to load conversation", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *PostgresStore) MarkAllSeen(ctx context.Context, viewerID, otherPartyID uuid.UUID, projectID *uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE chats SET read = true, seen_at = $1
		WHERE receiver_id = $2 AND sender_id = $3 AND read = false
		  AND ($4::uuid IS NULL OR project_id = $4)
		RETURNING id
	`, time.Now().UTC(), viewerID, otherPartyID, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Persistence, "failed to mark messages seen", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.Persistence, "failed to scan message id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Persistence, "failed to mark messages seen", err)
	}
	return ids, nil
}

func (s *PostgresStore) UpdateBody(ctx context.Context, id uuid.UUID, body string) (*model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.New(apperr.Validation, "message body is required")
	}

	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		UPDATE chats SET message = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+messageColumns,
		id, body, time.Now().UTC(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Persistence, "failed to update message", err)
	}
	return msg, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return false, apperr.Wrap(apperr.Persistence, "failed to delete message", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM chats WHERE receiver_id = $1 AND read = false
	`, userID).Scan(&count)
	if err != nil {
		return 0, apperr.Wrap(apperr.Persistence, "failed to count unread messages", err)
	}
	return count, nil
}

func (s *PostgresStore) FindIdentity(ctx context.Context, id uuid.UUID) (*model.Identity, error) {
	ident := &model.Identity{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_name, role FROM users WHERE id = $1
	`, id).Scan(&ident.ID, &ident.DisplayName, &ident.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Persistence, "failed to load user", err)
	}
	return ident, nil
}

func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_name, email, role, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`, email).Scan(
		&user.ID,
		&user.UserName,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Persistence, "failed to load user", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, userName, email, role, passwordHash string) (*model.User, error) {
	user := &model.User{}
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, user_name, email, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, user_name, email, role, password_hash, created_at, updated_at
	`, uuid.New(), userName, email, role, passwordHash, now).Scan(
		&user.ID,
		&user.UserName,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Persistence, "failed to create user", err)
	}
	return user, nil
}
