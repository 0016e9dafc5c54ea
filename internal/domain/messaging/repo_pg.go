package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/companion/companion/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const messageColumns = `id, sender_user_id, receiver_user_id, message_type_id,
	content, created_at, updated_at, is_read`

type messageRepoPG struct {
	pool *pgxpool.Pool
}

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *messageRepoPG) Insert(ctx context.Context, m *Message) error {
	q := `INSERT INTO messages (sender_user_id, receiver_user_id, message_type_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	err := r.conn(ctx).QueryRow(ctx, q, m.SenderUserID, m.ReceiverUserID, m.MessageTypeID, m.Content).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *messageRepoPG) Conversation(ctx context.Context, userID, counterpartID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	c := r.conn(ctx)

	var total int
	countQ := `SELECT COUNT(*) FROM messages
		WHERE NOT is_deleted
		AND ((sender_user_id = $1 AND receiver_user_id = $2)
			OR (sender_user_id = $2 AND receiver_user_id = $1))`
	if err := c.QueryRow(ctx, countQ, userID, counterpartID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversation: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM messages
		WHERE NOT is_deleted
		AND ((sender_user_id = $1 AND receiver_user_id = $2)
			OR (sender_user_id = $2 AND receiver_user_id = $1))
		ORDER BY created_at ASC
		LIMIT $3 OFFSET $4`, messageColumns)
	rows, err := c.Query(ctx, q, userID, counterpartID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.ID, &m.SenderUserID, &m.ReceiverUserID, &m.MessageTypeID,
			&m.Content, &m.CreatedAt, &m.UpdatedAt, &m.IsRead)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, &m)
	}
	return out, total, rows.Err()
}

func (r *messageRepoPG) CountNewerThan(ctx context.Context, userID, counterpartID uuid.UUID, after time.Time) (int, error) {
	q := `SELECT COUNT(*) FROM messages
		WHERE NOT is_deleted
		AND created_at > $3
		AND ((sender_user_id = $1 AND receiver_user_id = $2)
			OR (sender_user_id = $2 AND receiver_user_id = $1))`
	var n int
	if err := r.conn(ctx).QueryRow(ctx, q, userID, counterpartID, after).Scan(&n); err != nil {
		return 0, fmt.Errorf("count newer messages: %w", err)
	}
	return n, nil
}

func (r *messageRepoPG) AnyBetween(ctx context.Context, userID, counterpartID uuid.UUID) (bool, error) {
	q := `SELECT EXISTS (
		SELECT 1 FROM messages
		WHERE NOT is_deleted
		AND ((sender_user_id = $1 AND receiver_user_id = $2)
			OR (sender_user_id = $2 AND receiver_user_id = $1))
	)`
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, q, userID, counterpartID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check messages exist: %w", err)
	}
	return exists, nil
}

func (r *messageRepoPG) CountUnread(ctx context.Context, receiverID, senderID uuid.UUID) (int, error) {
	q := `SELECT COUNT(*) FROM messages
		WHERE receiver_user_id = $1 AND sender_user_id = $2
		AND NOT is_read AND NOT is_deleted`
	var n int
	if err := r.conn(ctx).QueryRow(ctx, q, receiverID, senderID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *messageRepoPG) MarkConversationRead(ctx context.Context, receiverID, senderID uuid.UUID) (int64, error) {
	q := `UPDATE messages SET is_read = TRUE, updated_at = NOW()
		WHERE receiver_user_id = $1 AND sender_user_id = $2
		AND NOT is_read AND NOT is_deleted`
	tag, err := r.conn(ctx).Exec(ctx, q, receiverID, senderID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return tag.RowsAffected(), nil
}
