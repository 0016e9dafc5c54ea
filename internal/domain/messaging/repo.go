package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageRepository is the storage contract for the shared messages table.
// All queries exclude soft-deleted rows.
type MessageRepository interface {
	// Insert stores a message. The store assigns id and timestamps, which
	// are written back into m.
	Insert(ctx context.Context, m *Message) error

	// Conversation returns both directions of traffic between two users,
	// ordered ascending by created_at, plus the total row count for the
	// pair.
	Conversation(ctx context.Context, userID, counterpartID uuid.UUID, limit, offset int) ([]*Message, int, error)

	// CountNewerThan counts messages between the pair created strictly
	// after the given time. The poller uses this as its cheap change
	// detector.
	CountNewerThan(ctx context.Context, userID, counterpartID uuid.UUID, after time.Time) (int, error)

	// AnyBetween reports whether any message exists between the pair.
	AnyBetween(ctx context.Context, userID, counterpartID uuid.UUID) (bool, error)

	// CountUnread counts messages from sender to receiver not yet read.
	CountUnread(ctx context.Context, receiverID, senderID uuid.UUID) (int, error)

	// MarkConversationRead flags all unread messages from sender to
	// receiver as read in one statement, returning the number updated.
	MarkConversationRead(ctx context.Context, receiverID, senderID uuid.UUID) (int64, error)
}
