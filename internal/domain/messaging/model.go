package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Message type ids as seeded in the message_types table.
const (
	TypeGeneral      = 1
	TypeAIEvaluation = 2
	TypeFeedback     = 3
)

// AIDisplayName labels assistant bubbles in the conversation view.
const AIDisplayName = "AI Asistan"

// ThreadKind distinguishes the two logical conversations that share the
// messages table.
type ThreadKind string

const (
	KindDoctor  ThreadKind = "doctor"
	KindAI      ThreadKind = "ai"
	KindUnknown ThreadKind = "unknown"
)

// Bubble statuses, in progression order.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Bubble display types.
const (
	BubbleUser   = "user"
	BubbleDoctor = "doctor"
	BubbleAI     = "ai"
	BubbleSystem = "system"
)

// Message is a row in the shared messages table. Both threads store their
// messages here; thread membership is derived from the endpoints, never
// stored.
type Message struct {
	ID             uuid.UUID `db:"id" json:"id"`
	SenderUserID   uuid.UUID `db:"sender_user_id" json:"sender_user_id"`
	ReceiverUserID uuid.UUID `db:"receiver_user_id" json:"receiver_user_id"`
	MessageTypeID  int       `db:"message_type_id" json:"message_type_id"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
	IsRead         bool      `db:"is_read" json:"is_read"`
}

// Bubble is the display representation of one message. Bubbles are rebuilt
// from message rows on every fetch and never persisted; a placeholder bubble
// from an in-flight send is the only exception, and it carries a local id
// until reconciliation swaps in the stored row.
type Bubble struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Timestamp  string    `json:"timestamp"`
	SentAt     time.Time `json:"sent_at"`
	IsOwn      bool      `json:"is_own"`
	Type       string    `json:"type"`
	SenderName string    `json:"sender_name,omitempty"`
	Status     string    `json:"status"`
}

// ThreadSummary is the per-thread digest shown on the home dashboard.
type ThreadSummary struct {
	Kind            ThreadKind `json:"kind"`
	CounterpartName string     `json:"counterpart_name,omitempty"`
	LatestMessage   *Bubble    `json:"latest_message,omitempty"`
	LastUnread      *Bubble    `json:"last_unread_message,omitempty"`
	UnreadCount     int        `json:"unread_count"`
}

// DashboardSummary aggregates both thread digests. Both sides are published
// together so an observer never sees one thread refreshed and the other
// mid-update.
type DashboardSummary struct {
	Doctor      ThreadSummary `json:"doctor"`
	AI          ThreadSummary `json:"ai"`
	RefreshedAt time.Time     `json:"refreshed_at"`
}

// DoctorAssignment is the resolved doctor counterpart for the current user.
type DoctorAssignment struct {
	UserID      uuid.UUID
	DisplayName string
}
