package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MaxContentLength bounds a message body after trimming.
	MaxContentLength = 1000

	// DefaultConversationPage is the page size for thread fetches.
	DefaultConversationPage = 100
)

// ErrNoDoctor is returned for doctor-thread operations when the user has no
// assigned doctor.
var ErrNoDoctor = errors.New("no assigned doctor")

// DoctorDirectory resolves the doctor assigned to a patient's user account.
// The identity domain provides the implementation; messaging only needs the
// counterpart id and a display name. Implementations return ErrNoDoctor when
// the user has no active assignment; any other error is a lookup failure.
type DoctorDirectory interface {
	AssignedDoctor(ctx context.Context, patientUserID uuid.UUID) (*DoctorAssignment, error)
}

// Service owns message persistence, thread classification, and the mapping
// from stored rows to display bubbles.
type Service struct {
	repo      MessageRepository
	directory DoctorDirectory
	aiID      uuid.UUID
	logger    zerolog.Logger

	// Doctor assignments are cold and rarely change; cache per user for
	// the lifetime of the process.
	mu      sync.RWMutex
	doctors map[uuid.UUID]*DoctorAssignment
}

func NewService(repo MessageRepository, directory DoctorDirectory, aiID uuid.UUID, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		aiID:      aiID,
		logger:    logger.With().Str("component", "messaging").Logger(),
		doctors:   make(map[uuid.UUID]*DoctorAssignment),
	}
}

// AssistantID returns the fixed assistant identity.
func (s *Service) AssistantID() uuid.UUID {
	return s.aiID
}

// Doctor resolves and caches the user's assigned doctor. Returns ErrNoDoctor
// when no assignment exists.
func (s *Service) Doctor(ctx context.Context, userID uuid.UUID) (*DoctorAssignment, error) {
	s.mu.RLock()
	cached, ok := s.doctors[userID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	d, err := s.directory.AssignedDoctor(ctx, userID)
	if err != nil {
		// A missing assignment is a state, not a failure; everything else
		// (directory outage, query error) must surface as an error so the
		// thread shows its error state instead of "no doctor".
		if errors.Is(err, ErrNoDoctor) {
			return nil, ErrNoDoctor
		}
		return nil, fmt.Errorf("resolve assigned doctor: %w", err)
	}

	s.mu.Lock()
	s.doctors[userID] = d
	s.mu.Unlock()
	return d, nil
}

// ForgetDoctor drops the cached assignment, forcing the next resolution to
// hit the directory. Called when a session ends.
func (s *Service) ForgetDoctor(userID uuid.UUID) {
	s.mu.Lock()
	delete(s.doctors, userID)
	s.mu.Unlock()
}

// counterpart resolves the other endpoint of a thread.
func (s *Service) counterpart(ctx context.Context, userID uuid.UUID, kind ThreadKind) (uuid.UUID, string, error) {
	switch kind {
	case KindAI:
		return s.aiID, AIDisplayName, nil
	case KindDoctor:
		d, err := s.Doctor(ctx, userID)
		if err != nil {
			return uuid.Nil, "", err
		}
		return d.UserID, d.DisplayName, nil
	default:
		return uuid.Nil, "", fmt.Errorf("unknown thread kind %q", kind)
	}
}

// ValidateContent trims and checks a message body. Returns the trimmed
// content.
func ValidateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("message content is required")
	}
	if len([]rune(content)) > MaxContentLength {
		return "", fmt.Errorf("message content exceeds %d characters", MaxContentLength)
	}
	return content, nil
}

// Conversation fetches one thread's messages as display bubbles, ordered
// oldest first, along with the total count for the pair.
func (s *Service) Conversation(ctx context.Context, userID uuid.UUID, kind ThreadKind, limit, offset int) ([]Bubble, int, error) {
	counterpartID, counterpartName, err := s.counterpart(ctx, userID, kind)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = DefaultConversationPage
	}

	msgs, total, err := s.repo.Conversation(ctx, userID, counterpartID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	bubbles := make([]Bubble, 0, len(msgs))
	for _, m := range msgs {
		bubbles = append(bubbles, s.toBubble(m, userID, counterpartName))
	}
	return bubbles, total, nil
}

// toBubble maps a stored row to its display form. Own messages always show
// as sent; read receipts are not surfaced to the sender.
func (s *Service) toBubble(m *Message, userID uuid.UUID, counterpartName string) Bubble {
	b := Bubble{
		ID:        m.ID.String(),
		Content:   m.Content,
		Timestamp: m.CreatedAt.Format("15:04"),
		SentAt:    m.CreatedAt,
	}

	if m.SenderUserID == userID {
		b.IsOwn = true
		b.Type = BubbleUser
		b.Status = StatusSent
		return b
	}

	switch Classify(m.SenderUserID, m.ReceiverUserID, s.aiID, uuid.Nil) {
	case KindAI:
		b.Type = BubbleAI
		b.SenderName = AIDisplayName
	default:
		if m.MessageTypeID == TypeFeedback {
			b.Type = BubbleSystem
		} else {
			b.Type = BubbleDoctor
		}
		b.SenderName = counterpartName
	}

	if m.IsRead {
		b.Status = StatusRead
	} else {
		b.Status = StatusDelivered
	}
	return b
}

// Send validates and persists a message from the user on the given thread.
// For the AI thread the receiver is always the assistant identity, whatever
// the caller passed. The stored row is returned with server-assigned id and
// timestamps.
func (s *Service) Send(ctx context.Context, userID uuid.UUID, kind ThreadKind, content string, typeID int) (*Message, error) {
	content, err := ValidateContent(content)
	if err != nil {
		return nil, err
	}
	counterpartID, _, err := s.counterpart(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	if typeID == 0 {
		typeID = TypeGeneral
	}

	m := &Message{
		SenderUserID:   userID,
		ReceiverUserID: counterpartID,
		MessageTypeID:  typeID,
		Content:        content,
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("user_id", userID.String()).
		Str("thread", string(kind)).
		Str("message_id", m.ID.String()).
		Msg("message stored")
	return m, nil
}

// RecordAssistantReply persists a completion as a message from the assistant
// identity to the user.
func (s *Service) RecordAssistantReply(ctx context.Context, userID uuid.UUID, content string) (*Message, error) {
	content, err := ValidateContent(content)
	if err != nil {
		return nil, err
	}

	m := &Message{
		SenderUserID:   s.aiID,
		ReceiverUserID: userID,
		MessageTypeID:  TypeAIEvaluation,
		Content:        content,
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UnreadCount returns how many messages from the thread counterpart the user
// has not read yet.
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID, kind ThreadKind) (int, error) {
	counterpartID, _, err := s.counterpart(ctx, userID, kind)
	if err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, userID, counterpartID)
}

// MarkThreadRead flags every unread message on the thread as read in one
// statement. A failure leaves server state untouched; callers must not clear
// badges optimistically.
func (s *Service) MarkThreadRead(ctx context.Context, userID uuid.UUID, kind ThreadKind) (int64, error) {
	counterpartID, _, err := s.counterpart(ctx, userID, kind)
	if err != nil {
		return 0, err
	}
	return s.repo.MarkConversationRead(ctx, userID, counterpartID)
}

// HasNewerThan reports whether the thread has any message created after the
// cursor. A zero cursor degenerates to an existence check; the first poll
// tick after login always refreshes once when history exists.
func (s *Service) HasNewerThan(ctx context.Context, userID uuid.UUID, kind ThreadKind, cursor time.Time) (bool, error) {
	counterpartID, _, err := s.counterpart(ctx, userID, kind)
	if err != nil {
		return false, err
	}
	if cursor.IsZero() {
		return s.repo.AnyBetween(ctx, userID, counterpartID)
	}
	n, err := s.repo.CountNewerThan(ctx, userID, counterpartID, cursor)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
