// Package push dispatches mobile push notifications to patients' registered
// devices. Delivery transport stays behind the Sender interface; the manager
// owns token lookup, in-memory dispatch records, and retries.
package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender is the interface to the push delivery service (FCM or similar).
type Sender interface {
	Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

// Notification records a single push dispatch attempt.
type Notification struct {
	ID          string            `json:"id"`
	UserID      uuid.UUID         `json:"user_id"`
	DeviceToken string            `json:"-"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	SentAt      *time.Time        `json:"sent_at,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// TokenStore resolves the registered device tokens for a user.
type TokenStore interface {
	TokensForUser(ctx context.Context, userID uuid.UUID) ([]string, error)
	SaveToken(ctx context.Context, userID uuid.UUID, token, platform string) error
	DeleteToken(ctx context.Context, userID uuid.UUID, token string) error
}

// Manager orchestrates sending and retrying push notifications.
type Manager struct {
	sender Sender
	tokens TokenStore

	mu      sync.RWMutex
	records map[string]*Notification
}

func NewManager(sender Sender, tokens TokenStore) *Manager {
	return &Manager{
		sender:  sender,
		tokens:  tokens,
		records: make(map[string]*Notification),
	}
}

// NotifyUser sends a push notification to every device registered for the
// user. A user with no registered devices is not an error. The first delivery
// failure is returned, but remaining devices are still attempted.
func (m *Manager) NotifyUser(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string) error {
	tokens, err := m.tokens.TokensForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup device tokens: %w", err)
	}

	var firstErr error
	for _, token := range tokens {
		n := &Notification{
			ID:          uuid.NewString(),
			UserID:      userID,
			DeviceToken: token,
			Title:       title,
			Body:        body,
			Data:        data,
			Status:      "pending",
			CreatedAt:   time.Now().UTC(),
		}

		sendErr := m.sender.Send(ctx, token, title, body, data)
		if sendErr != nil {
			n.Status = "failed"
			n.Error = sendErr.Error()
			if firstErr == nil {
				firstErr = sendErr
			}
		} else {
			n.Status = "sent"
			sentAt := time.Now().UTC()
			n.SentAt = &sentAt
		}

		m.mu.Lock()
		m.records[n.ID] = n
		m.mu.Unlock()
	}

	return firstErr
}

// Retry re-sends a failed notification. Returns an error if the notification
// is not in "failed" status.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	n, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification %q not found", id)
	}
	if n.Status != "failed" {
		return fmt.Errorf("notification %q is not in failed status (current: %s)", id, n.Status)
	}

	sendErr := m.sender.Send(ctx, n.DeviceToken, n.Title, n.Body, n.Data)

	m.mu.Lock()
	if sendErr != nil {
		n.Status = "failed"
		n.Error = sendErr.Error()
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
		n.Error = ""
	}
	m.mu.Unlock()

	return sendErr
}

// Get retrieves a dispatch record by id.
func (m *Manager) Get(id string) (*Notification, error) {
	m.mu.RLock()
	n, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("notification %q not found", id)
	}
	return n, nil
}

// ListByUser returns dispatch records for a user, up to limit.
func (m *Manager) ListByUser(userID uuid.UUID, limit int) []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Notification
	for _, n := range m.records {
		if n.UserID == userID {
			result = append(result, n)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

// Stats returns counts of dispatch records grouped by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range m.records {
		stats[n.Status]++
	}
	return stats
}

// ---------------------------------------------------------------------------
// Mock sender (test double)
// ---------------------------------------------------------------------------

// Call records a single call to Send.
type Call struct {
	DeviceToken string
	Title       string
	Body        string
	Data        map[string]string
}

// MockSender is a test double for Sender.
type MockSender struct {
	mu         sync.Mutex
	calls      []Call
	ShouldFail bool
	FailError  string
}

// Send records the call and optionally returns an error.
func (m *MockSender) Send(_ context.Context, deviceToken, title, body string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{DeviceToken: deviceToken, Title: title, Body: body, Data: data})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockSender) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
