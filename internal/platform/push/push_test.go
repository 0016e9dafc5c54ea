package push

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// mockTokenStore is an in-memory TokenStore.
type mockTokenStore struct {
	mu     sync.Mutex
	tokens map[uuid.UUID][]string
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: make(map[uuid.UUID][]string)}
}

func (m *mockTokenStore) TokensForUser(_ context.Context, userID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens[userID]...), nil
}

func (m *mockTokenStore) SaveToken(_ context.Context, userID uuid.UUID, token, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = append(m.tokens[userID], token)
	return nil
}

func (m *mockTokenStore) DeleteToken(_ context.Context, userID uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []string
	for _, t := range m.tokens[userID] {
		if t != token {
			kept = append(kept, t)
		}
	}
	m.tokens[userID] = kept
	return nil
}

func TestManager_NotifyUser_AllDevices(t *testing.T) {
	ctx := context.Background()
	store := newMockTokenStore()
	userID := uuid.New()
	store.SaveToken(ctx, userID, "device-1", "android")
	store.SaveToken(ctx, userID, "device-2", "ios")

	sender := &MockSender{}
	mgr := NewManager(sender, store)

	err := mgr.NotifyUser(ctx, userID, "Yeni mesaj", "Doktorunuzdan yeni bir mesajiniz var", map[string]string{"thread": "doctor"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := sender.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(calls))
	}
	if calls[0].Title != "Yeni mesaj" {
		t.Errorf("unexpected title: %s", calls[0].Title)
	}
	if calls[0].Data["thread"] != "doctor" {
		t.Errorf("unexpected data payload: %v", calls[0].Data)
	}
}

func TestManager_NotifyUser_NoDevices(t *testing.T) {
	mgr := NewManager(&MockSender{}, newMockTokenStore())

	if err := mgr.NotifyUser(context.Background(), uuid.New(), "title", "body", nil); err != nil {
		t.Fatalf("expected no error for user without devices, got %v", err)
	}
}

func TestManager_NotifyUser_RecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := newMockTokenStore()
	userID := uuid.New()
	store.SaveToken(ctx, userID, "device-1", "android")

	sender := &MockSender{ShouldFail: true, FailError: "fcm unavailable"}
	mgr := NewManager(sender, store)

	err := mgr.NotifyUser(ctx, userID, "title", "body", nil)
	if err == nil {
		t.Fatal("expected delivery error")
	}

	stats := mgr.Stats()
	if stats["failed"] != 1 {
		t.Errorf("expected 1 failed record, got %d", stats["failed"])
	}
}

func TestManager_Retry(t *testing.T) {
	ctx := context.Background()
	store := newMockTokenStore()
	userID := uuid.New()
	store.SaveToken(ctx, userID, "device-1", "android")

	sender := &MockSender{ShouldFail: true, FailError: "fcm unavailable"}
	mgr := NewManager(sender, store)
	_ = mgr.NotifyUser(ctx, userID, "title", "body", nil)

	records := mgr.ListByUser(userID, 10)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	// Delivery recovers; retry should succeed.
	sender.ShouldFail = false
	if err := mgr.Retry(ctx, records[0].ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := mgr.Get(records[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != "sent" {
		t.Errorf("expected status sent after retry, got %s", n.Status)
	}
	if n.Error != "" {
		t.Errorf("expected cleared error, got %q", n.Error)
	}
}

func TestManager_Retry_RejectsNonFailed(t *testing.T) {
	ctx := context.Background()
	store := newMockTokenStore()
	userID := uuid.New()
	store.SaveToken(ctx, userID, "device-1", "android")

	mgr := NewManager(&MockSender{}, store)
	_ = mgr.NotifyUser(ctx, userID, "title", "body", nil)

	records := mgr.ListByUser(userID, 10)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	if err := mgr.Retry(ctx, records[0].ID); err == nil {
		t.Error("expected error retrying a sent notification")
	}
}

func TestManager_Retry_UnknownID(t *testing.T) {
	mgr := NewManager(&MockSender{}, newMockTokenStore())
	if err := mgr.Retry(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown notification id")
	}
}
