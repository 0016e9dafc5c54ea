package ws

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestClient(userID uuid.UUID) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Topics: []string{ThreadTopic(userID), DashboardTopic(userID)},
		Send:   make(chan []byte, 8),
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	userID := uuid.New()
	client := newTestClient(userID)

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(ThreadTopic(userID)) != 1 {
		t.Errorf("expected 1 subscriber on thread topic, got %d", hub.TopicCount(ThreadTopic(userID)))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount(ThreadTopic(userID)) != 0 {
		t.Errorf("expected 0 subscribers after unregister, got %d", hub.TopicCount(ThreadTopic(userID)))
	}

	// Double unregister must not panic or close the channel twice
	hub.Unregister(client)
}

func TestHub_BroadcastReachesSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	userID := uuid.New()
	client := newTestClient(userID)
	hub.Register(client)

	hub.ThreadUpdated(userID, json.RawMessage(`{"thread":"ai"}`))

	select {
	case data := <-client.Send:
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if evt.Type != EventThreadUpdated {
			t.Errorf("expected type %s, got %s", EventThreadUpdated, evt.Type)
		}
		if evt.Topic != ThreadTopic(userID) {
			t.Errorf("expected topic %s, got %s", ThreadTopic(userID), evt.Topic)
		}
	default:
		t.Fatal("expected event on client send channel")
	}
}

func TestHub_BroadcastIsolatedPerUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	alice := uuid.New()
	bob := uuid.New()
	aliceClient := newTestClient(alice)
	bobClient := newTestClient(bob)
	hub.Register(aliceClient)
	hub.Register(bobClient)

	hub.DashboardUpdated(alice, nil)

	select {
	case <-aliceClient.Send:
	default:
		t.Error("expected alice to receive the event")
	}

	select {
	case <-bobClient.Send:
		t.Error("bob must not receive alice's dashboard event")
	default:
	}
}

func TestHub_BroadcastSkipsFullBuffers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	userID := uuid.New()
	client := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Topics: []string{ThreadTopic(userID)},
		Send:   make(chan []byte, 1),
	}
	hub.Register(client)

	// Fill the buffer, then broadcast again; the hub must not block.
	hub.ThreadUpdated(userID, nil)
	hub.ThreadUpdated(userID, nil)

	if got := len(client.Send); got != 1 {
		t.Errorf("expected 1 buffered event, got %d", got)
	}
}

func TestHub_BroadcastNoSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	// Must be a no-op, not a panic.
	hub.ThreadUpdated(uuid.New(), nil)
	hub.DashboardUpdated(uuid.New(), nil)
}
