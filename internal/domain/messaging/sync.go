package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notifier publishes sync events to connected clients. The ws hub satisfies
// this interface.
type Notifier interface {
	ThreadUpdated(userID uuid.UUID, data json.RawMessage)
	DashboardUpdated(userID uuid.UUID, data json.RawMessage)
}

// localIDPrefix marks placeholder bubbles created by an in-flight send.
// Local ids can never collide with stored message ids.
const localIDPrefix = "local-"

type threadState struct {
	bubbles []Bubble
	// cursor is the created_at of the newest stored message this session
	// has seen for the thread. Zero until the first successful fetch.
	cursor  time.Time
	lastErr string
}

// SessionSync holds one authenticated session's view of both threads: the
// bubble lists, the per-thread cursors driving the poller, and the dashboard
// summary. All state is private to the session and rebuilt from the store;
// nothing here survives a restart.
type SessionSync struct {
	sessionID string
	userID    uuid.UUID
	svc       *Service
	notifier  Notifier
	interval  time.Duration
	logger    zerolog.Logger

	mu        sync.Mutex
	threads   map[ThreadKind]*threadState
	dashboard DashboardSummary
	hasDash   bool

	pollMu   sync.Mutex
	pollStop context.CancelFunc
}

func newSessionSync(sessionID string, userID uuid.UUID, svc *Service, notifier Notifier, interval time.Duration, logger zerolog.Logger) *SessionSync {
	return &SessionSync{
		sessionID: sessionID,
		userID:    userID,
		svc:       svc,
		notifier:  notifier,
		interval:  interval,
		logger: logger.With().
			Str("component", "session_sync").
			Str("user_id", userID.String()).
			Logger(),
		threads: map[ThreadKind]*threadState{
			KindDoctor: {},
			KindAI:     {},
		},
	}
}

// UserID returns the user this session belongs to.
func (s *SessionSync) UserID() uuid.UUID {
	return s.userID
}

// LoadThread re-fetches one thread and replaces its bubble list. Placeholder
// bubbles from in-flight sends are carried over; everything else is rebuilt
// from the store. On error the previous list is retained and the thread's
// error state is set.
func (s *SessionSync) LoadThread(ctx context.Context, kind ThreadKind) ([]Bubble, error) {
	bubbles, _, err := s.svc.Conversation(ctx, s.userID, kind, DefaultConversationPage, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.threads[kind]

	if err != nil {
		st.lastErr = err.Error()
		return copyBubbles(st.bubbles), err
	}

	st.bubbles = append(bubbles, pendingOf(st.bubbles)...)
	st.lastErr = ""
	if n := len(bubbles); n > 0 {
		if last := bubbles[n-1].SentAt; last.After(st.cursor) {
			st.cursor = last
		}
	}
	return copyBubbles(st.bubbles), nil
}

// Bubbles returns the current in-memory bubble list for a thread.
func (s *SessionSync) Bubbles(kind ThreadKind) []Bubble {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyBubbles(s.threads[kind].bubbles)
}

// ThreadError returns the thread's last error state, empty when healthy.
func (s *SessionSync) ThreadError(kind ThreadKind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[kind].lastErr
}

// Send performs an optimistic send: a placeholder bubble with a local id is
// appended immediately, the write is issued, and on success the placeholder
// is swapped for the stored row by local id. Validation failures create no
// placeholder; write failures remove it. Returns the final bubble.
func (s *SessionSync) Send(ctx context.Context, kind ThreadKind, content string, typeID int) (Bubble, error) {
	trimmed, err := ValidateContent(content)
	if err != nil {
		return Bubble{}, err
	}
	// Resolve the counterpart before creating the placeholder so a missing
	// doctor assignment rejects like any other validation failure.
	if _, _, err := s.svc.counterpart(ctx, s.userID, kind); err != nil {
		return Bubble{}, err
	}

	now := time.Now()
	placeholder := Bubble{
		ID:        localIDPrefix + uuid.NewString(),
		Content:   trimmed,
		Timestamp: now.Format("15:04"),
		SentAt:    now,
		IsOwn:     true,
		Type:      BubbleUser,
		Status:    StatusSending,
	}

	s.mu.Lock()
	st := s.threads[kind]
	st.bubbles = append(st.bubbles, placeholder)
	s.mu.Unlock()

	m, err := s.svc.Send(ctx, s.userID, kind, trimmed, typeID)
	if err != nil {
		s.mu.Lock()
		st.bubbles = removeBubble(st.bubbles, placeholder.ID)
		st.lastErr = err.Error()
		s.mu.Unlock()
		return Bubble{}, err
	}

	real := s.svc.toBubble(m, s.userID, "")

	s.mu.Lock()
	st.bubbles = reconcile(st.bubbles, placeholder.ID, real)
	st.lastErr = ""
	if m.CreatedAt.After(st.cursor) {
		st.cursor = m.CreatedAt
	}
	s.mu.Unlock()

	s.notifyThread(kind, real)
	if err := s.RefreshDashboard(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("dashboard refresh after send")
	}
	return real, nil
}

// MarkRead flags the thread's unread messages as read on the server, then
// updates the in-memory list. On failure nothing local changes; the badge
// keeps reflecting the last known server truth.
func (s *SessionSync) MarkRead(ctx context.Context, kind ThreadKind) error {
	updated, err := s.svc.MarkThreadRead(ctx, s.userID, kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	st := s.threads[kind]
	for i := range st.bubbles {
		if !st.bubbles[i].IsOwn && st.bubbles[i].Status == StatusDelivered {
			st.bubbles[i].Status = StatusRead
		}
	}
	s.mu.Unlock()

	if updated > 0 {
		if err := s.RefreshDashboard(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("dashboard refresh after mark read")
		}
	}
	return nil
}

// RefreshDashboard re-fetches both threads and recomputes their summaries.
// The two summaries are written under one lock so observers never see a
// half-updated dashboard. A failed thread fetch keeps that thread's previous
// summary; the other thread still publishes.
func (s *SessionSync) RefreshDashboard(ctx context.Context) error {
	summaries := make(map[ThreadKind]*ThreadSummary, 2)
	var firstErr error

	for _, kind := range []ThreadKind{KindDoctor, KindAI} {
		summary, err := s.refreshThread(ctx, kind)
		if err != nil {
			if errors.Is(err, ErrNoDoctor) {
				// No assignment yet; the doctor thread stays empty.
				continue
			}
			s.logger.Warn().Err(err).Str("thread", string(kind)).Msg("thread refresh failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		summaries[kind] = summary
	}

	s.mu.Lock()
	if doc, ok := summaries[KindDoctor]; ok {
		s.dashboard.Doctor = *doc
	}
	if ai, ok := summaries[KindAI]; ok {
		s.dashboard.AI = *ai
	}
	s.dashboard.Doctor.Kind = KindDoctor
	s.dashboard.AI.Kind = KindAI
	s.dashboard.RefreshedAt = time.Now()
	s.hasDash = true
	snapshot := s.dashboard
	s.mu.Unlock()

	if data, err := json.Marshal(snapshot); err == nil {
		s.notifier.DashboardUpdated(s.userID, data)
	}
	return firstErr
}

// refreshThread re-fetches one thread and derives its summary.
func (s *SessionSync) refreshThread(ctx context.Context, kind ThreadKind) (*ThreadSummary, error) {
	bubbles, _, err := s.svc.Conversation(ctx, s.userID, kind, DefaultConversationPage, 0)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	st := s.threads[kind]
	st.bubbles = append(bubbles, pendingOf(st.bubbles)...)
	st.lastErr = ""
	if n := len(bubbles); n > 0 {
		if last := bubbles[n-1].SentAt; last.After(st.cursor) {
			st.cursor = last
		}
	}
	s.mu.Unlock()

	summary := summarize(kind, bubbles)
	if kind == KindDoctor {
		if d, err := s.svc.Doctor(ctx, s.userID); err == nil {
			summary.CounterpartName = d.DisplayName
		}
	} else {
		summary.CounterpartName = AIDisplayName
	}
	return summary, nil
}

// Dashboard returns the current summary, refreshing first if none has been
// computed yet.
func (s *SessionSync) Dashboard(ctx context.Context) (DashboardSummary, error) {
	s.mu.Lock()
	has := s.hasDash
	snapshot := s.dashboard
	s.mu.Unlock()

	if has {
		return snapshot, nil
	}
	if err := s.RefreshDashboard(ctx); err != nil {
		return DashboardSummary{}, err
	}

	s.mu.Lock()
	snapshot = s.dashboard
	s.mu.Unlock()
	return snapshot, nil
}

// StartPolling begins the recurring change check. Calling it again cancels
// the previous loop first, so at most one loop runs per session.
func (s *SessionSync) StartPolling(ctx context.Context) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if s.pollStop != nil {
		s.pollStop()
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.pollStop = cancel

	go s.pollLoop(pollCtx)
	s.logger.Debug().Dur("interval", s.interval).Msg("polling started")
}

// StopPolling cancels the poll loop. Safe to call repeatedly and when not
// running.
func (s *SessionSync) StopPolling() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if s.pollStop != nil {
		s.pollStop()
		s.pollStop = nil
		s.logger.Debug().Msg("polling stopped")
	}
}

// Polling reports whether a poll loop is active.
func (s *SessionSync) Polling() bool {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return s.pollStop != nil
}

func (s *SessionSync) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollTick(ctx)
		}
	}
}

// pollTick runs one change check. Each thread is asked whether anything
// newer than its cursor exists; any hit triggers one full dashboard refresh.
// Tick failures are logged and the loop keeps running.
func (s *SessionSync) pollTick(ctx context.Context) {
	changed := false
	changedKinds := make([]ThreadKind, 0, 2)

	for _, kind := range []ThreadKind{KindDoctor, KindAI} {
		s.mu.Lock()
		cursor := s.threads[kind].cursor
		s.mu.Unlock()

		has, err := s.svc.HasNewerThan(ctx, s.userID, kind, cursor)
		if err != nil {
			if !errors.Is(err, ErrNoDoctor) {
				s.logger.Warn().Err(err).Str("thread", string(kind)).Msg("poll check failed")
			}
			continue
		}
		if has {
			changed = true
			changedKinds = append(changedKinds, kind)
		}
	}

	if !changed {
		return
	}
	if err := s.RefreshDashboard(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("poll refresh failed")
	}
	for _, kind := range changedKinds {
		s.notifyThread(kind, Bubble{})
	}
}

func (s *SessionSync) notifyThread(kind ThreadKind, latest Bubble) {
	payload := struct {
		Thread ThreadKind `json:"thread"`
		Latest *Bubble    `json:"latest,omitempty"`
	}{Thread: kind}
	if latest.ID != "" {
		payload.Latest = &latest
	}
	if data, err := json.Marshal(payload); err == nil {
		s.notifier.ThreadUpdated(s.userID, data)
	}
}

func copyBubbles(in []Bubble) []Bubble {
	out := make([]Bubble, len(in))
	copy(out, in)
	return out
}

// pendingOf extracts placeholders that have not been reconciled yet so a
// full re-fetch does not drop an in-flight send.
func pendingOf(bubbles []Bubble) []Bubble {
	var pending []Bubble
	for _, b := range bubbles {
		if b.Status == StatusSending && strings.HasPrefix(b.ID, localIDPrefix) {
			pending = append(pending, b)
		}
	}
	return pending
}

func removeBubble(bubbles []Bubble, id string) []Bubble {
	for i, b := range bubbles {
		if b.ID == id {
			return append(bubbles[:i], bubbles[i+1:]...)
		}
	}
	return bubbles
}

// reconcile swaps the placeholder for the stored bubble, matching by local
// id only. If the placeholder is gone the stored bubble is appended unless
// its id is already present, so reconciliation never duplicates.
func reconcile(bubbles []Bubble, placeholderID string, real Bubble) []Bubble {
	for i, b := range bubbles {
		if b.ID == placeholderID {
			bubbles[i] = real
			return bubbles
		}
	}
	for _, b := range bubbles {
		if b.ID == real.ID {
			return bubbles
		}
	}
	return append(bubbles, real)
}

// summarize derives the dashboard digest from an ordered bubble list.
func summarize(kind ThreadKind, bubbles []Bubble) *ThreadSummary {
	summary := &ThreadSummary{Kind: kind}
	if len(bubbles) == 0 {
		return summary
	}

	latest := bubbles[len(bubbles)-1]
	summary.LatestMessage = &latest

	for i := len(bubbles) - 1; i >= 0; i-- {
		b := bubbles[i]
		if !b.IsOwn && b.Status != StatusRead {
			summary.UnreadCount++
			if summary.LastUnread == nil {
				unread := b
				summary.LastUnread = &unread
			}
		}
	}
	return summary
}
