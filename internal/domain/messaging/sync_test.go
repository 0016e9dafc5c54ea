package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestSync_Send_OptimisticLifecycle(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()

	// Hold the insert so the placeholder is observable mid-flight.
	gate := make(chan struct{})
	f.repo.insertGate = gate

	done := make(chan Bubble, 1)
	go func() {
		b, err := sync.Send(context.Background(), KindDoctor, "Merhaba", TypeGeneral)
		if err != nil {
			t.Errorf("send: %v", err)
		}
		done <- b
	}()

	// Wait for the placeholder to appear.
	deadline := time.Now().Add(2 * time.Second)
	var placeholder Bubble
	for {
		bubbles := sync.Bubbles(KindDoctor)
		if len(bubbles) == 1 {
			placeholder = bubbles[0]
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("placeholder never appeared")
		}
		time.Sleep(time.Millisecond)
	}

	if placeholder.Content != "Merhaba" || placeholder.Status != StatusSending || !placeholder.IsOwn {
		t.Errorf("placeholder wrong: %+v", placeholder)
	}

	close(gate)
	final := <-done

	bubbles := sync.Bubbles(KindDoctor)
	if len(bubbles) != 1 {
		t.Fatalf("expected exactly 1 bubble after reconciliation, got %d", len(bubbles))
	}
	got := bubbles[0]
	if got.Status != StatusSent {
		t.Errorf("expected status sent, got %q", got.Status)
	}
	if got.ID == placeholder.ID || got.ID == "" {
		t.Errorf("expected server-assigned id, got %q", got.ID)
	}
	if got.ID != final.ID || got.Content != "Merhaba" {
		t.Errorf("reconciled bubble mismatch: %+v vs %+v", got, final)
	}
}

func TestSync_Send_EmptyContentRejected(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()

	_, err := sync.Send(context.Background(), KindDoctor, "   ", TypeGeneral)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(sync.Bubbles(KindDoctor)) != 0 {
		t.Error("validation failure must not leave a placeholder")
	}
	if f.repo.insertCalls != 0 {
		t.Errorf("validation failure must not hit the store, got %d inserts", f.repo.insertCalls)
	}
}

func TestSync_Send_FailureRollsBackPlaceholder(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()

	f.repo.insertErr = errors.New("store unavailable")

	_, err := sync.Send(context.Background(), KindDoctor, "Merhaba", TypeGeneral)
	if err == nil {
		t.Fatal("expected send error")
	}
	if len(sync.Bubbles(KindDoctor)) != 0 {
		t.Error("failed send must remove its placeholder")
	}
	if sync.ThreadError(KindDoctor) == "" {
		t.Error("expected thread error state after failed send")
	}
}

func TestSync_Send_ReconciliationIdempotent(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()

	if _, err := sync.Send(context.Background(), KindDoctor, "aynı metin", TypeGeneral); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := sync.Send(context.Background(), KindDoctor, "aynı metin", TypeGeneral); err != nil {
		t.Fatalf("second send: %v", err)
	}

	// Same text twice: reconciliation matches by placeholder id, so both
	// sends survive with distinct server ids.
	bubbles := sync.Bubbles(KindDoctor)
	if len(bubbles) != 2 {
		t.Fatalf("expected 2 bubbles, got %d", len(bubbles))
	}
	if bubbles[0].ID == bubbles[1].ID {
		t.Error("expected distinct server ids")
	}
	for _, b := range bubbles {
		if b.Status != StatusSent {
			t.Errorf("expected sent status, got %q", b.Status)
		}
	}
}

func TestSync_UnreadBadgeLifecycle(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()
	ctx := context.Background()

	f.repo.seed(f.doctorID, f.userID, "tahlil sonuçlarınız geldi", false)
	f.repo.seed(f.doctorID, f.userID, "kontrole bekliyorum", false)

	if _, err := sync.LoadThread(ctx, KindDoctor); err != nil {
		t.Fatalf("load: %v", err)
	}

	dash, err := sync.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.Doctor.UnreadCount != 2 {
		t.Fatalf("expected unread count 2, got %d", dash.Doctor.UnreadCount)
	}
	if dash.Doctor.LastUnread == nil || dash.Doctor.LastUnread.Content != "kontrole bekliyorum" {
		t.Errorf("expected newest unread surfaced, got %+v", dash.Doctor.LastUnread)
	}

	if err := sync.MarkRead(ctx, KindDoctor); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	dash, err = sync.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard after read: %v", err)
	}
	if dash.Doctor.UnreadCount != 0 {
		t.Errorf("expected unread count 0 after mark read, got %d", dash.Doctor.UnreadCount)
	}
	if n, _ := f.repo.CountUnread(ctx, f.userID, f.doctorID); n != 0 {
		t.Errorf("server still has %d unread rows", n)
	}
}

func TestSync_PollNoOpWhenCursorCurrent(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()
	ctx := context.Background()

	f.repo.seed(f.doctorID, f.userID, "merhaba", false)
	if _, err := sync.LoadThread(ctx, KindDoctor); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := sync.LoadThread(ctx, KindAI); err != nil {
		t.Fatalf("load ai: %v", err)
	}
	// Prime the dashboard so a tick with no changes has nothing to do.
	if err := sync.RefreshDashboard(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	f.repo.resetCalls()
	before := f.notifier.dashboardCount()

	sync.pollTick(ctx)

	if calls := f.repo.conversationCalls(); calls != 0 {
		t.Errorf("poll tick without new messages must not re-fetch, got %d fetches", calls)
	}
	if f.notifier.dashboardCount() != before {
		t.Error("poll tick without new messages must not publish a dashboard")
	}
}

func TestSync_PollDetectsNewMessage(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()
	ctx := context.Background()

	f.repo.seed(f.doctorID, f.userID, "ilk mesaj", false)
	if _, err := sync.LoadThread(ctx, KindDoctor); err != nil {
		t.Fatalf("load: %v", err)
	}

	f.repo.seed(f.doctorID, f.userID, "yeni mesaj", false)
	before := f.notifier.dashboardCount()

	sync.pollTick(ctx)

	if f.notifier.dashboardCount() != before+1 {
		t.Error("expected one dashboard publish after new message detected")
	}
	bubbles := sync.Bubbles(KindDoctor)
	if len(bubbles) != 2 {
		t.Errorf("expected refreshed thread with 2 bubbles, got %d", len(bubbles))
	}
}

func TestSync_PollFirstRunRefreshesWhenHistoryExists(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()
	ctx := context.Background()

	// Cursor unset: the check degenerates to "does anything exist".
	f.repo.seed(f.doctorID, f.userID, "eski mesaj", true)

	sync.pollTick(ctx)

	if f.notifier.dashboardCount() != 1 {
		t.Fatalf("expected one conservative refresh on first run, got %d", f.notifier.dashboardCount())
	}

	// Cursor now set; a second tick is a no-op.
	f.repo.resetCalls()
	sync.pollTick(ctx)
	if calls := f.repo.conversationCalls(); calls != 0 {
		t.Errorf("second tick should be a no-op, got %d fetches", calls)
	}
}

func TestSync_PartialDashboardFailureIsolation(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()
	ctx := context.Background()

	f.repo.seed(f.doctorID, f.userID, "doktor mesajı", false)
	f.repo.seed(f.aiID, f.userID, "asistan mesajı", false)

	if err := sync.RefreshDashboard(ctx); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}

	// AI fetches now fail; the doctor side must still publish and the AI
	// summary must keep its previous value.
	f.repo.failPair[f.aiID] = errors.New("ai fetch down")
	f.repo.seed(f.doctorID, f.userID, "ikinci doktor mesajı", false)

	err := sync.RefreshDashboard(ctx)
	if err == nil {
		t.Fatal("expected refresh to report the ai failure")
	}

	dash, derr := sync.Dashboard(ctx)
	if derr != nil {
		t.Fatalf("dashboard: %v", derr)
	}
	if dash.Doctor.UnreadCount != 2 {
		t.Errorf("doctor summary not updated despite healthy fetch: %+v", dash.Doctor)
	}
	if dash.AI.LatestMessage == nil || dash.AI.LatestMessage.Content != "asistan mesajı" {
		t.Errorf("ai summary should retain prior value, got %+v", dash.AI.LatestMessage)
	}
}

func TestSync_LoadThreadErrorRetainsPrevious(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()
	ctx := context.Background()

	f.repo.seed(f.doctorID, f.userID, "merhaba", false)
	if _, err := sync.LoadThread(ctx, KindDoctor); err != nil {
		t.Fatalf("load: %v", err)
	}

	f.repo.failPair[f.doctorID] = errors.New("store down")

	bubbles, err := sync.LoadThread(ctx, KindDoctor)
	if err == nil {
		t.Fatal("expected load error")
	}
	if len(bubbles) != 1 {
		t.Errorf("previous list must be retained on error, got %d bubbles", len(bubbles))
	}
	if sync.ThreadError(KindDoctor) == "" {
		t.Error("expected thread error state")
	}

	// Recovery clears the error state.
	delete(f.repo.failPair, f.doctorID)
	if _, err := sync.LoadThread(ctx, KindDoctor); err != nil {
		t.Fatalf("recovery load: %v", err)
	}
	if sync.ThreadError(KindDoctor) != "" {
		t.Error("expected error state cleared after successful load")
	}
}

func TestSync_NoDoctorThreadNoOps(t *testing.T) {
	f := newFixture(false)
	sync := f.newSync()
	ctx := context.Background()

	// Loading the doctor thread without an assignment errors with
	// ErrNoDoctor; the poll tick and dashboard treat it as an empty
	// thread rather than a failure.
	if _, err := sync.LoadThread(ctx, KindDoctor); !errors.Is(err, ErrNoDoctor) {
		t.Fatalf("expected ErrNoDoctor, got %v", err)
	}

	sync.pollTick(ctx)

	if err := sync.RefreshDashboard(ctx); err != nil {
		t.Fatalf("refresh with no doctor must not fail: %v", err)
	}
}

func TestSync_StopPollingIdempotent(t *testing.T) {
	f := newFixture(true)
	sync := f.newSync()

	sync.StopPolling()
	sync.StartPolling(context.Background())
	if !sync.Polling() {
		t.Fatal("expected polling active")
	}
	sync.StopPolling()
	sync.StopPolling()
	if sync.Polling() {
		t.Fatal("expected polling stopped")
	}
}

func TestManager_AttachReplacesPriorSession(t *testing.T) {
	f := newFixture(true)
	m := NewSessionManager(f.svc, f.notifier, 10*time.Millisecond, zerolog.Nop())
	defer m.Shutdown()

	m.Attach("sess-1", f.userID)
	first := m.ForUser(f.userID)
	if first == nil || !first.Polling() {
		t.Fatal("expected first session polling")
	}

	// Re-login: the old session's poller must stop, exactly one remains.
	m.Attach("sess-2", f.userID)
	if first.Polling() {
		t.Error("prior session still polling after replacement")
	}
	if m.ActiveSessions() != 1 {
		t.Errorf("expected 1 active session, got %d", m.ActiveSessions())
	}
	second := m.ForUser(f.userID)
	if second == nil || second == first || !second.Polling() {
		t.Error("expected a fresh polling session for the new login")
	}
}

func TestManager_AttachDifferentUsers(t *testing.T) {
	f := newFixture(true)
	m := NewSessionManager(f.svc, f.notifier, 10*time.Millisecond, zerolog.Nop())
	defer m.Shutdown()

	userB := uuid.New()
	m.Attach("sess-a", f.userID)
	m.Attach("sess-b", userB)

	if m.ActiveSessions() != 2 {
		t.Errorf("independent users keep independent sessions, got %d", m.ActiveSessions())
	}
}

func TestManager_DetachStopsPolling(t *testing.T) {
	f := newFixture(true)
	m := NewSessionManager(f.svc, f.notifier, 10*time.Millisecond, zerolog.Nop())
	defer m.Shutdown()

	m.Attach("sess-1", f.userID)
	sync := m.ForUser(f.userID)

	m.Detach("sess-1")
	if sync.Polling() {
		t.Error("expected polling stopped after detach")
	}
	if m.ForUser(f.userID) != nil {
		t.Error("expected session removed")
	}

	// Unknown and repeated detaches are safe.
	m.Detach("sess-1")
	m.Detach("never-existed")
}

func TestManager_ForSessionRecreatesAfterRestart(t *testing.T) {
	f := newFixture(true)
	m := NewSessionManager(f.svc, f.notifier, 10*time.Millisecond, zerolog.Nop())
	defer m.Shutdown()

	// A valid token arrives for a session the manager has never seen,
	// e.g. after a server restart.
	sync := m.ForSession("sess-lost", f.userID)
	if sync == nil {
		t.Fatal("expected session recreated")
	}
	if !sync.Polling() {
		t.Error("recreated session should poll")
	}
}

func TestManager_RefreshUser(t *testing.T) {
	f := newFixture(true)
	m := NewSessionManager(f.svc, f.notifier, 10*time.Millisecond, zerolog.Nop())
	defer m.Shutdown()

	// No session: no-op, no panic.
	m.RefreshUser(context.Background(), f.userID)

	m.Attach("sess-1", f.userID)
	f.repo.seed(f.aiID, f.userID, "asistan cevabı", false)

	before := f.notifier.dashboardCount()
	m.RefreshUser(context.Background(), f.userID)
	if f.notifier.dashboardCount() != before+1 {
		t.Error("expected dashboard publish on refresh")
	}
}

func TestManager_ConcurrentAttachSameUser(t *testing.T) {
	f := newFixture(true)
	m := NewSessionManager(f.svc, f.notifier, time.Hour, zerolog.Nop())
	defer m.Shutdown()

	baseline := runtime.NumGoroutine()

	// Race many attaches for one user; each eviction must find a running
	// loop to stop, or the loser leaks its poller.
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.Attach(fmt.Sprintf("sess-a-%d", i), f.userID)
		}(i)
		go func(i int) {
			defer wg.Done()
			m.Attach(fmt.Sprintf("sess-b-%d", i), f.userID)
		}(i)
	}
	wg.Wait()

	if n := m.ActiveSessions(); n != 1 {
		t.Fatalf("expected 1 surviving session, got %d", n)
	}
	winner := m.ForUser(f.userID)
	if winner == nil || !winner.Polling() {
		t.Fatal("surviving session must be polling")
	}

	// After detaching the winner no poll loop may remain.
	m.Detach(winner.sessionID)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && runtime.NumGoroutine() > baseline+1 {
		time.Sleep(10 * time.Millisecond)
	}
	if n := runtime.NumGoroutine(); n > baseline+1 {
		t.Errorf("poll loops leaked: %d goroutines, baseline %d", n, baseline)
	}
}
