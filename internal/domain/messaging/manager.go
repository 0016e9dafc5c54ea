package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionManager owns one SessionSync per authenticated session. Attaching a
// session for a user stops and replaces any sync that user already had, so a
// user switch can never leave a stale poll loop running.
type SessionManager struct {
	svc      *Service
	notifier Notifier
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*SessionSync
	byUser   map[uuid.UUID]string

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSessionManager(svc *Service, notifier Notifier, interval time.Duration, logger zerolog.Logger) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		svc:      svc,
		notifier: notifier,
		interval: interval,
		logger:   logger.With().Str("component", "session_manager").Logger(),
		sessions: make(map[string]*SessionSync),
		byUser:   make(map[uuid.UUID]string),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Attach creates the session's sync state and starts its poll loop. Any
// previous session for the same user, and any previous sync under the same
// session id, is stopped first.
func (m *SessionManager) Attach(sessionID string, userID uuid.UUID) {
	m.mu.Lock()

	if prevID, ok := m.byUser[userID]; ok {
		if prev, ok := m.sessions[prevID]; ok {
			prev.StopPolling()
			delete(m.sessions, prevID)
		}
	}
	if prev, ok := m.sessions[sessionID]; ok {
		prev.StopPolling()
		delete(m.byUser, prev.userID)
	}

	sync := newSessionSync(sessionID, userID, m.svc, m.notifier, m.interval, m.logger)
	m.sessions[sessionID] = sync
	m.byUser[userID] = sessionID
	// Started under the manager lock so a concurrent Attach for the same
	// user cannot evict this sync before its loop exists; eviction must
	// always find a running loop to stop.
	sync.StartPolling(m.ctx)
	m.mu.Unlock()

	m.logger.Info().Str("user_id", userID.String()).Msg("session attached")
}

// Detach stops the session's poll loop and drops its state. Safe for unknown
// session ids.
func (m *SessionManager) Detach(sessionID string) {
	m.mu.Lock()
	sync, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		if m.byUser[sync.userID] == sessionID {
			delete(m.byUser, sync.userID)
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	sync.StopPolling()
	m.svc.ForgetDoctor(sync.userID)
	m.logger.Info().Str("user_id", sync.userID.String()).Msg("session detached")
}

// ForSession returns the sync for a session id, creating it when the server
// restarted after the token was issued.
func (m *SessionManager) ForSession(sessionID string, userID uuid.UUID) *SessionSync {
	m.mu.Lock()
	sync, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		return sync
	}

	m.Attach(sessionID, userID)

	m.mu.Lock()
	sync = m.sessions[sessionID]
	m.mu.Unlock()
	return sync
}

// ForUser returns the active sync for a user, or nil.
func (m *SessionManager) ForUser(userID uuid.UUID) *SessionSync {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sid, ok := m.byUser[userID]; ok {
		return m.sessions[sid]
	}
	return nil
}

// RefreshUser recomputes and republishes the user's dashboard. Used after
// out-of-band writes such as an assistant reply landing. No-op when the user
// has no active session.
func (m *SessionManager) RefreshUser(ctx context.Context, userID uuid.UUID) {
	sync := m.ForUser(userID)
	if sync == nil {
		return
	}
	if err := sync.RefreshDashboard(ctx); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("refresh user dashboard")
	}
	sync.notifyThread(KindAI, Bubble{})
}

// ActiveSessions returns the number of attached sessions.
func (m *SessionManager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every poll loop.
func (m *SessionManager) Shutdown() {
	m.cancel()

	m.mu.Lock()
	sessions := make([]*SessionSync, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*SessionSync)
	m.byUser = make(map[uuid.UUID]string)
	m.mu.Unlock()

	for _, s := range sessions {
		s.StopPolling()
	}
}
