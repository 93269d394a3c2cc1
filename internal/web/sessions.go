package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/logger"
)

// CookieName carries the browser's session identifier.
const CookieName = "parley_session"

const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultMaxSessions = 1000
)

// SessionFactory builds the conversation for a new browser session.
type SessionFactory func(id string) *chat.Session

type entry struct {
	sess     *chat.Session
	lastSeen time.Time
}

// Sessions maps browser session identifiers to conversations. Each browser
// gets its own chat.Session; requests sharing a cookie share the session.
//
// Only identifiers issued by the registry are honoured. Sessions idle for
// longer than the idle timeout are dropped, and once the registry is full the
// least recently used session makes room for a new one.
type Sessions struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	factory     SessionFactory
	idleTimeout time.Duration
	maxSessions int
	now         func() time.Time
}

// SessionsOption configures a Sessions registry.
type SessionsOption func(*Sessions)

// WithIdleTimeout drops sessions not seen for d. Zero disables expiry.
func WithIdleTimeout(d time.Duration) SessionsOption {
	return func(s *Sessions) { s.idleTimeout = d }
}

// WithMaxSessions caps the number of live sessions. Zero or less means
// DefaultMaxSessions.
func WithMaxSessions(n int) SessionsOption {
	return func(s *Sessions) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithSessionClock overrides the clock used for idle tracking.
func WithSessionClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) { s.now = now }
}

// NewSessions returns an empty registry.
func NewSessions(factory SessionFactory, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		sessions:    make(map[string]*entry),
		factory:     factory,
		idleTimeout: DefaultIdleTimeout,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the session for id if it exists and has not expired.
func (s *Sessions) Get(id string) (*chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok || s.expired(e, s.now()) {
		return nil, false
	}
	return e.sess, true
}

// Resolve returns the live session for id and refreshes its idle timer. When
// id is unknown or expired a new session is created under a fresh identifier;
// the returned id tells the caller which one it got.
func (s *Sessions) Resolve(id string) (string, *chat.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.sessions[id]; ok && !s.expired(e, now) {
		e.lastSeen = now
		return id, e.sess
	}

	s.purgeLocked(now)
	for len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked()
	}
	id = uuid.NewString()
	sess := s.factory(id)
	s.sessions[id] = &entry{sess: sess, lastSeen: now}
	return id, sess
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(s.now())
	return len(s.sessions)
}

func (s *Sessions) expired(e *entry, now time.Time) bool {
	return s.idleTimeout > 0 && now.Sub(e.lastSeen) > s.idleTimeout
}

func (s *Sessions) purgeLocked(now time.Time) {
	for id, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, id)
			logger.L.Debug("session expired", "session", id)
		}
	}
}

func (s *Sessions) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range s.sessions {
		if oldestID == "" || e.lastSeen.Before(oldest) {
			oldestID, oldest = id, e.lastSeen
		}
	}
	delete(s.sessions, oldestID)
	logger.L.Info("session evicted", "session", oldestID, "live", len(s.sessions))
}

type sessionKey struct{}

// withSession resolves the session cookie, issuing a new one when missing,
// unknown or expired, and stores the conversation in the request context.
func (s *Sessions) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var presented string
		if c, err := r.Cookie(CookieName); err == nil {
			presented = c.Value
		}
		id, sess := s.Resolve(presented)
		if id != presented {
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(ctx context.Context) *chat.Session {
	sess, _ := ctx.Value(sessionKey{}).(*chat.Session)
	return sess
}
