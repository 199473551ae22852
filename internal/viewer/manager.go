package viewer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-viewshed/internal/geolocate"
	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

// CookieName is the cookie carrying the session id.
const CookieName = "viewshed_session"

// DefaultIdleTTL is how long a session without streams or activity lives.
const DefaultIdleTTL = 30 * time.Minute

// Config configures the sessions a Manager creates.
type Config struct {
	Catalog *viewshed.Catalog
	// Styles maps each theme to its basemap; DefaultStyles when nil.
	Styles map[viewshed.Theme]string
	// Buffer is the per-stream patch buffer.
	Buffer int
	// IdleTTL is DefaultIdleTTL when zero.
	IdleTTL time.Duration
	// Geolocation overrides the locate policy options.
	Geolocation []geolocate.Option
	Log         zerolog.Logger
}

// Manager owns the live sessions.
type Manager struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.Catalog == nil {
		cfg.Catalog = viewshed.DefaultCatalog()
	}
	if cfg.Styles == nil {
		cfg.Styles = DefaultStyles
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.Log.With().Str("component", "viewer").Logger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Catalog returns the catalog sessions are built on.
func (m *Manager) Catalog() *viewshed.Catalog {
	return m.cfg.Catalog
}

// Styles returns the basemap per theme.
func (m *Manager) Styles() map[viewshed.Theme]string {
	return m.cfg.Styles
}

// Create starts a new session.
func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), Config{
		Catalog:     m.cfg.Catalog,
		Styles:      m.cfg.Styles,
		Buffer:      m.cfg.Buffer,
		Geolocation: m.cfg.Geolocation,
		Log:         m.log,
	}, m.now)

	m.mu.Lock()
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.log.Debug().Str("session", s.id).Int("sessions", n).Msg("session created")
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate returns the session with id, or a new one when id is unknown.
func (m *Manager) GetOrCreate(id string) (s *Session, created bool) {
	if s, ok := m.Get(id); ok {
		return s, false
	}
	return m.Create(), true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions that have been idle for at least the TTL and
// returns how many were evicted.
func (m *Manager) Sweep() int {
	now := m.now()
	var evicted []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idle(now) >= m.cfg.IdleTTL {
			delete(m.sessions, id)
			evicted = append(evicted, s)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.Close()
		m.log.Debug().Str("session", s.id).Msg("session evicted")
	}
	return len(evicted)
}

// Run sweeps idle sessions until ctx is done, then closes all sessions.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.IdleTTL / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Info().Int("evicted", n).Int("sessions", m.Len()).Msg("swept idle sessions")
			}
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
