// Package chat maintains the follow-up conversation tied to one reading,
// across language switches and view remounts, without losing prior turns
// unless explicitly instructed.
package chat

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arcanaday/arcana-session/internal/backend"
	"github.com/arcanaday/arcana-session/internal/domain"
	"github.com/arcanaday/arcana-session/internal/liveness"
	"github.com/google/uuid"
)

// State is the chat session lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateSending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateSending:
		return "sending"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrNotReady      = errors.New("chat session is not ready")
	ErrAlreadyClosed = errors.New("chat session is closed")
)

// Manager owns one chat transcript and its backend session binding. The
// transcript is the authoritative append log: entries are never reordered,
// retracted, or deduplicated. The session identifier is language-bound;
// switching languages discards it and starts a new backend session while
// the visible transcript survives.
type Manager struct {
	client *backend.Client
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	sessionID  string
	context    backend.StartChatRequest
	transcript []domain.ChatMessage

	watchers map[int]chan domain.ChatMessage
	nextID   int
}

// NewManager creates an uninitialized chat manager.
func NewManager(client *backend.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:   client,
		logger:   logger,
		watchers: map[int]chan domain.ChatMessage{},
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the opaque backend session identifier, or "" before the
// first successful start.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Transcript returns a copy of the append log for rendering or persistence.
func (m *Manager) Transcript() []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChatMessage, len(m.transcript))
	copy(out, m.transcript)
	return out
}

// Start opens a backend session carrying the full reading context and
// appends the assistant's opening message. No-op error when already closed.
func (m *Manager) Start(scope *liveness.Scope, req backend.StartChatRequest) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.state = StateStarting
	m.context = req
	m.mu.Unlock()

	sessionID, opening, err := m.client.StartChat(scope, req)
	if err != nil {
		if backend.IsStale(err) {
			return err
		}
		m.mu.Lock()
		m.state = StateUninitialized
		m.mu.Unlock()
		return err
	}

	committed := scope.Commit(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.sessionID = sessionID
		m.state = StateReady
		m.append(domain.ChatMessage{
			ID:        uuid.NewString(),
			Role:      domain.RoleAssistant,
			Content:   opening,
			Language:  req.Language,
			Timestamp: time.Now(),
		})
	})
	if !committed {
		return backend.ErrStale
	}
	return nil
}

// Resume enters Ready directly with caller-supplied history, skipping the
// session-start call entirely. A previously issued session id may be passed
// along; when it is empty the next Send lazily opens a fresh session.
func (m *Manager) Resume(req backend.StartChatRequest, history []domain.ChatMessage, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.context = req
	m.sessionID = sessionID
	m.transcript = append([]domain.ChatMessage(nil), history...)
	m.state = StateReady
}

// Send appends the user message optimistically, then delivers it. On success
// the assistant's reply is appended; on failure an error-role entry is
// appended instead. The user's message is never retracted. A result arriving
// after scope teardown mutates nothing.
func (m *Manager) Send(scope *liveness.Scope, text string) error {
	m.mu.Lock()
	if m.state != StateReady {
		state := m.state
		m.mu.Unlock()
		if state == StateClosed {
			return ErrAlreadyClosed
		}
		return ErrNotReady
	}
	language := m.context.Language
	m.state = StateSending
	m.append(domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   text,
		Language:  language,
		Timestamp: time.Now(),
	})
	m.mu.Unlock()

	if err := m.ensureSession(scope); err != nil {
		return m.finishSend(scope, "", err)
	}

	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	reply, err := m.client.ContinueChat(scope, sessionID, text, language)
	return m.finishSend(scope, reply, err)
}

func (m *Manager) finishSend(scope *liveness.Scope, reply string, err error) error {
	if err != nil && backend.IsStale(err) {
		return err
	}

	committed := scope.Commit(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state == StateSending {
			m.state = StateReady
		}
		msg := domain.ChatMessage{
			ID:        uuid.NewString(),
			Language:  m.context.Language,
			Timestamp: time.Now(),
		}
		if err != nil {
			msg.Role = domain.RoleError
			msg.Content = userFacingMessage(err)
		} else {
			msg.Role = domain.RoleAssistant
			msg.Content = reply
		}
		m.append(msg)
	})
	if !committed {
		return backend.ErrStale
	}
	return err
}

// SetLanguage restarts the backend session in the new language. The old
// session identifier is discarded — its language-bound context is no longer
// valid — while the visible transcript is preserved unless freshStart is set.
func (m *Manager) SetLanguage(scope *liveness.Scope, language string, freshStart bool) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if m.state == StateUninitialized {
		m.context.Language = language
		m.mu.Unlock()
		return nil
	}
	m.sessionID = ""
	m.context.Language = language
	if freshStart {
		m.transcript = nil
	}
	req := m.context
	m.mu.Unlock()

	return m.Start(scope, req)
}

// Close ends the session. Further Send/Start calls fail; in-flight results
// are discarded by the owning scope.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateClosed
	for id, ch := range m.watchers {
		close(ch)
		delete(m.watchers, id)
	}
}

// Watch returns a channel receiving every transcript append, plus a cancel
// function. Used by the gateway to stream updates to the view.
func (m *Manager) Watch() (<-chan domain.ChatMessage, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan domain.ChatMessage, 64)
	m.watchers[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.watchers[id]; ok {
			close(existing)
			delete(m.watchers, id)
		}
	}
}

// ensureSession lazily opens a backend session for transcripts resumed
// without one.
func (m *Manager) ensureSession(scope *liveness.Scope) error {
	m.mu.Lock()
	if m.sessionID != "" {
		m.mu.Unlock()
		return nil
	}
	req := m.context
	m.mu.Unlock()

	sessionID, _, err := m.client.StartChat(scope, req)
	if err != nil {
		return err
	}
	if !scope.Commit(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.sessionID = sessionID
	}) {
		return backend.ErrStale
	}
	return nil
}

// append adds to the transcript and fans out to watchers. Callers hold m.mu.
func (m *Manager) append(msg domain.ChatMessage) {
	m.transcript = append(m.transcript, msg)
	for _, ch := range m.watchers {
		select {
		case ch <- msg:
		default:
			// Slow watcher; drop rather than block the transcript.
		}
	}
}

func userFacingMessage(err error) string {
	if f, ok := backend.AsFailure(err); ok {
		return f.Message
	}
	return err.Error()
}
