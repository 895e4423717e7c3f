// Package conn owns the persistent websocket connection bound to the
// resolved identity.
//
// Lifecycle per bind: Disconnected -> Connecting -> Connected -> Registered,
// collapsing back to Disconnected on any failure or teardown. A failed
// attempt is surfaced, never auto-retried.
package conn

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pliu/courier/internal/models"
)

var (
	// ErrNotConnected is returned when a send is attempted without a
	// registered connection.
	ErrNotConnected = errors.New("not connected")
	// ErrTransportFailure is returned when the connection attempt or the
	// transport write fails.
	ErrTransportFailure = errors.New("transport failure")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	default:
		return "disconnected"
	}
}

// Handler is invoked once per inbound push for the lifetime of the
// connection. It runs on the read-pump goroutine; it must observe current
// selection state itself at dispatch time.
type Handler func(models.Message)

type Manager struct {
	wsURL  string
	dialer *websocket.Dialer
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	bound   *models.Identity
	ws      *websocket.Conn
	handler Handler
	gen     int

	// gorilla allows one concurrent writer per connection.
	writeMu sync.Mutex
}

// NewManager builds a manager dialing the /ws endpoint of serverURL.
func NewManager(serverURL string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		wsURL:  WebsocketURL(serverURL),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

// WebsocketURL converts an http(s) base URL into the ws(s) dial URL.
func WebsocketURL(serverURL string) string {
	u := serverURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(u, "/") + "/ws"
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) BoundIdentity() *models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bound
}

// SubscribeInbound registers the push handler. Registered once; it survives
// rebinds, so selection changes never require re-subscribing.
func (m *Manager) SubscribeInbound(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Bind opens a connection for identity and announces its id to the server.
// An existing connection, bound to any identity, is fully torn down first:
// at most one connection exists at a time.
func (m *Manager) Bind(identity models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ws != nil {
		m.teardownLocked()
	}

	m.state = StateConnecting
	ws, _, err := m.dialer.Dial(m.wsURL, nil)
	if err != nil {
		m.state = StateDisconnected
		return fmt.Errorf("%w: dial %s: %v", ErrTransportFailure, m.wsURL, err)
	}
	m.state = StateConnected

	env, err := models.NewEnvelope(models.EventRegister, identity.ID)
	if err == nil {
		err = ws.WriteJSON(env)
	}
	if err != nil {
		ws.Close()
		m.state = StateDisconnected
		return fmt.Errorf("%w: register: %v", ErrTransportFailure, err)
	}

	id := identity
	m.ws = ws
	m.bound = &id
	m.state = StateRegistered
	m.gen++

	go m.readPump(ws, m.gen)

	m.logger.Info("connection registered", zap.String("userId", identity.ID))
	return nil
}

// Unbind closes the transport and discards all per-connection state.
// Idempotent.
func (m *Manager) Unbind() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *Manager) teardownLocked() {
	if m.ws != nil {
		m.ws.Close()
		m.ws = nil
	}
	m.bound = nil
	m.state = StateDisconnected
}

// SendOutbound transmits a draft over the active connection. Success means
// accepted by the transport, nothing more; delivery is observed only through
// the inbound push path.
func (m *Manager) SendOutbound(draft models.OutboundDraft) error {
	m.mu.Lock()
	if m.state != StateRegistered {
		m.mu.Unlock()
		return ErrNotConnected
	}
	ws := m.ws
	m.mu.Unlock()

	env, err := models.NewEnvelope(models.EventDM, draft)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := ws.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransportFailure, err)
	}
	return nil
}

func (m *Manager) readPump(ws *websocket.Conn, gen int) {
	for {
		var env models.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			m.mu.Lock()
			// Only the pump of the current connection may demote state; a
			// pump orphaned by a rebind just exits.
			if m.gen == gen && m.ws != nil {
				m.logger.Warn("connection lost", zap.Error(err))
				m.teardownLocked()
			}
			m.mu.Unlock()
			return
		}

		if env.Event != models.EventDM {
			continue
		}

		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			m.logger.Warn("malformed push", zap.Error(err))
			continue
		}

		m.mu.Lock()
		handler := m.handler
		current := m.gen == gen
		m.mu.Unlock()

		if current && handler != nil {
			handler(msg)
		}
	}
}
