package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lifelink/commsync/internal/auth"
	"github.com/lifelink/commsync/internal/bus"
	"github.com/lifelink/commsync/internal/config"
	"github.com/lifelink/commsync/internal/proto"
	"github.com/lifelink/commsync/internal/status"
	"go.uber.org/zap"
)

// Socket is the minimal surface of a live realtime connection. The
// production implementation wraps a websocket; tests substitute fakes.
type Socket interface {
	WriteJSON(ctx context.Context, v any) error
	ReadJSON(ctx context.Context, v any) error
	Close() error
}

// Dialer opens a Socket to the event server, authenticating with the
// given bearer token. It must respect ctx cancellation and deadline.
type Dialer func(ctx context.Context, url, token string) (Socket, error)

// Manager owns the single realtime connection for a profile. It enforces
// single-flight connects, a consecutive-failure circuit breaker, bounded
// automatic reconnection, and subscription replay after every successful
// (re)connect.
type Manager struct {
	cfg     config.Realtime
	url     string
	creds   auth.Provider
	dial    Dialer
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu            sync.Mutex
	socket        Socket
	connecting    bool
	inflight      chan struct{}
	failures      int
	lastFailure   time.Time
	readCancel    context.CancelFunc
	stopReconnect bool

	onConnect    func()
	onDisconnect func()
}

// NewManager creates a connection manager. It performs no network action
// until Connect is called.
func NewManager(cfg config.Realtime, socketURL string, creds auth.Provider, dial Dialer, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		url:     socketURL,
		creds:   creds,
		dial:    dial,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

// OnConnect registers the hook invoked after every successful
// (re)connection, before the read loop starts consuming pushes. The
// subscription registry uses it to replay tracked rooms.
func (m *Manager) OnConnect(fn func()) {
	m.onConnect = fn
}

// OnDisconnect registers the hook invoked on explicit Disconnect, used to
// clear subscription bookkeeping.
func (m *Manager) OnDisconnect(fn func()) {
	m.onDisconnect = fn
}

// IsConnected reports whether a live socket exists.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socket != nil
}

// CanConnect is the synchronous pre-flight check: a credential exists and
// the circuit breaker is closed.
func (m *Manager) CanConnect() bool {
	if _, ok := m.creds.Credential(); !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.breakerOpenLocked()
}

// Failures returns the cumulative consecutive-failure count.
func (m *Manager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Connect establishes the realtime connection. Calling it while an
// attempt is in flight joins that attempt instead of spawning a second
// one; calling it while connected returns true immediately.
func (m *Manager) Connect(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.socket != nil {
		m.mu.Unlock()
		return true, nil
	}
	if m.connecting {
		ch := m.inflight
		m.mu.Unlock()
		select {
		case <-ch:
			return m.IsConnected(), nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	cred, ok := m.creds.Credential()
	if !ok {
		// Not a network failure: the counter stays untouched.
		m.mu.Unlock()
		return false, ErrAuthRequired
	}
	if m.breakerOpenLocked() {
		m.mu.Unlock()
		return false, ErrCircuitOpen
	}

	m.connecting = true
	m.inflight = make(chan struct{})
	m.stopReconnect = false
	m.mu.Unlock()

	_ = m.machine.Transition(status.Connecting)
	ok, err := m.attempt(ctx, cred.Token)
	if err != nil {
		_ = m.machine.Transition(status.Closed)
	}
	return ok, err
}

// attempt performs one dial with the bounded timeout and settles the
// in-flight marker. Callers must have set m.connecting beforehand and
// pick the terminal machine state when the attempt fails.
func (m *Manager) attempt(ctx context.Context, token string) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout())
	sock, err := m.dial(dialCtx, m.url, token)
	cancel()

	m.mu.Lock()
	m.connecting = false
	close(m.inflight)
	if err != nil {
		m.failures++
		m.lastFailure = time.Now()
		count := m.failures
		m.mu.Unlock()
		m.logger.Warn("connection attempt failed",
			zap.Error(err),
			zap.Int("consecutive_failures", count))
		return false, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	m.socket = sock
	m.failures = 0
	readCtx, readCancel := context.WithCancel(context.Background())
	m.readCancel = readCancel
	m.mu.Unlock()

	_ = m.machine.Transition(status.Open)
	m.logger.Info("connected to event server")
	m.bus.Publish(bus.Event{Kind: bus.KindConnEstablished})
	if m.onConnect != nil {
		m.onConnect()
	}
	go m.readLoop(readCtx, sock)
	return true, nil
}

// Disconnect tears down the live connection if any and clears
// subscription bookkeeping. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sock := m.socket
	m.socket = nil
	readCancel := m.readCancel
	m.readCancel = nil
	m.stopReconnect = true
	m.mu.Unlock()

	if readCancel != nil {
		readCancel()
	}
	if sock != nil {
		_ = sock.Close()
		m.logger.Info("disconnected from event server")
	}
	if m.onDisconnect != nil {
		m.onDisconnect()
	}
	if cur := m.machine.Current(); cur != status.Closed && cur != status.Idle {
		_ = m.machine.Transition(status.Closed)
	}
}

// WriteFrame sends a client frame over the live socket.
func (m *Manager) WriteFrame(ctx context.Context, f proto.Frame) error {
	m.mu.Lock()
	sock := m.socket
	m.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}
	return sock.WriteJSON(ctx, f)
}

func (m *Manager) breakerOpenLocked() bool {
	return m.failures >= m.cfg.BreakerThreshold &&
		time.Since(m.lastFailure) < m.cfg.BreakerCooldown()
}

func (m *Manager) readLoop(ctx context.Context, sock Socket) {
	for {
		var evt proto.ServerEvent
		if err := sock.ReadJSON(ctx, &evt); err != nil {
			if ctx.Err() != nil {
				// Deliberate teardown.
				return
			}
			m.handleDrop(err)
			return
		}
		m.handleEvent(evt)
	}
}

// handleDrop reacts to an unexpected socket loss by starting the bounded
// automatic reconnect loop.
func (m *Manager) handleDrop(err error) {
	m.mu.Lock()
	m.socket = nil
	m.readCancel = nil
	m.mu.Unlock()

	m.logger.Warn("connection lost", zap.Error(err))
	_ = m.machine.Transition(status.Reconnecting)
	m.bus.Publish(bus.Event{Kind: bus.KindConnLost})
	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	for attempt := 1; attempt <= m.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(m.cfg.ReconnectDelay())

		m.mu.Lock()
		if m.stopReconnect || m.socket != nil || m.connecting {
			m.mu.Unlock()
			return
		}
		cred, ok := m.creds.Credential()
		if !ok {
			m.mu.Unlock()
			// Invalid credential is never retried; report via status
			// so the UI layer can re-authenticate.
			m.logger.Warn("credential unavailable, stopping reconnect")
			_ = m.machine.Transition(status.Closed)
			return
		}
		if m.breakerOpenLocked() {
			m.mu.Unlock()
			m.logger.Warn("circuit breaker open, stopping reconnect",
				zap.Int("consecutive_failures", m.Failures()))
			_ = m.machine.Transition(status.Closed)
			return
		}
		m.connecting = true
		m.inflight = make(chan struct{})
		m.mu.Unlock()

		_ = m.machine.Transition(status.Connecting)
		m.logger.Info("reconnecting",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.ReconnectAttempts))
		if ok, _ := m.attempt(context.Background(), cred.Token); ok {
			return
		}
		_ = m.machine.Transition(status.Reconnecting)
	}

	// Attempt budget exhausted; the next manual Connect starts fresh.
	m.logger.Warn("reconnect attempts exhausted")
	_ = m.machine.Transition(status.Closed)
}

// handleEvent fans a server push out on the bus. The reconciler and the
// registry subscribe independently; the manager never touches their state.
func (m *Manager) handleEvent(evt proto.ServerEvent) {
	switch evt.Type {
	case proto.EventConnectionEstablished:
		m.logger.Info("server acknowledged connection")

	case proto.EventNewMessage, proto.EventMessageEdited:
		var data proto.MessageData
		if err := unmarshalData(evt, &data); err != nil {
			m.logger.Warn("bad message push", zap.Error(err))
			return
		}
		kind := bus.KindPushMessage
		if evt.Type == proto.EventMessageEdited {
			kind = bus.KindPushMessageEdited
		}
		msg := data.ToStoreMessage()
		m.bus.Publish(bus.Event{Kind: kind, Room: msg.RoomID, Payload: msg})

	case proto.EventMessageDeleted:
		var data proto.DeleteData
		if err := unmarshalData(evt, &data); err != nil {
			m.logger.Warn("bad delete push", zap.Error(err))
			return
		}
		m.bus.Publish(bus.Event{Kind: bus.KindPushMessageDeleted, Room: data.Room, Payload: data})

	case proto.EventReactionAdded, proto.EventReactionRemoved:
		var data proto.ReactionEvent
		if err := unmarshalData(evt, &data); err != nil {
			m.logger.Warn("bad reaction push", zap.Error(err))
			return
		}
		kind := bus.KindPushReactionAdded
		if evt.Type == proto.EventReactionRemoved {
			kind = bus.KindPushReactionRemoved
		}
		m.bus.Publish(bus.Event{Kind: kind, Room: data.Room, Payload: data})

	case proto.EventSubscriptionConfirmed:
		m.bus.Publish(bus.Event{Kind: bus.KindSubConfirmed, Room: evt.Room})

	case proto.EventSubscriptionRevoked:
		m.bus.Publish(bus.Event{Kind: bus.KindSubRevoked, Room: evt.Room})

	case proto.EventError:
		if evt.Error != nil {
			m.logger.Warn("server error push",
				zap.String("code", evt.Error.Code),
				zap.String("msg", evt.Error.Msg))
		}

	default:
		m.logger.Debug("unhandled push", zap.String("type", evt.Type))
	}
}

func unmarshalData(evt proto.ServerEvent, v any) error {
	if len(evt.Data) == 0 {
		return fmt.Errorf("push %s: empty data", evt.Type)
	}
	return json.Unmarshal(evt.Data, v)
}
