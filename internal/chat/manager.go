package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Conn is the transport handle of one live session.
//
// Send must not block: implementations queue the frame or fail immediately,
// which is what keeps one stalled client from holding up a broadcast.
// Close must be idempotent.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close() error
}

// ManagerConfig tunes a Manager. Zero values select defaults.
type ManagerConfig struct {
	HistoryLimit int
	Placeholder  string
	Logger       *zerolog.Logger
	Now          func() time.Time
}

// DeliveryReport lists the connection ids a fan-out reached and the ones it
// dropped because their transport refused the frame.
type DeliveryReport struct {
	Delivered []string
	Failed    []string
}

// Manager is the single owner of who is connected and what was said. Every
// operation runs under one mutex, so roster and history mutations never
// interleave with a fan-out.
type Manager struct {
	mu      sync.Mutex
	conns   map[string]Conn
	roster  *Roster
	history *History
	// evicted remembers names of sessions dropped during fan-out until
	// their handler deregisters them.
	evicted map[string]string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewManager creates an empty Manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		conns:   make(map[string]Conn),
		roster:  NewRoster(cfg.Placeholder),
		history: NewHistory(cfg.HistoryLimit),
		evicted: make(map[string]string),
		logger:  logger,
		now:     now,
	}
}

// JoinNotice is the system text announcing that name joined.
func JoinNotice(name string) string {
	return fmt.Sprintf("%s 加入了聊天室", name)
}

// LeaveNotice is the system text announcing that name left.
func LeaveNotice(name string) string {
	return fmt.Sprintf("%s 离开了聊天室", name)
}

// FaultNotice is the system text announcing that name was disconnected by an error.
func FaultNotice(name string) string {
	return fmt.Sprintf("%s 连接异常，已断开", name)
}

// Register adds conn to the live set under name, queues the history
// snapshot to it, then announces the join and the new roster to everyone.
// The joiner's history is queued before any broadcast, so it always arrives
// first on that connection.
func (m *Manager) Register(conn Conn, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := conn.ID()
	m.conns[id] = conn
	m.roster.Add(id, name)
	delete(m.evicted, id)

	m.logger.Info().
		Str("conn", id).
		Str("name", name).
		Int("clients", len(m.conns)).
		Msg("[chat] session registered")

	m.sendPrivateLocked(conn, Envelope{Kind: KindHistory, History: m.history.Snapshot()})
	m.broadcastLocked(NewSystem(JoinNotice(name)))
	m.broadcastParticipantsLocked()
}

// Deregister removes conn from the live set and roster and returns the name
// it was registered under. Calling it again for the same connection, or for
// one never registered, returns the placeholder name and changes nothing.
func (m *Manager) Deregister(conn Conn) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := conn.ID()
	delete(m.conns, id)

	var name string
	if _, ok := m.roster.Lookup(id); ok {
		name = m.roster.Remove(id)
	} else if evictedName, ok := m.evicted[id]; ok {
		delete(m.evicted, id)
		name = evictedName
	} else {
		return m.roster.Remove(id)
	}

	m.logger.Info().
		Str("conn", id).
		Str("name", name).
		Int("clients", len(m.conns)).
		Msg("[chat] session deregistered")
	return name
}

// Broadcast stamps env, records it in history when its kind is retained,
// and delivers it to every live session.
func (m *Manager) Broadcast(env Envelope) DeliveryReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcastLocked(env)
}

// BroadcastParticipants delivers the current roster to every live session.
func (m *Manager) BroadcastParticipants() DeliveryReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcastParticipantsLocked()
}

// SendPrivate delivers env to conn alone. A failure is returned for logging
// only; the session is presumed to be tearing down.
func (m *Manager) SendPrivate(conn Conn, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendPrivateLocked(conn, env)
}

// Participants returns the sorted roster.
func (m *Manager) Participants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roster.Names()
}

// History returns a copy of the history buffer.
func (m *Manager) History() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Snapshot()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// CloseAll closes every live transport. Each session handler then observes
// its read failing and runs its own cleanup.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	conns := make([]Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			m.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("[chat] close during shutdown")
		}
	}
	return len(conns)
}

func (m *Manager) stamp(env *Envelope) {
	if env.Timestamp == "" {
		env.Timestamp = m.now().Format(TimestampLayout)
	}
}

func (m *Manager) sendPrivateLocked(conn Conn, env Envelope) error {
	m.stamp(&env)
	frame, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}
	if err := conn.Send(frame); err != nil {
		m.logger.Debug().Err(err).Str("conn", conn.ID()).Str("type", string(env.Kind)).Msg("[chat] private send failed")
		return err
	}
	return nil
}

func (m *Manager) broadcastParticipantsLocked() DeliveryReport {
	return m.broadcastLocked(Envelope{Kind: KindParticipants, Names: m.roster.Names()})
}

func (m *Manager) broadcastLocked(env Envelope) DeliveryReport {
	m.stamp(&env)
	if env.Kind.Retained() {
		m.history.Append(env)
	}

	var report DeliveryReport
	frame, err := env.Encode()
	if err != nil {
		m.logger.Error().Err(err).Str("type", string(env.Kind)).Msg("[chat] encode broadcast")
		return report
	}

	for id, conn := range m.conns {
		if err := conn.Send(frame); err != nil {
			report.Failed = append(report.Failed, id)
			m.logger.Warn().Err(err).Str("conn", id).Msg("[chat] delivery failed; dropping session")
			continue
		}
		report.Delivered = append(report.Delivered, id)
	}

	for _, id := range report.Failed {
		m.evictLocked(id)
	}
	return report
}

// evictLocked drops a session whose transport refused a frame. No leave
// notice is sent here; the session handler announces it when it deregisters.
func (m *Manager) evictLocked(id string) {
	conn, ok := m.conns[id]
	if !ok {
		return
	}
	delete(m.conns, id)
	if name, ok := m.roster.Lookup(id); ok {
		m.evicted[id] = m.roster.Remove(id)
		m.logger.Info().Str("conn", id).Str("name", name).Int("clients", len(m.conns)).Msg("[chat] session evicted")
	}
	if err := conn.Close(); err != nil {
		m.logger.Debug().Err(err).Str("conn", id).Msg("[chat] close evicted session")
	}
}
