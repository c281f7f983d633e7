package chat

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrDisconnected marks a read error caused by the peer going away in an
// orderly fashion. Transports wrap it so the session can tell a voluntary
// leave from a fault.
var ErrDisconnected = errors.New("peer disconnected")

// Transport is a Conn the session can also read frames from.
type Transport interface {
	Conn
	ReadFrame() ([]byte, error)
}

// State is the lifecycle position of a Session.
type State int32

// Session states. A session moves strictly forward through them.
const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RateLimit bounds how many frames a session may send. A zero Burst
// disables limiting.
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

// SessionConfig tunes a Session.
type SessionConfig struct {
	// AllowedPrefixes lists the resource paths image and file payloads may point at.
	AllowedPrefixes []string
	RateLimit       RateLimit
	Logger          *zerolog.Logger
}

// Session drives one connection: it registers with the manager, classifies
// each inbound frame, and on any exit deregisters and announces the leave
// exactly once.
type Session struct {
	manager   *Manager
	conn      Transport
	name      string
	prefixes  []string
	budget    *frameBudget
	logger    zerolog.Logger
	state     atomic.Int32
	closeOnce sync.Once
}

// NewSession prepares a session for conn under the display name name.
func NewSession(manager *Manager, conn Transport, name string, cfg SessionConfig) *Session {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	s := &Session{
		manager:  manager,
		conn:     conn,
		name:     name,
		prefixes: append([]string(nil), cfg.AllowedPrefixes...),
		logger:   logger.With().Str("conn", conn.ID()).Str("name", name).Logger(),
	}
	if cfg.RateLimit.Burst > 0 {
		s.budget = newFrameBudget(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval, nil)
	}
	return s
}

// Name returns the display name of the session.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run registers the session and processes frames until the transport fails
// or the peer leaves. It returns once cleanup has completed.
func (s *Session) Run() {
	fault := true
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("[chat] session handler panicked")
			_ = s.manager.SendPrivate(s.conn, NewError(FaultReason))
			fault = true
		}
		s.close(fault)
	}()

	s.manager.Register(s.conn, s.name)
	s.state.Store(int32(StateActive))

	for {
		raw, err := s.conn.ReadFrame()
		if err != nil {
			fault = !errors.Is(err, ErrDisconnected)
			if fault {
				s.logger.Warn().Err(err).Msg("[chat] session read failed")
			} else {
				s.logger.Debug().Err(err).Msg("[chat] session closed by peer")
			}
			return
		}
		s.handleFrame(raw)
	}
}

func (s *Session) handleFrame(raw []byte) {
	if s.budget != nil {
		if ok, retry := s.budget.take(); !ok {
			s.logger.Debug().Dur("retry_in", retry).Msg("[chat] frame over budget")
			s.reject(ErrRateLimited)
			return
		}
	}

	req, err := ParseRequest(raw, s.prefixes)
	if err != nil {
		s.reject(err)
		return
	}
	s.dispatch(req)
}

// dispatch acts on a validated request.
func (s *Session) dispatch(req Request) {
	switch r := req.(type) {
	case ChatRequest:
		s.manager.Broadcast(NewChat(s.name, r.Text))
	case ResourceRequest:
		s.manager.Broadcast(NewResource(r.Kind, s.name, r.URL, r.Name))
	case ParticipantsRequest:
		s.manager.BroadcastParticipants()
	default:
		s.logger.Error().Str("request", fmt.Sprintf("%T", req)).Msg("[chat] unhandled request type")
	}
}

func (s *Session) reject(err error) {
	s.logger.Debug().Err(err).Msg("[chat] frame rejected")
	if sendErr := s.manager.SendPrivate(s.conn, NewError(RejectionReason(err))); sendErr != nil {
		s.logger.Debug().Err(sendErr).Msg("[chat] rejection not delivered")
	}
}

func (s *Session) close(fault bool) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))

		name := s.manager.Deregister(s.conn)
		notice := LeaveNotice(name)
		if fault {
			notice = FaultNotice(name)
		}
		s.manager.Broadcast(NewSystem(notice))
		s.manager.BroadcastParticipants()

		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("[chat] close transport")
		}
	})
}

// FaultReason is the private error text sent before a session is torn down
// by an internal failure.
const FaultReason = "连接异常"

// RejectionReason renders a validation error as the text of a private
// error envelope.
func RejectionReason(err error) string {
	var unknown *UnknownKindError
	switch {
	case errors.As(err, &unknown):
		return fmt.Sprintf("不支持的消息类型: %s", unknown.Type)
	case errors.Is(err, ErrEmptyChat):
		return "消息内容不能为空"
	case errors.Is(err, ErrIllegalResource):
		return "非法资源地址"
	case errors.Is(err, ErrMalformedFrame):
		return "消息格式错误"
	case errors.Is(err, ErrRateLimited):
		return "发送过于频繁，请稍后再试"
	default:
		return err.Error()
	}
}
