// Package chat binds one conversation history to one LLM gateway.
//
// A Session walks a small state machine:
//
//	Uninitialized --Configure--> Ready --Ask--> AwaitingReply --Replied|Failed--> Ready
//
// Clear is a self-loop on Ready (and Uninitialized). Asking while a reply is
// pending fails with ErrBusy instead of overlapping requests.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/parley/internal/config"
	"github.com/comigor/parley/internal/history"
	"github.com/comigor/parley/internal/llm"
	"github.com/comigor/parley/internal/logger"
)

// State is a lifecycle state of a Session.
type State string

const (
	StateUninitialized State = "Uninitialized"
	StateReady         State = "Ready"
	StateAwaiting      State = "AwaitingReply"
)

// Trigger moves a Session between states.
type Trigger string

const (
	TriggerConfigure Trigger = "Configure"
	TriggerAsk       Trigger = "Ask"
	TriggerReplied   Trigger = "Replied"
	TriggerFailed    Trigger = "Failed"
	TriggerClear     Trigger = "Clear"
)

// ErrBusy is returned when the session is still waiting for a reply.
var ErrBusy = errors.New("chat: a request is already in progress")

// Configurer is implemented by gateways that need a credential before use.
type Configurer interface {
	Configure(credential string) error
}

// Recorder receives a copy of every turn written to the history.
type Recorder interface {
	Record(ctx context.Context, sessionID string, msg history.Message) error
}

// Options tune how a Session records turns.
type Options struct {
	// ID identifies the session in the archive. A random UUID when empty.
	ID string
	// ResetGatewayOnClear makes Clear also wipe the model's memory.
	ResetGatewayOnClear bool
	// MarkFailures appends a system turn with status "failed" when the
	// gateway call fails.
	MarkFailures bool
	// UserTurn decides whether the user turn is kept when the call fails.
	UserTurn config.UserTurnPolicy
	Recorder Recorder
	Clock    func() time.Time
}

// OptionsFromConfig maps the session section of the configuration.
func OptionsFromConfig(cfg config.SessionConfig) Options {
	return Options{
		ResetGatewayOnClear: cfg.ResetGatewayOnClear,
		MarkFailures:        cfg.MarkFailures,
		UserTurn:            cfg.UserTurn,
	}
}

// Session is one conversation: its history and the gateway answering it.
type Session struct {
	mu      sync.Mutex
	id      string
	history *history.Store
	gateway llm.Gateway
	opts    Options
	fsm     *stateless.StateMachine
}

// New creates a session in the Uninitialized state.
func New(gateway llm.Gateway, opts Options) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.UserTurn == "" {
		opts.UserTurn = config.UserTurnFirst
	}
	var storeOpts []history.Option
	if opts.Clock != nil {
		storeOpts = append(storeOpts, history.WithClock(opts.Clock))
	}

	fsm := stateless.NewStateMachine(StateUninitialized)
	fsm.Configure(StateUninitialized).
		Permit(TriggerConfigure, StateReady).
		PermitReentry(TriggerClear)
	fsm.Configure(StateReady).
		Permit(TriggerAsk, StateAwaiting).
		PermitReentry(TriggerClear)
	fsm.Configure(StateAwaiting).
		Permit(TriggerReplied, StateReady).
		Permit(TriggerFailed, StateReady)

	return &Session{
		id:      opts.ID,
		history: history.New(storeOpts...),
		gateway: gateway,
		opts:    opts,
		fsm:     fsm,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	st, _ := s.fsm.MustState().(State)
	return st
}

// Configure hands the credential to the gateway (when it takes one) and
// marks the session ready. An empty credential lets the gateway fall back to
// its configuration or the environment.
func (s *Session) Configure(credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configureLocked(credential)
}

func (s *Session) configureLocked(credential string) error {
	if c, ok := s.gateway.(Configurer); ok {
		if err := c.Configure(credential); err != nil {
			return err
		}
	}
	if s.stateLocked() != StateUninitialized {
		return nil
	}
	return s.fsm.Fire(TriggerConfigure)
}

// Ask sends text to the gateway and returns the reply.
func (s *Session) Ask(ctx context.Context, text string) (string, error) {
	msg, err := s.Reply(ctx, text)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// Reply is Ask returning the recorded assistant turn, for adapters that show
// its timestamp.
//
// With the UserTurnFirst policy the user turn is written before the call.
// With UserTurnOnSuccess it is written together with the reply. A failed call
// never writes an assistant turn; the error is returned unchanged.
func (s *Session) Reply(ctx context.Context, text string) (history.Message, error) {
	s.mu.Lock()
	if s.stateLocked() == StateUninitialized {
		if err := s.configureLocked(""); err != nil {
			s.mu.Unlock()
			return history.Message{}, err
		}
	}
	if err := s.fsm.Fire(TriggerAsk); err != nil {
		s.mu.Unlock()
		return history.Message{}, ErrBusy
	}
	s.mu.Unlock()

	if s.opts.UserTurn == config.UserTurnFirst {
		s.record(ctx, history.Message{Role: history.RoleUser, Content: text})
	}

	reply, err := s.gateway.Ask(ctx, text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		logger.L.Warn("gateway call failed", "session", s.id, "error", err)
		if fireErr := s.fsm.Fire(TriggerFailed); fireErr != nil {
			logger.L.Warn("FSM fire error", "error", fireErr)
		}
		if s.opts.MarkFailures {
			s.record(ctx, history.Message{
				Role:    history.RoleSystem,
				Content: "Error: " + err.Error(),
				Status:  history.StatusFailed,
			})
		}
		return history.Message{}, err
	}

	if s.opts.UserTurn == config.UserTurnOnSuccess {
		s.record(ctx, history.Message{Role: history.RoleUser, Content: text})
	}
	msg := s.record(ctx, history.Message{Role: history.RoleAssistant, Content: reply})
	if fireErr := s.fsm.Fire(TriggerReplied); fireErr != nil {
		logger.L.Warn("FSM fire error", "error", fireErr)
	}
	return msg, nil
}

// Note records a turn that did not go through the gateway, such as a notice
// shown by the terminal client.
func (s *Session) Note(ctx context.Context, role history.Role, content string) history.Message {
	return s.record(ctx, history.Message{Role: role, Content: content})
}

func (s *Session) record(ctx context.Context, msg history.Message) history.Message {
	msg = s.history.AppendMessage(msg)
	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.Record(ctx, s.id, msg); err != nil {
			logger.L.Error("failed to archive message", "session", s.id, "error", err)
		}
	}
	return msg
}

// History returns a copy of the conversation so far.
func (s *Session) History() []history.Message {
	return s.history.Snapshot()
}

// Clear empties the history, resetting the gateway's memory when the session
// was built with ResetGatewayOnClear.
func (s *Session) Clear() error {
	return s.ClearWith(s.opts.ResetGatewayOnClear)
}

// ClearWith empties the history and, if resetGateway is set, the gateway's
// memory too.
func (s *Session) ClearWith(resetGateway bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.Fire(TriggerClear); err != nil {
		return ErrBusy
	}
	s.history.Clear()
	if resetGateway {
		s.gateway.Reset()
	}
	logger.L.Debug("history cleared", "session", s.id, "reset_gateway", resetGateway)
	return nil
}

// Save writes the conversation to path.
func (s *Session) Save(path string) error {
	if err := s.history.Persist(path); err != nil {
		return err
	}
	logger.L.Info("conversation saved", "session", s.id, "path", path)
	return nil
}

// Load replaces the conversation with the one saved at path. The gateway's
// memory is not touched. See history.Store.Restore for the errors returned.
func (s *Session) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateLocked() == StateAwaiting {
		return ErrBusy
	}
	if err := s.history.Restore(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	logger.L.Info("conversation loaded", "session", s.id, "path", path, "messages", s.history.Len())
	return nil
}
