package market

import (
	"context"
	"errors"
	"sync"

	"trigger-engine/internal/clock"
	"trigger-engine/internal/errs"
	"trigger-engine/internal/events"
	"trigger-engine/internal/monitor"

	"github.com/rs/zerolog/log"
)

// State is the supervisor's connection state.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateBackingOff   State = "backing_off"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Reconnector re-establishes the feed and reopens every tracked stream.
type Reconnector func(ctx context.Context) error

var errManualRetry = errors.New("manual reconnect requested")

// Supervisor drives feed recovery from one loop:
// disconnected -> backing_off -> reconnecting -> connected, or failed once
// the attempt cap is exceeded. Failed is left only through Retry.
type Supervisor struct {
	mu      sync.Mutex
	state   State
	attempt int
	lastErr error
	onState []func(State)

	notify    chan error
	retry     chan struct{}
	reconnect Reconnector
	backoff   Backoff
	clock     clock.Clock
	symbols   func() int

	Bus     *events.Bus
	Metrics *monitor.Metrics
}

// NewSupervisor builds a supervisor. symbols reports how many streams a
// reconnect restores and may be nil.
func NewSupervisor(reconnect Reconnector, backoff Backoff, clk clock.Clock, symbols func() int) *Supervisor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Supervisor{
		state:     StateDisconnected,
		notify:    make(chan error, 1),
		retry:     make(chan struct{}, 1),
		reconnect: reconnect,
		backoff:   backoff,
		clock:     clk,
		symbols:   symbols,
	}
}

// OnStateChange registers a listener called on every state change. Register before Run.
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = append(s.onState, fn)
	s.mu.Unlock()
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the current attempt counter.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// LastError returns the most recent failure.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// MarkConnected records a successful initial connection.
func (s *Supervisor) MarkConnected() {
	s.setState(StateConnected)
	if s.Bus != nil {
		s.Bus.Publish(events.EventConnected, events.Reconnect{Symbols: s.symbolCount()})
	}
}

// Notify reports a lost stream or connection. Notifications that arrive
// while a recovery is pending are coalesced. A failed supervisor ignores them.
func (s *Supervisor) Notify(err error) {
	s.mu.Lock()
	s.lastErr = err
	failed := s.state == StateFailed
	s.mu.Unlock()
	if failed {
		return
	}
	select {
	case s.notify <- err:
	default:
	}
}

// Retry starts a fresh recovery with the attempt counter reset, including
// from the failed state.
func (s *Supervisor) Retry() {
	select {
	case s.retry <- struct{}{}:
	default:
	}
}

// Run processes notifications until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.notify:
			if s.State() == StateFailed {
				continue
			}
			s.recover(ctx, err)
		case <-s.retry:
			s.mu.Lock()
			s.attempt = 0
			s.mu.Unlock()
			s.recover(ctx, errManualRetry)
		}
	}
}

func (s *Supervisor) recover(ctx context.Context, cause error) {
	s.setState(StateDisconnected)
	log.Warn().Err(cause).Msg("supervisor: feed lost, starting recovery")

	for {
		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()

		if s.backoff.Exhausted(attempt) {
			s.mu.Lock()
			s.attempt = attempt - 1
			s.mu.Unlock()
			s.setState(StateFailed)
			log.Error().Int("attempts", attempt-1).Msg("supervisor: max reconnect attempts reached, manual intervention required")
			if s.Bus != nil {
				s.Bus.Publish(events.EventMaxReconnectAttemptsReached, events.Reconnect{
					Attempt: attempt - 1,
					Error:   errs.ErrMaxReconnects.Error(),
				})
			}
			return
		}

		delay := s.backoff.Next(attempt)
		s.setState(StateBackingOff)
		s.Metrics.ReconnectAttempt()
		log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("supervisor: backing off")
		timer := s.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}

		s.setState(StateReconnecting)
		err := s.reconnect(ctx)
		if err == nil {
			s.mu.Lock()
			s.attempt = 0
			s.mu.Unlock()
			s.setState(StateConnected)
			log.Info().Int("attempt", attempt).Msg("supervisor: reconnected")
			if s.Bus != nil {
				s.Bus.Publish(events.EventReconnected, events.Reconnect{Attempt: attempt, Symbols: s.symbolCount()})
			}
			return
		}

		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		log.Warn().Err(err).Int("attempt", attempt).Msg("supervisor: reconnect failed")
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	listeners := s.onState
	s.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(st)
	}
}

func (s *Supervisor) symbolCount() int {
	if s.symbols == nil {
		return 0
	}
	return s.symbols()
}
