package auth

import (
	"context"
	"log/slog"
	"time"
)

// DefaultLoginTimeout bounds how long AwaitLogin waits.
const DefaultLoginTimeout = 300 * time.Second

// DefaultPollInterval is the spacing between state checks.
const DefaultPollInterval = 2 * time.Second

// StateReader reports the current authentication state without refreshing.
// *Manager implements it.
type StateReader interface {
	State() (State, error)
}

// pollOutcome is the decision of a single poll step.
type pollOutcome int

const (
	pollContinue pollOutcome = iota
	pollAuthenticated
	pollTimedOut
)

// pollStep decides what the loop does after one state check. Authentication
// observed at the deadline still counts.
func pollStep(authenticated bool, now, deadline time.Time) pollOutcome {
	switch {
	case authenticated:
		return pollAuthenticated
	case !now.Before(deadline):
		return pollTimedOut
	default:
		return pollContinue
	}
}

// Poller waits for a login completed elsewhere (a browser redirect handled by
// another process or request) by re-reading the authentication state.
type Poller struct {
	states   StateReader
	interval time.Duration
	logger   *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewPoller creates a Poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(states StateReader, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Poller{
		states:   states,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
	}
}

// AwaitLogin returns true as soon as the state reads authenticated, false
// once timeout elapses, and false immediately when ctx is canceled. A
// non-positive timeout uses DefaultLoginTimeout.
func (p *Poller) AwaitLogin(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultLoginTimeout
	}

	deadline := p.now().Add(timeout)

	for {
		now := p.now()

		switch pollStep(p.authenticated(), now, deadline) {
		case pollAuthenticated:
			p.logger.Info("login detected")
			return true
		case pollTimedOut:
			p.logger.Info("timed out waiting for login", slog.Duration("timeout", timeout))
			return false
		case pollContinue:
		}

		wait := min(p.interval, deadline.Sub(now))

		select {
		case <-ctx.Done():
			p.logger.Debug("login wait canceled")
			return false
		case <-p.after(wait):
		}
	}
}

func (p *Poller) authenticated() bool {
	st, err := p.states.State()
	if err != nil {
		p.logger.Debug("reading auth state", slog.String("error", err.Error()))
		return false
	}

	return st.Authenticated
}

// LoginWait is a running AwaitLogin.
type LoginWait struct {
	cancel context.CancelFunc
	done   chan struct{}
	ok     bool
}

// Start runs AwaitLogin in the background.
func (p *Poller) Start(ctx context.Context, timeout time.Duration) *LoginWait {
	ctx, cancel := context.WithCancel(ctx)

	w := &LoginWait{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		defer cancel()

		w.ok = p.AwaitLogin(ctx, timeout)
	}()

	return w
}

// Cancel stops the wait. Done closes shortly after.
func (w *LoginWait) Cancel() {
	w.cancel()
}

// Done is closed when the wait ends.
func (w *LoginWait) Done() <-chan struct{} {
	return w.done
}

// Authenticated reports the outcome. Blocks until Done is closed.
func (w *LoginWait) Authenticated() bool {
	<-w.done
	return w.ok
}
