package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boristopalov/fishery/pkg/messaging"
)

// Kind selects how a behaviour is scheduled.
type Kind int

const (
	// Cyclic behaviours run their body again as soon as it returns.
	Cyclic Kind = iota
	// Periodic behaviours run their body at a fixed rate. A tick that
	// comes due while the body is still running is skipped.
	Periodic
)

func (k Kind) String() string {
	switch k {
	case Cyclic:
		return "cyclic"
	case Periodic:
		return "periodic"
	default:
		return "unknown"
	}
}

// RunFunc is one iteration of a behaviour. Returning an error logs it; the
// behaviour carries on with its next iteration.
type RunFunc func(ctx context.Context, b *Behaviour) error

type BehaviourOption func(*Behaviour)

// WithTemplate restricts the messages the behaviour receives.
func WithTemplate(t messaging.Template) BehaviourOption {
	return func(b *Behaviour) {
		b.template = &t
	}
}

// WithOnStart runs fn once before the first iteration.
func WithOnStart(fn RunFunc) BehaviourOption {
	return func(b *Behaviour) {
		b.onStart = fn
	}
}

// Behaviour is an independently scheduled task of an agent.
type Behaviour struct {
	name     string
	kind     Kind
	period   time.Duration
	template *messaging.Template
	run      RunFunc
	onStart  RunFunc

	agent  *Agent
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	killed bool
	done   chan struct{}

	iterations atomic.Int64
	failures   atomic.Int64
}

// NewCyclic creates a behaviour that repeats run until killed.
func NewCyclic(name string, run RunFunc, opts ...BehaviourOption) *Behaviour {
	return newBehaviour(name, Cyclic, 0, run, opts)
}

// NewPeriodic creates a behaviour that runs immediately and then every
// period.
func NewPeriodic(name string, period time.Duration, run RunFunc, opts ...BehaviourOption) *Behaviour {
	if period <= 0 {
		period = time.Second
	}
	return newBehaviour(name, Periodic, period, run, opts)
}

func newBehaviour(name string, kind Kind, period time.Duration, run RunFunc, opts []BehaviourOption) *Behaviour {
	b := &Behaviour{
		name:   name,
		kind:   kind,
		period: period,
		run:    run,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Behaviour) bind(a *Agent) {
	b.agent = a
	b.logger = a.logger.With("behaviour", b.name)
}

func (b *Behaviour) Name() string { return b.name }

func (b *Behaviour) Kind() Kind { return b.kind }

func (b *Behaviour) Period() time.Duration { return b.period }

func (b *Behaviour) Agent() *Agent { return b.agent }

func (b *Behaviour) Logger() *slog.Logger { return b.logger }

// Template returns the bound template, or nil when the behaviour accepts
// any message.
func (b *Behaviour) Template() *messaging.Template { return b.template }

// Iterations returns how many bodies have completed, failed ones included.
func (b *Behaviour) Iterations() int64 { return b.iterations.Load() }

// Failures returns how many bodies returned an error or panicked.
func (b *Behaviour) Failures() int64 { return b.failures.Load() }

// Receive waits up to timeout for a message matching the behaviour's
// template.
func (b *Behaviour) Receive(ctx context.Context, timeout time.Duration) (messaging.Message, bool) {
	return b.agent.Receive(ctx, b.template, timeout)
}

// Send publishes msg from the owning agent.
func (b *Behaviour) Send(msg messaging.Message) error {
	return b.agent.Send(msg)
}

// Kill stops the behaviour at its next safe point. Sibling behaviours keep
// running.
func (b *Behaviour) Kill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.killed = true
	if b.cancel != nil {
		b.cancel()
	}
}

// Done is closed when the behaviour loop has returned.
func (b *Behaviour) Done() <-chan struct{} {
	return b.done
}

// IsDone reports whether the behaviour has finished.
func (b *Behaviour) IsDone() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Behaviour) loop(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer close(b.done)

	b.mu.Lock()
	b.cancel = cancel
	killed := b.killed
	b.mu.Unlock()
	if killed {
		return
	}

	b.logger.Debug("behaviour started", "kind", b.kind, "period", b.period)
	defer b.logger.Debug("behaviour finished", "iterations", b.Iterations())

	if b.onStart != nil {
		b.step(ctx, b.onStart)
	}

	switch b.kind {
	case Periodic:
		ticker := time.NewTicker(b.period)
		defer ticker.Stop()
		for ctx.Err() == nil {
			b.step(ctx, b.run)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	default:
		for ctx.Err() == nil {
			b.step(ctx, b.run)
		}
	}
}

// step runs one body, containing any error or panic to this iteration.
func (b *Behaviour) step(ctx context.Context, fn RunFunc) {
	defer b.iterations.Add(1)
	defer func() {
		if r := recover(); r != nil {
			b.failures.Add(1)
			b.logger.Error("behaviour panicked", "panic", fmt.Sprint(r))
		}
	}()

	if err := fn(ctx, b); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return
		}
		b.failures.Add(1)
		b.logger.Error("behaviour iteration failed", "error", err)
	}
}
