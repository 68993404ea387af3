// Package agent runs autonomous agents on a message broker. Each agent owns
// a private inbound queue and any number of behaviours that run
// concurrently: cyclic ones loop on message receipt, periodic ones fire on
// a fixed-rate timer. A behaviour blocked in Receive suspends only itself.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/boristopalov/fishery/pkg/messaging"
)

var (
	ErrNoBroker       = errors.New("agent has no message broker")
	ErrAlreadyRunning = errors.New("agent is already running")
	ErrNotRunning     = errors.New("agent is not running")
)

const peerPollInterval = 5 * time.Millisecond

// Agent owns an inbound queue and the behaviours that consume it.
type Agent struct {
	id         string
	broker     messaging.Broker
	logger     *slog.Logger
	correlator *messaging.Correlator
	inbox      chan messaging.Message

	mu          sync.Mutex
	behaviours  []*Behaviour
	waiters     []*waiter
	backlog     []messaging.Message
	backlogSize int
	running     bool
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// waiter is a blocked receive. The channel holds at most one message.
type waiter struct {
	template *messaging.Template
	ch       chan messaging.Message
}

// New creates an agent. It does not receive messages until Start.
func New(opts ...AgentOption) (*Agent, error) {
	params := defaultAgentParams()

	for _, opt := range opts {
		opt(params)
	}

	if params.MessageBroker == nil {
		return nil, ErrNoBroker
	}
	if params.InboxSize <= 0 {
		params.InboxSize = DefaultInboxSize
	}
	if params.BacklogSize <= 0 {
		params.BacklogSize = DefaultBacklogSize
	}
	if params.Correlator == nil {
		params.Correlator = messaging.NewCorrelator(messaging.DefaultClosedMemory)
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}

	return &Agent{
		id:          params.AgentID,
		broker:      params.MessageBroker,
		logger:      params.Logger.With("agent", params.AgentID),
		correlator:  params.Correlator,
		inbox:       make(chan messaging.Message, params.InboxSize),
		backlogSize: params.BacklogSize,
	}, nil
}

func (a *Agent) GetID() string {
	return a.id
}

func (a *Agent) Logger() *slog.Logger {
	return a.logger
}

func (a *Agent) Correlator() *messaging.Correlator {
	return a.correlator
}

// IsRunning reports whether the agent has been started and not stopped.
func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// AddBehaviour registers b with the agent. On a running agent the
// behaviour starts immediately.
func (a *Agent) AddBehaviour(b *Behaviour) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b.bind(a)
	a.behaviours = append(a.behaviours, b)
	if a.running {
		a.launch(b)
	}
}

// Behaviours returns the registered behaviours.
func (a *Agent) Behaviours() []*Behaviour {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Behaviour, len(a.behaviours))
	copy(out, a.behaviours)
	return out
}

// Start subscribes the agent to its broker and launches every behaviour.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, a.id)
	}
	if a.stopped {
		return fmt.Errorf("agent %s cannot be restarted once stopped", a.id)
	}
	if err := a.broker.Subscribe(a.id, a.inbox); err != nil {
		return fmt.Errorf("subscribe %s: %w", a.id, err)
	}

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.running = true

	a.wg.Add(1)
	go a.dispatchLoop()

	for _, b := range a.behaviours {
		a.launch(b)
	}

	a.logger.Info("agent started", "behaviours", len(a.behaviours))
	return nil
}

// launch starts b on the agent context. Callers hold a.mu.
func (a *Agent) launch(b *Behaviour) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		b.loop(a.ctx)
	}()
}

// Stop kills every behaviour, unblocks pending receives with no message
// and releases the queue. It waits for all behaviour goroutines to return.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()

	if err := a.broker.Unsubscribe(a.id); err != nil {
		a.logger.Warn("failed to unsubscribe", "error", err)
	}

	a.mu.Lock()
	a.waiters = nil
	a.backlog = nil
	a.mu.Unlock()

	a.logger.Info("agent stopped")
	return nil
}

// Done is closed once the agent has been asked to stop.
func (a *Agent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx == nil {
		return nil
	}
	return a.ctx.Done()
}

// Send publishes msg with this agent as sender.
func (a *Agent) Send(msg messaging.Message) error {
	msg.From = a.id
	msg.Timestamp = time.Now()
	if err := a.broker.Publish(msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Protocol(), msg.To, err)
	}
	a.logger.Debug("message sent",
		"to", msg.To,
		"protocol", msg.Protocol(),
		"performative", msg.Performative(),
		"conversation_id", msg.ConversationID())
	return nil
}

// AwaitPeer polls the broker until addr is reachable. It gives up after
// timeout or when ctx is done; a non-positive timeout checks only once.
func (a *Agent) AwaitPeer(ctx context.Context, addr string, timeout time.Duration) bool {
	if a.broker.Resolve(addr) {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(peerPollInterval)
	defer poll.Stop()
	for {
		select {
		case <-poll.C:
			if a.broker.Resolve(addr) {
				return true
			}
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Receive returns the first queued or incoming message matching tmpl. It
// blocks the caller for at most timeout; a non-positive timeout only
// checks what is already queued. Cancelling ctx or stopping the agent
// returns no message.
func (a *Agent) Receive(ctx context.Context, tmpl *messaging.Template, timeout time.Duration) (messaging.Message, bool) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return messaging.Message{}, false
	}
	for i, m := range a.backlog {
		if messaging.Matches(tmpl, m) {
			a.backlog = append(a.backlog[:i], a.backlog[i+1:]...)
			a.mu.Unlock()
			return m, true
		}
	}
	if timeout <= 0 {
		a.mu.Unlock()
		return messaging.Message{}, false
	}
	w := a.addWaiter(tmpl)
	a.mu.Unlock()

	return a.await(ctx, w, timeout)
}

// Request opens a conversation for msg, sends it and waits up to timeout
// for the correlated reply. A missing reply is reported as ok == false;
// err is only set when the request could not be sent.
func (a *Agent) Request(ctx context.Context, msg messaging.Message, timeout time.Duration) (reply messaging.Message, ok bool, err error) {
	msg.From = a.id
	out := a.correlator.Open(msg)
	tmpl := &messaging.Template{Metadata: messaging.Metadata{
		messaging.KeyInReplyTo:      out.ReplyWith(),
		messaging.KeyConversationID: out.ConversationID(),
	}}

	// Register before sending so a fast reply cannot slip past.
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		a.correlator.Expire(out.ReplyWith())
		return messaging.Message{}, false, fmt.Errorf("%w: %s", ErrNotRunning, a.id)
	}
	w := a.addWaiter(tmpl)
	a.mu.Unlock()

	if err := a.Send(out); err != nil {
		a.removeWaiter(w)
		a.correlator.Expire(out.ReplyWith())
		return messaging.Message{}, false, err
	}

	reply, ok = a.await(ctx, w, timeout)
	if !ok {
		a.correlator.Expire(out.ReplyWith())
		a.logger.Info("no reply within timeout",
			"protocol", out.Protocol(),
			"to", out.To,
			"conversation_id", out.ConversationID(),
			"timeout", timeout)
		return messaging.Message{}, false, nil
	}
	if _, err := a.correlator.Resolve(reply); err != nil {
		a.logger.Warn("dropping reply", "error", err, "from", reply.From)
		return messaging.Message{}, false, nil
	}
	return reply, true, nil
}

// Notify opens a conversation for msg and sends it without waiting. A
// behaviour listening for the reply resolves it through the correlator.
func (a *Agent) Notify(msg messaging.Message) (messaging.Message, error) {
	msg.From = a.id
	out := a.correlator.Open(msg)
	if err := a.Send(out); err != nil {
		a.correlator.Expire(out.ReplyWith())
		return messaging.Message{}, err
	}
	return out, nil
}

// addWaiter registers a blocked receive. Callers hold a.mu.
func (a *Agent) addWaiter(tmpl *messaging.Template) *waiter {
	w := &waiter{template: tmpl, ch: make(chan messaging.Message, 1)}
	a.waiters = append(a.waiters, w)
	return w
}

func (a *Agent) removeWaiter(w *waiter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, other := range a.waiters {
		if other == w {
			a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
			return
		}
	}
}

// await blocks until w is served, the timeout elapses, ctx is cancelled or
// the agent stops. A non-positive timeout waits without limit.
func (a *Agent) await(ctx context.Context, w *waiter, timeout time.Duration) (messaging.Message, bool) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case m := <-w.ch:
		return m, true
	case <-expired:
	case <-ctx.Done():
	case <-a.ctx.Done():
	}

	a.removeWaiter(w)
	// the dispatcher may have served w while we were giving up
	select {
	case m := <-w.ch:
		return m, true
	default:
		return messaging.Message{}, false
	}
}

func (a *Agent) dispatchLoop() {
	defer a.wg.Done()
	for {
		select {
		case msg := <-a.inbox:
			a.dispatch(msg)
		case <-a.ctx.Done():
			return
		}
	}
}

// dispatch hands msg to the first waiter whose template matches. With no
// waiter it parks the message if some behaviour's template claims it and
// drops it otherwise.
func (a *Agent) dispatch(msg messaging.Message) {
	a.mu.Lock()
	for i, w := range a.waiters {
		if messaging.Matches(w.template, msg) {
			a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
			w.ch <- msg
			a.mu.Unlock()
			return
		}
	}

	if a.claimed(msg) {
		if len(a.backlog) >= a.backlogSize {
			dropped := a.backlog[0]
			a.backlog = a.backlog[1:]
			a.logger.Warn("backlog full, dropping oldest message",
				"protocol", dropped.Protocol(),
				"from", dropped.From)
		}
		a.backlog = append(a.backlog, msg)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if msg.InReplyTo() != "" {
		if _, err := a.correlator.Resolve(msg); err != nil {
			a.logger.Warn("dropping reply", "error", err, "from", msg.From, "protocol", msg.Protocol())
		} else {
			a.logger.Warn("dropping reply that arrived after its receiver gave up",
				"from", msg.From, "conversation_id", msg.ConversationID())
		}
		return
	}
	a.logger.Debug("no behaviour matches message, dropping",
		"from", msg.From,
		"protocol", msg.Protocol(),
		"performative", msg.Performative())
}

// claimed reports whether a live behaviour with a bound template would
// accept msg. Callers hold a.mu.
func (a *Agent) claimed(msg messaging.Message) bool {
	for _, b := range a.behaviours {
		if b.template != nil && !b.IsDone() && b.template.Matches(msg) {
			return true
		}
	}
	return false
}
