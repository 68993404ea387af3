package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var ErrAgentNotFound = errors.New("agent not found")

// Agent is anything the environment can start and stop.
type Agent interface {
	GetID() string
	Start(ctx context.Context) error
	Stop() error
}

type State struct {
	Status    string
	Agents    int
	StartedAt time.Time
	StoppedAt time.Time
}

// Environment hosts a set of agents sharing one broker and starts and
// stops them together.
type Environment struct {
	agents []Agent
	state  State
	logger *slog.Logger
	mu     sync.RWMutex
}

func NewEnvironment(logger *slog.Logger) *Environment {
	if logger == nil {
		logger = slog.Default()
	}
	return &Environment{
		agents: make([]Agent, 0),
		state:  State{Status: "idle"},
		logger: logger,
	}
}

func (e *Environment) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.state
	s.Agents = len(e.agents)
	return s
}

func (e *Environment) AddAgent(a Agent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, other := range e.agents {
		if other.GetID() == a.GetID() {
			return fmt.Errorf("agent %s already registered", a.GetID())
		}
	}
	e.agents = append(e.agents, a)
	return nil
}

func (e *Environment) RemoveAgent(a Agent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, other := range e.agents {
		if other == a {
			e.agents = append(e.agents[:i], e.agents[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAgentNotFound, a.GetID())
}

func (e *Environment) GetAgents() []Agent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Agent, len(e.agents))
	copy(out, e.agents)
	return out
}

// Start starts every agent in parallel. If any agent fails to start, the
// ones already running are stopped again.
func (e *Environment) Start(ctx context.Context) error {
	return e.StartPhases(ctx, e.GetAgents())
}

// StartPhases starts the agents phase by phase. Agents within a phase start
// in parallel, and a phase begins only after every start of the previous
// one has returned. On failure every agent started so far is stopped.
func (e *Environment) StartPhases(ctx context.Context, phases ...[]Agent) error {
	var started []Agent
	for _, phase := range phases {
		var g errgroup.Group
		for _, a := range phase {
			g.Go(func() error {
				if err := a.Start(ctx); err != nil {
					return fmt.Errorf("start %s: %w", a.GetID(), err)
				}
				return nil
			})
		}
		started = append(started, phase...)
		if err := g.Wait(); err != nil {
			e.stopAll(started)
			return err
		}
	}

	e.mu.Lock()
	e.state.Status = "running"
	e.state.StartedAt = time.Now()
	e.mu.Unlock()
	e.logger.Info("environment started", "agents", len(started), "phases", len(phases))
	return nil
}

// Stop stops every agent in parallel and waits for them.
func (e *Environment) Stop() error {
	err := e.stopAll(e.GetAgents())

	e.mu.Lock()
	e.state.Status = "stopped"
	e.state.StoppedAt = time.Now()
	e.mu.Unlock()
	e.logger.Info("environment stopped")
	return err
}

func (e *Environment) stopAll(agents []Agent) error {
	var g errgroup.Group
	for _, a := range agents {
		g.Go(func() error {
			if err := a.Stop(); err != nil {
				e.logger.Warn("error stopping agent", "agent", a.GetID(), "error", err)
				return fmt.Errorf("stop %s: %w", a.GetID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Environment) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status == "running" {
		return errors.New("cannot reset a running environment")
	}
	e.agents = make([]Agent, 0)
	e.state = State{Status: "idle"}
	return nil
}
