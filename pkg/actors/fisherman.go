package actors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/boristopalov/fishery/pkg/agent"
	"github.com/boristopalov/fishery/pkg/config"
	"github.com/boristopalov/fishery/pkg/messaging"
	"github.com/boristopalov/fishery/pkg/protocol"
)

// Catcher produces the next fish a fisherman pulls out of the water.
type Catcher func() protocol.Fish

var species = []string{"carp", "trout", "pike", "perch", "bream"}

// RandomCatch returns a Catcher picking species, size and mass at random.
func RandomCatch(rng *rand.Rand) Catcher {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	var mu sync.Mutex
	return func() protocol.Fish {
		mu.Lock()
		defer mu.Unlock()
		size := 15 + rng.Float64()*60
		return protocol.Fish{
			Species: species[rng.IntN(len(species))],
			Size:    size,
			Mass:    size * size * size / 80000,
		}
	}
}

// SessionResult describes how a fishing session went.
type SessionResult struct {
	Admitted bool
	Reason   string
	Attempts int
	Granted  int
	Denied   int
	TimedOut bool
	Exited   bool
	Catches  []protocol.Fish
}

// Fisherman asks the owner for entry, fishes until it runs out of
// attempts or permission, reports every catch to the fish caretaker and
// leaves.
type Fisherman struct {
	*agent.Agent

	owner     string
	caretaker string
	cfg       config.FishermanConfig
	catch     Catcher

	mu       sync.Mutex
	result   SessionResult
	once     sync.Once
	finished chan struct{}
}

// NewFisherman creates a fisherman with the given address. A nil catch
// uses RandomCatch.
func NewFisherman(addr string, cfg config.FishermanConfig, owner, caretaker string, catch Catcher, opts ...agent.AgentOption) (*Fisherman, error) {
	a, err := agent.New(append([]agent.AgentOption{agent.WithAgentId(addr)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create fisherman: %w", err)
	}
	if catch == nil {
		catch = RandomCatch(nil)
	}
	f := &Fisherman{
		Agent:     a,
		owner:     owner,
		caretaker: caretaker,
		cfg:       cfg,
		catch:     catch,
		finished:  make(chan struct{}),
	}
	f.AddBehaviour(agent.NewCyclic("session", f.session))
	return f, nil
}

// Finished is closed when the session is over.
func (f *Fisherman) Finished() <-chan struct{} { return f.finished }

// Result returns a copy of the session outcome so far.
func (f *Fisherman) Result() SessionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.result
	out.Catches = append([]protocol.Fish(nil), f.result.Catches...)
	return out
}

func (f *Fisherman) update(fn func(r *SessionResult)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.result)
}

func (f *Fisherman) session(ctx context.Context, b *agent.Behaviour) error {
	defer f.once.Do(func() { close(f.finished) })
	defer b.Kill()

	if !f.enter(ctx, b) {
		return nil
	}
	f.fish(ctx, b)
	return f.exit(ctx, b)
}

func (f *Fisherman) enter(ctx context.Context, b *agent.Behaviour) bool {
	req, err := protocol.NewRequest(f.owner, protocol.IfCanEnterRequest, protocol.EnterRequest{
		FishermanData: protocol.FishermanData{JID: f.GetID()},
	})
	if err != nil {
		b.Logger().Error("failed to build entrance request", "error", err)
		return false
	}
	if !b.Agent().AwaitPeer(ctx, f.owner, f.cfg.EnterTimeout.Std()) {
		b.Logger().Warn("owner is not reachable, giving up", "owner", f.owner)
		f.update(func(r *SessionResult) {
			r.TimedOut = true
			r.Reason = "owner is not reachable"
		})
		return false
	}
	b.Logger().Info("asking for entrance", "owner", f.owner)

	reply, ok, err := b.Agent().Request(ctx, req, f.cfg.EnterTimeout.Std())
	if err != nil {
		b.Logger().Error("entrance request failed", "error", err)
		f.update(func(r *SessionResult) { r.Reason = err.Error() })
		return false
	}
	if !ok {
		b.Logger().Warn("no answer to entrance request, giving up")
		f.update(func(r *SessionResult) {
			r.TimedOut = true
			r.Reason = "no answer from the owner"
		})
		return false
	}

	var resp protocol.EnterResponse
	if err := protocol.DecodeInto(reply.Body, &resp); err != nil {
		b.Logger().Warn("unreadable entrance answer", "error", err)
	}
	admitted := reply.Performative() == messaging.Agree
	f.update(func(r *SessionResult) {
		r.Admitted = admitted
		r.Reason = resp.Message
	})
	if !admitted {
		b.Logger().Info("entrance refused", "reason", resp.Message)
		return false
	}
	b.Logger().Info("entered the fishery", "message", resp.Message)
	return true
}

func (f *Fisherman) fish(ctx context.Context, b *agent.Behaviour) {
	for i := 0; i < f.cfg.Attempts; i++ {
		if i > 0 && sleep(ctx, f.cfg.CatchPause.Std()) != nil {
			return
		}

		fish := f.catch()
		req, err := protocol.NewRequest(f.owner, protocol.IfCanTakeFishRequest, fish)
		if err != nil {
			b.Logger().Error("failed to build take-fish request", "error", err)
			return
		}
		f.update(func(r *SessionResult) { r.Attempts++ })

		reply, ok, err := b.Agent().Request(ctx, req, f.cfg.TakeTimeout.Std())
		if err != nil {
			b.Logger().Error("take-fish request failed", "error", err)
			return
		}
		if !ok {
			b.Logger().Warn("no answer to take-fish request, giving up")
			f.update(func(r *SessionResult) { r.TimedOut = true })
			return
		}

		var resp protocol.TakeFishResponse
		if err := protocol.DecodeInto(reply.Body, &resp); err != nil {
			b.Logger().Warn("unreadable take-fish answer", "error", err)
		}
		if !isGrant(reply.Performative()) {
			b.Logger().Info("not allowed to keep the fish", "species", fish.Species, "reason", resp.Message)
			f.update(func(r *SessionResult) {
				r.Denied++
				r.Reason = resp.Message
			})
			return
		}

		b.Logger().Info("fish kept", "species", fish.Species, "size", fish.Size, "mass", fish.Mass)
		f.update(func(r *SessionResult) {
			r.Granted++
			r.Catches = append(r.Catches, fish)
		})
		f.report(ctx, b, fish)
	}
}

// report sends the caught fish to the fish caretaker for its ledger.
func (f *Fisherman) report(ctx context.Context, b *agent.Behaviour, fish protocol.Fish) {
	req, err := protocol.NewRequest(f.caretaker, protocol.RegisterFishDataRequest, protocol.FishData{
		Species: fish.Species,
		Size:    fish.Size,
		Mass:    fish.Mass,
		Time:    time.Now(),
	})
	if err != nil {
		b.Logger().Error("failed to build fish data", "error", err)
		return
	}
	reply, ok, err := b.Agent().Request(ctx, req, f.cfg.TakeTimeout.Std())
	switch {
	case err != nil:
		b.Logger().Warn("fish data not delivered", "error", err)
	case !ok:
		b.Logger().Warn("no answer to fish data registration")
	default:
		var resp protocol.FishDataResponse
		if err := protocol.DecodeInto(reply.Body, &resp); err != nil {
			b.Logger().Warn("unreadable registration answer", "error", err)
			return
		}
		b.Logger().Debug("fish data registered", "registered", resp.Registered, "message", resp.Message)
	}
}

func (f *Fisherman) exit(ctx context.Context, b *agent.Behaviour) error {
	taken := f.Result().Granted
	req, err := protocol.NewRequest(f.owner, protocol.RegisterExitRequest, protocol.ExitRequest{
		Fisherman:   f.GetID(),
		FishesTaken: taken,
		ExitTime:    time.Now(),
	})
	if err != nil {
		return err
	}

	_, ok, err := b.Agent().Request(ctx, req, f.cfg.TakeTimeout.Std())
	if err != nil {
		return fmt.Errorf("register exit: %w", err)
	}
	if !ok {
		b.Logger().Warn("exit was not acknowledged")
		return nil
	}
	f.update(func(r *SessionResult) { r.Exited = true })
	b.Logger().Info("left the fishery", "fishes_taken", taken)
	return nil
}
