package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/boristopalov/fishery/pkg/actors"
	"github.com/boristopalov/fishery/pkg/agent"
	"github.com/boristopalov/fishery/pkg/config"
	"github.com/boristopalov/fishery/pkg/ledger"
	"github.com/boristopalov/fishery/pkg/messaging"
)

// Fishery is the full system: the owner, both caretakers and the
// fishermen on one in-process broker.
type Fishery struct {
	*Environment

	Broker    *messaging.SimpleBroker
	Ledger    *ledger.Ledger
	Owner     *actors.Owner
	Water     *actors.WaterCaretaker
	Fish      *actors.FishCaretaker
	Fishermen []*actors.Fisherman
}

// FishermanStatus pairs a fisherman with its session outcome.
type FishermanStatus struct {
	Address string
	Result  actors.SessionResult
}

// Status is a snapshot of the whole fishery.
type Status struct {
	State      State
	Owner      actors.OwnerSnapshot
	WaterAlarm int64
	Aerations  int64
	Aerating   bool
	StockAlarm int64
	Registered int64
	FeedKg     float64
	FeedOrders int
	Catches    ledger.Summary
	Fishermen  []FishermanStatus
}

// FishermanAddress returns the address of the n-th fisherman, counting
// from one.
func FishermanAddress(n int) string {
	return fmt.Sprintf("fisher%d@localhost", n)
}

// NewFishery builds every agent described by cfg. Nothing runs until
// Start.
func NewFishery(cfg config.Config, logger *slog.Logger) (*Fishery, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	l, err := ledger.Open(cfg.Ledger.DSN)
	if err != nil {
		return nil, err
	}
	f := &Fishery{
		Environment: NewEnvironment(logger),
		Broker:      messaging.NewBroker(),
		Ledger:      l,
	}
	opts := []agent.AgentOption{
		agent.WithMessageBroker(f.Broker),
		agent.WithLogger(logger),
	}

	if err := f.build(cfg, opts); err != nil {
		l.Close()
		return nil, err
	}
	return f, nil
}

func (f *Fishery) build(cfg config.Config, opts []agent.AgentOption) error {
	var err error
	if f.Owner, err = actors.NewOwner(cfg.Owner, opts...); err != nil {
		return err
	}
	if f.Water, err = actors.NewWaterCaretaker(cfg.Water, cfg.Owner.Address, nil, opts...); err != nil {
		return err
	}
	if f.Fish, err = actors.NewFishCaretaker(cfg.Fish, cfg.Owner.Address, f.Ledger, nil, nil, opts...); err != nil {
		return err
	}
	for i := 1; i <= cfg.Fisherman.Count; i++ {
		fm, err := actors.NewFisherman(FishermanAddress(i), cfg.Fisherman, cfg.Owner.Address, cfg.Fish.Address, nil, opts...)
		if err != nil {
			return err
		}
		f.Fishermen = append(f.Fishermen, fm)
	}

	for _, a := range f.services() {
		if err := f.AddAgent(a); err != nil {
			return err
		}
	}
	for _, fm := range f.Fishermen {
		if err := f.AddAgent(fm); err != nil {
			return err
		}
	}
	return nil
}

// Start brings up the owner and both caretakers before any fisherman, so
// a fisherman's first request always finds them subscribed.
func (f *Fishery) Start(ctx context.Context) error {
	crew := make([]Agent, 0, len(f.Fishermen))
	for _, fm := range f.Fishermen {
		crew = append(crew, fm)
	}
	return f.StartPhases(ctx, f.services(), crew)
}

func (f *Fishery) services() []Agent {
	return []Agent{f.Owner, f.Water, f.Fish}
}

// WaitSessions blocks until every fisherman has finished its session or
// ctx is done.
func (f *Fishery) WaitSessions(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fm := range f.Fishermen {
		g.Go(func() error {
			select {
			case <-fm.Finished():
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

// Status collects a snapshot from every agent and the ledger.
func (f *Fishery) Status(ctx context.Context) (Status, error) {
	s := Status{
		State:      f.GetState(),
		Owner:      f.Owner.Snapshot(),
		WaterAlarm: f.Water.Alarms(),
		Aerations:  f.Water.Aerations(),
		Aerating:   f.Water.Aerating(),
		StockAlarm: f.Fish.StockAlarms(),
		Registered: f.Fish.Registered(),
		FeedKg:     f.Fish.Feeder().Supply(),
		FeedOrders: f.Fish.Feeder().Orders(),
	}
	for _, fm := range f.Fishermen {
		s.Fishermen = append(s.Fishermen, FishermanStatus{Address: fm.GetID(), Result: fm.Result()})
	}
	summary, err := f.Ledger.Summary(ctx)
	if err != nil {
		return s, err
	}
	s.Catches = summary
	return s, nil
}

// Close stops every agent and releases the broker and the ledger.
func (f *Fishery) Close() error {
	err := f.Stop()
	f.Broker.Reset()
	return errors.Join(err, f.Ledger.Close())
}
