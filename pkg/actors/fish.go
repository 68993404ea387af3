package actors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/boristopalov/fishery/pkg/agent"
	"github.com/boristopalov/fishery/pkg/anomaly"
	"github.com/boristopalov/fishery/pkg/config"
	"github.com/boristopalov/fishery/pkg/fishery"
	"github.com/boristopalov/fishery/pkg/ledger"
	"github.com/boristopalov/fishery/pkg/messaging"
	"github.com/boristopalov/fishery/pkg/protocol"
)

// FishCaretaker looks after the stock: it watches fish counts from the
// camera and the sonar, registers reported catches, feeds the fish and
// reorders feed.
type FishCaretaker struct {
	*agent.Agent

	owner      string
	threshold  float64
	orderDelay time.Duration

	camera      Sampler
	sonar       Sampler
	cameraScore *anomaly.Detector
	sonarScore  *anomaly.Detector

	feeder *fishery.Feeder
	ledger *ledger.Ledger

	stockAlarms atomic.Int64
	registered  atomic.Int64
}

// NewFishCaretaker creates the stock monitor reporting to owner and
// recording catches into l. Nil samplers draw counts from the configured
// normal distributions.
func NewFishCaretaker(cfg config.FishConfig, owner string, l *ledger.Ledger, camera, sonar Sampler, opts ...agent.AgentOption) (*FishCaretaker, error) {
	if l == nil {
		return nil, errors.New("create fish caretaker: no ledger")
	}
	a, err := agent.New(append([]agent.AgentOption{agent.WithAgentId(cfg.Address)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create fish caretaker: %w", err)
	}
	if camera == nil {
		camera = NormalSampler(cfg.CameraMean, cfg.CameraStdDev, nil)
	}
	if sonar == nil {
		sonar = NormalSampler(cfg.SonarMean, cfg.SonarStdDev, nil)
	}

	f := &FishCaretaker{
		Agent:       a,
		owner:       owner,
		threshold:   cfg.StockThreshold,
		orderDelay:  cfg.OrderDelay.Std(),
		camera:      camera,
		sonar:       sonar,
		cameraScore: anomaly.NewDetector(cfg.Window),
		sonarScore:  anomaly.NewDetector(cfg.Window),
		feeder: fishery.NewFeeder(fishery.FeederParams{
			SupplyKg:           cfg.SupplyKg,
			ReorderThresholdKg: cfg.ReorderThresholdKg,
			ReorderAmountKg:    cfg.ReorderAmountKg,
			PortionKg:          cfg.PortionKg,
		}),
		ledger: l,
	}

	f.AddBehaviour(agent.NewPeriodic("stock-monitor", cfg.MonitorPeriod.Std(), f.monitorStock))
	f.AddBehaviour(serve("fish-data", protocol.RegisterFishDataRequest, cfg.ReceiveTimeout.Std(), f.registerFishData))
	f.AddBehaviour(agent.NewPeriodic("feeder", cfg.FeedPeriod.Std(), f.feed))
	f.AddBehaviour(agent.NewPeriodic("health", cfg.HealthPeriod.Std(), f.reportHealth))
	f.AddBehaviour(ackListener(protocol.SendNeedsStockingAlarm, time.Minute))
	return f, nil
}

func (f *FishCaretaker) monitorStock(ctx context.Context, b *agent.Behaviour) error {
	camera, sonar := f.camera(), f.sonar()
	zc, okc := f.cameraScore.Observe(camera)
	zs, oks := f.sonarScore.Observe(sonar)
	b.Logger().Debug("fish counted",
		"camera", camera, "camera_z", zc,
		"sonar", sonar, "sonar_z", zs)

	// both windows need a score before the stock can be judged
	if !okc || !oks || !anomaly.StockAlarm(zc, zs, f.threshold) {
		return nil
	}

	index := zc
	if math.Abs(zs) > math.Abs(zc) {
		index = zs
	}
	b.Logger().Warn("fish counts are flat, restocking needed", "z_score", index, "threshold", f.threshold)
	req, err := protocol.NewRequest(f.owner, protocol.SendNeedsStockingAlarm, protocol.StockingAlarm{
		ZScore:  index,
		Message: fmt.Sprintf("Fish counts stayed within %.2f standard deviations, the pond needs stocking.", f.threshold),
	})
	if err != nil {
		return err
	}
	if _, err := b.Agent().Notify(req); err != nil {
		return fmt.Errorf("send stocking alarm: %w", err)
	}
	f.stockAlarms.Add(1)
	return nil
}

func (f *FishCaretaker) registerFishData(ctx context.Context, b *agent.Behaviour, msg messaging.Message, body any) error {
	fd, ok := body.(*protocol.FishData)
	if !ok {
		return unexpectedBody(msg, body)
	}

	resp := protocol.FishDataResponse{Registered: true, Message: "Catch registered."}
	perf := messaging.Inform
	id, err := f.ledger.Record(ctx, msg.From, *fd)
	if err != nil {
		b.Logger().Error("failed to register catch", "fisherman", msg.From, "error", err)
		resp = protocol.FishDataResponse{Registered: false, Message: "Catch could not be registered."}
		perf = messaging.Refuse
	} else {
		f.registered.Add(1)
		b.Logger().Info("catch registered",
			"id", id,
			"fisherman", msg.From,
			"species", fd.Species,
			"size", fd.Size,
			"mass", fd.Mass)
	}

	reply, err := protocol.NewReply(msg, perf, protocol.RegisterFishDataRequest, resp)
	if err != nil {
		return err
	}
	return b.Send(reply)
}

func (f *FishCaretaker) feed(ctx context.Context, b *agent.Behaviour) error {
	report, err := f.feeder.Tick(ctx, f.orderDelay)
	if report.FedKg > 0 {
		b.Logger().Info("fish fed", "fed_kg", report.FedKg, "supply_kg", report.SupplyKg)
	}
	if report.Reordered {
		b.Logger().Info("feed ordered", "supply_kg", report.SupplyKg, "orders", f.feeder.Orders())
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fishery.ErrNoPortion), errors.Is(err, fishery.ErrNoFeed):
		b.Logger().Warn("feeding skipped", "reason", err, "reorder_needed", f.feeder.ReorderNeeded())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	default:
		return err
	}
}

func (f *FishCaretaker) reportHealth(ctx context.Context, b *agent.Behaviour) error {
	s, err := f.ledger.Summary(ctx)
	if err != nil {
		return err
	}
	b.Logger().Info("stock health",
		"catches", s.Count,
		"avg_size", s.AvgSize,
		"total_mass", s.TotalMass,
		"feed_kg", f.feeder.Supply())

	species, err := f.ledger.BySpecies(ctx)
	if err != nil {
		return err
	}
	for _, sp := range species {
		b.Logger().Debug("species caught", "species", sp.Species, "count", sp.Count, "total_mass", sp.TotalMass)
	}
	return nil
}

// StockAlarms returns how many restocking alarms were sent.
func (f *FishCaretaker) StockAlarms() int64 { return f.stockAlarms.Load() }

// Registered returns how many catches were written to the ledger.
func (f *FishCaretaker) Registered() int64 { return f.registered.Load() }

func (f *FishCaretaker) Feeder() *fishery.Feeder { return f.feeder }
