package actors

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/boristopalov/fishery/pkg/agent"
	"github.com/boristopalov/fishery/pkg/anomaly"
	"github.com/boristopalov/fishery/pkg/config"
	"github.com/boristopalov/fishery/pkg/protocol"
)

// WaterCaretaker samples the pond's pH and raises an alarm to the owner
// when a reading deviates from the recent window. Every alarm is followed
// by a round of aeration.
type WaterCaretaker struct {
	*agent.Agent

	owner     string
	threshold float64
	aeration  time.Duration
	sample    Sampler
	detector  *anomaly.Detector

	alarms    atomic.Int64
	aerations atomic.Int64
	aerating  atomic.Bool
}

// NewWaterCaretaker creates the water monitor reporting to owner. A nil
// sample draws pH readings from the configured normal distribution.
func NewWaterCaretaker(cfg config.WaterConfig, owner string, sample Sampler, opts ...agent.AgentOption) (*WaterCaretaker, error) {
	a, err := agent.New(append([]agent.AgentOption{agent.WithAgentId(cfg.Address)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create water caretaker: %w", err)
	}
	if sample == nil {
		sample = NormalSampler(cfg.PHMean, cfg.PHStdDev, nil)
	}
	w := &WaterCaretaker{
		Agent:     a,
		owner:     owner,
		threshold: cfg.Threshold,
		aeration:  cfg.Aeration.Std(),
		sample:    sample,
		detector:  anomaly.NewDetector(cfg.Window),
	}
	w.AddBehaviour(agent.NewPeriodic("water-quality", cfg.SamplePeriod.Std(), w.measure))
	w.AddBehaviour(ackListener(protocol.SendWaterQualityAlarm, time.Minute))
	return w, nil
}

func (w *WaterCaretaker) measure(ctx context.Context, b *agent.Behaviour) error {
	ph := w.sample()
	score, ok := w.detector.Observe(ph)
	b.Logger().Debug("pH sampled", "ph", ph, "z_score", score, "scored", ok)
	if !ok || !anomaly.WaterAlarm(score, w.threshold) {
		return nil
	}

	b.Logger().Warn("unusual pH change", "z_score", score, "threshold", w.threshold)
	req, err := protocol.NewRequest(w.owner, protocol.SendWaterQualityAlarm, protocol.WaterQualityAlarm{
		ZScore: score,
		PHData: w.detector.Samples(),
	})
	if err != nil {
		return err
	}
	if _, err := b.Agent().Notify(req); err != nil {
		return fmt.Errorf("send water quality alarm: %w", err)
	}
	w.alarms.Add(1)
	return w.aerate(ctx, b)
}

// aerate runs the pump for the configured time. Stopping the agent cuts it
// short.
func (w *WaterCaretaker) aerate(ctx context.Context, b *agent.Behaviour) error {
	w.aerating.Store(true)
	defer w.aerating.Store(false)

	b.Logger().Info("aeration started", "duration", w.aeration)
	if err := sleep(ctx, w.aeration); err != nil {
		b.Logger().Info("aeration interrupted")
		return err
	}
	w.aerations.Add(1)
	b.Logger().Info("aeration finished")
	return nil
}

// Alarms returns how many water quality alarms were sent.
func (w *WaterCaretaker) Alarms() int64 { return w.alarms.Load() }

// Aerations returns how many aeration rounds ran to completion.
func (w *WaterCaretaker) Aerations() int64 { return w.aerations.Load() }

// Aerating reports whether the pump is running right now.
func (w *WaterCaretaker) Aerating() bool { return w.aerating.Load() }

// Samples returns the current pH window, oldest first.
func (w *WaterCaretaker) Samples() []float64 { return w.detector.Samples() }
