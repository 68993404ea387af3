package actors

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/boristopalov/fishery/pkg/agent"
	"github.com/boristopalov/fishery/pkg/config"
	"github.com/boristopalov/fishery/pkg/fishery"
	"github.com/boristopalov/fishery/pkg/messaging"
	"github.com/boristopalov/fishery/pkg/protocol"
)

// Owner decides who may fish: it admits and releases fishermen, enforces
// the daily catch quota and takes the caretakers' alarms.
type Owner struct {
	*agent.Agent

	admission *fishery.Admission
	quota     *fishery.Quota
	grant     messaging.Performative
	deny      messaging.Performative

	waterAlarms atomic.Int64
	stockAlarms atomic.Int64
	lastWaterZ  atomic.Value // float64
}

// OwnerSnapshot is a point-in-time view of the owner's state.
type OwnerSnapshot struct {
	Present     []string
	Capacity    int
	Taken       int
	Limit       int
	WaterAlarms int64
	StockAlarms int64
}

func NewOwner(cfg config.OwnerConfig, opts ...agent.AgentOption) (*Owner, error) {
	a, err := agent.New(append([]agent.AgentOption{agent.WithAgentId(cfg.Address)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create owner: %w", err)
	}
	o := &Owner{
		Agent:     a,
		admission: fishery.NewAdmission(cfg.Capacity),
		quota:     fishery.NewQuota(cfg.QuotaLimit),
		grant:     messaging.Performative(cfg.GrantPerformative),
		deny:      messaging.Performative(cfg.DenyPerformative),
	}
	if o.grant == "" {
		o.grant = messaging.Agree
	}
	if o.deny == "" {
		o.deny = messaging.Refuse
	}

	timeout := cfg.ReceiveTimeout.Std()
	o.AddBehaviour(serve("entrance", protocol.IfCanEnterRequest, timeout, o.handle))
	o.AddBehaviour(serve("take-fish", protocol.IfCanTakeFishRequest, timeout, o.handle))
	o.AddBehaviour(serve("exit", protocol.RegisterExitRequest, timeout, o.handle))
	o.AddBehaviour(serve("water-alarm", protocol.SendWaterQualityAlarm, timeout, o.handle))
	o.AddBehaviour(serve("stock-alarm", protocol.SendNeedsStockingAlarm, timeout, o.handle))
	if cfg.QuotaReset > 0 {
		o.AddBehaviour(agent.NewPeriodic("quota-reset", cfg.QuotaReset.Std(), o.resetQuota))
	}
	return o, nil
}

// handle routes a decoded request to the matching owner duty.
func (o *Owner) handle(ctx context.Context, b *agent.Behaviour, msg messaging.Message, body any) error {
	switch req := body.(type) {
	case *protocol.EnterRequest:
		return o.handleEnter(b, msg, req)
	case *protocol.TakeFishRequest:
		return o.handleTakeFish(b, msg, req)
	case *protocol.ExitRequest:
		return o.handleExit(b, msg, req)
	case *protocol.WaterQualityAlarm:
		return o.handleWaterAlarm(b, msg, req)
	case *protocol.StockingAlarm:
		return o.handleStockAlarm(b, msg, req)
	default:
		return unexpectedBody(msg, body)
	}
}

func (o *Owner) handleEnter(b *agent.Behaviour, msg messaging.Message, req *protocol.EnterRequest) error {
	if req.FishermanData.JID != "" && req.FishermanData.JID != msg.From {
		b.Logger().Warn("entrance request names another fisherman, admitting the sender",
			"from", msg.From, "jid", req.FishermanData.JID)
	}

	admitErr := o.admission.Enter(msg.From)
	perf := messaging.Agree
	if admitErr != nil {
		perf = messaging.Refuse
		b.Logger().Info("entrance refused", "fisherman", msg.From, "reason", admitErr)
	} else {
		b.Logger().Info("fisherman entered",
			"fisherman", msg.From,
			"present", o.admission.Count(),
			"capacity", o.admission.Capacity())
	}

	reply, err := protocol.NewReply(msg, perf, protocol.IfCanEnterRequest, protocol.EnterResponse{
		Allow:   admitErr == nil,
		Message: fishery.Reason(admitErr),
	})
	if err != nil {
		return err
	}
	return b.Send(reply)
}

func (o *Owner) handleTakeFish(b *agent.Behaviour, msg messaging.Message, fish *protocol.TakeFishRequest) error {
	if !o.admission.IsPresent(msg.From) {
		b.Logger().Warn("take-fish request from a fisherman who is not inside", "fisherman", msg.From)
	}

	granted, taken := o.quota.Take()
	resp := protocol.TakeFishResponse{Allow: granted}
	perf := o.grant
	if granted {
		resp.Message = fmt.Sprintf("Permission granted, %d of %d fish taken today.", taken, o.quota.Limit())
		b.Logger().Info("fish taken",
			"fisherman", msg.From,
			"species", fish.Species,
			"taken", taken,
			"limit", o.quota.Limit())
	} else {
		perf = o.deny
		resp.Message = fmt.Sprintf("Permission denied, the daily quota of %d fish is reached.", o.quota.Limit())
		b.Logger().Info("take-fish refused, quota reached", "fisherman", msg.From, "limit", o.quota.Limit())
	}

	reply, err := protocol.NewReply(msg, perf, protocol.IfCanTakeFishRequest, resp)
	if err != nil {
		return err
	}
	return b.Send(reply)
}

func (o *Owner) handleExit(b *agent.Behaviour, msg messaging.Message, req *protocol.ExitRequest) error {

	if o.admission.Exit(msg.From) {
		b.Logger().Info("fisherman left",
			"fisherman", msg.From,
			"fishes_taken", req.FishesTaken,
			"exit_time", req.ExitTime)
	} else {
		b.Logger().Warn("exit from a fisherman who was not inside", "fisherman", msg.From)
	}

	reply, err := protocol.NewReply(msg, messaging.Inform, protocol.RegisterExitRequest, protocol.ExitResponse{
		Acknowledged: true,
		Message:      "Goodbye.",
	})
	if err != nil {
		return err
	}
	return b.Send(reply)
}

func (o *Owner) handleWaterAlarm(b *agent.Behaviour, msg messaging.Message, alarm *protocol.WaterQualityAlarm) error {
	o.waterAlarms.Add(1)
	o.lastWaterZ.Store(alarm.ZScore)
	b.Logger().Warn("water quality alarm",
		"from", msg.From,
		"z_score", alarm.ZScore,
		"samples", len(alarm.PHData))
	return o.ackAlarm(b, msg, protocol.SendWaterQualityAlarm)
}

func (o *Owner) handleStockAlarm(b *agent.Behaviour, msg messaging.Message, alarm *protocol.StockingAlarm) error {
	o.stockAlarms.Add(1)
	b.Logger().Warn("restocking alarm",
		"from", msg.From,
		"z_score", alarm.ZScore,
		"message", alarm.Message)
	return o.ackAlarm(b, msg, protocol.SendNeedsStockingAlarm)
}

func (o *Owner) ackAlarm(b *agent.Behaviour, msg messaging.Message, p protocol.Protocol) error {
	reply, err := protocol.NewReply(msg, messaging.Inform, p, protocol.AlarmAck{Received: true})
	if err != nil {
		return err
	}
	return b.Send(reply)
}

func (o *Owner) resetQuota(ctx context.Context, b *agent.Behaviour) error {
	if taken := o.quota.Taken(); taken > 0 {
		o.quota.Reset()
		b.Logger().Info("daily quota reset", "taken", taken, "limit", o.quota.Limit())
	}
	return nil
}

// LastWaterZScore returns the score of the latest water alarm.
func (o *Owner) LastWaterZScore() (float64, bool) {
	z, ok := o.lastWaterZ.Load().(float64)
	return z, ok
}

func (o *Owner) Snapshot() OwnerSnapshot {
	return OwnerSnapshot{
		Present:     o.admission.Present(),
		Capacity:    o.admission.Capacity(),
		Taken:       o.quota.Taken(),
		Limit:       o.quota.Limit(),
		WaterAlarms: o.waterAlarms.Load(),
		StockAlarms: o.stockAlarms.Load(),
	}
}

// ResetQuota starts a new fishing day.
func (o *Owner) ResetQuota() {
	o.quota.Reset()
}
