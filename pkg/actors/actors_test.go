package actors

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/fishery/pkg/agent"
	"github.com/boristopalov/fishery/pkg/config"
	"github.com/boristopalov/fishery/pkg/ledger"
	"github.com/boristopalov/fishery/pkg/messaging"
	"github.com/boristopalov/fishery/pkg/protocol"
)

type starter interface {
	Start(ctx context.Context) error
	Stop() error
}

func quiet() agent.AgentOption {
	return agent.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func start(t *testing.T, a starter) {
	t.Helper()
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { a.Stop() })
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Owner.Capacity = 1
	cfg.Owner.QuotaLimit = 2
	cfg.Owner.ReceiveTimeout = config.Duration(time.Second)
	cfg.Water.SamplePeriod = config.Duration(10 * time.Millisecond)
	cfg.Water.Aeration = config.Duration(10 * time.Millisecond)
	cfg.Fish.MonitorPeriod = config.Duration(10 * time.Millisecond)
	cfg.Fish.FeedPeriod = config.Duration(time.Hour)
	cfg.Fish.HealthPeriod = config.Duration(time.Hour)
	cfg.Fish.OrderDelay = 0
	cfg.Fish.ReceiveTimeout = config.Duration(time.Second)
	cfg.Fisherman.Attempts = 3
	cfg.Fisherman.EnterTimeout = config.Duration(time.Second)
	cfg.Fisherman.TakeTimeout = config.Duration(time.Second)
	cfg.Fisherman.CatchPause = 0
	return cfg
}

func constant(v float64) Sampler {
	return func() float64 { return v }
}

func sequence(vs ...float64) Sampler {
	i := 0
	return func() float64 {
		v := vs[i%len(vs)]
		i++
		return v
	}
}

func newClient(t *testing.T, broker messaging.Broker, id string) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.WithAgentId(id), agent.WithMessageBroker(broker), quiet())
	require.NoError(t, err)
	start(t, a)
	return a
}

func ask(t *testing.T, client *agent.Agent, to string, p protocol.Protocol, body any, timeout time.Duration) (messaging.Message, bool) {
	t.Helper()
	req, err := protocol.NewRequest(to, p, body)
	require.NoError(t, err)
	reply, ok, err := client.Request(context.Background(), req, timeout)
	require.NoError(t, err)
	return reply, ok
}

func TestOwner(t *testing.T) {
	const ownerAddr = "owner@localhost"

	t.Run("entrance respects presence and capacity", func(t *testing.T) {
		broker := messaging.NewBroker()
		owner, err := NewOwner(testConfig().Owner, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, owner)
		fisher1 := newClient(t, broker, "fisher1@localhost")
		fisher2 := newClient(t, broker, "fisher2@localhost")
		enter := func(c *agent.Agent) (messaging.Message, protocol.EnterResponse) {
			reply, ok := ask(t, c, ownerAddr, protocol.IfCanEnterRequest,
				protocol.EnterRequest{FishermanData: protocol.FishermanData{JID: c.GetID()}}, time.Second)
			require.True(t, ok)
			var resp protocol.EnterResponse
			require.NoError(t, protocol.DecodeInto(reply.Body, &resp))
			return reply, resp
		}

		reply, resp := enter(fisher1)
		assert.Equal(t, messaging.Agree, reply.Performative())
		assert.Equal(t, string(protocol.IfCanEnterResponse), reply.Protocol())
		assert.True(t, resp.Allow)

		reply, resp = enter(fisher1)
		assert.Equal(t, messaging.Refuse, reply.Performative())
		assert.Contains(t, resp.Message, "already inside")

		reply, resp = enter(fisher2)
		assert.Equal(t, messaging.Refuse, reply.Performative())
		assert.Contains(t, resp.Message, "full capacity")

		reply, ok := ask(t, fisher1, ownerAddr, protocol.RegisterExitRequest,
			protocol.ExitRequest{Fisherman: fisher1.GetID(), ExitTime: time.Now()}, time.Second)
		require.True(t, ok)
		assert.Equal(t, messaging.Inform, reply.Performative())
		assert.Empty(t, owner.Snapshot().Present)

		reply, _ = enter(fisher2)
		assert.Equal(t, messaging.Agree, reply.Performative())
		assert.Equal(t, []string{"fisher2@localhost"}, owner.Snapshot().Present)
	})

	t.Run("exit of an absent fisherman is still acknowledged", func(t *testing.T) {
		broker := messaging.NewBroker()
		owner, err := NewOwner(testConfig().Owner, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, owner)
		fisher := newClient(t, broker, "fisher1@localhost")

		reply, ok := ask(t, fisher, ownerAddr, protocol.RegisterExitRequest, protocol.ExitRequest{}, time.Second)
		require.True(t, ok)
		var resp protocol.ExitResponse
		require.NoError(t, protocol.DecodeInto(reply.Body, &resp))
		assert.True(t, resp.Acknowledged)
	})

	t.Run("take-fish stops at the quota", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig().Owner
		cfg.DenyPerformative = string(messaging.Disconfirm)
		owner, err := NewOwner(cfg, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, owner)
		fisher := newClient(t, broker, "fisher1@localhost")

		var got []messaging.Performative
		for i := 0; i < 4; i++ {
			reply, ok := ask(t, fisher, ownerAddr, protocol.IfCanTakeFishRequest,
				protocol.Fish{Species: "carp", Size: 40, Mass: 2}, time.Second)
			require.True(t, ok)
			var resp protocol.TakeFishResponse
			require.NoError(t, protocol.DecodeInto(reply.Body, &resp))
			assert.Equal(t, isGrant(reply.Performative()), resp.Allow)
			got = append(got, reply.Performative())
		}
		assert.Equal(t, []messaging.Performative{
			messaging.Agree, messaging.Agree, messaging.Disconfirm, messaging.Disconfirm,
		}, got)
		assert.Equal(t, 2, owner.Snapshot().Taken)

		owner.ResetQuota()
		reply, ok := ask(t, fisher, ownerAddr, protocol.IfCanTakeFishRequest, protocol.Fish{Species: "pike"}, time.Second)
		require.True(t, ok)
		assert.Equal(t, messaging.Agree, reply.Performative())
	})

	t.Run("malformed body gets no reply", func(t *testing.T) {
		broker := messaging.NewBroker()
		owner, err := NewOwner(testConfig().Owner, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, owner)
		fisher := newClient(t, broker, "fisher1@localhost")

		req := messaging.NewMessage(ownerAddr, messaging.Request, string(protocol.IfCanEnterRequest), "{not json")
		_, ok, err := fisher.Request(context.Background(), req, 100*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, owner.Snapshot().Present)

		// the owner keeps serving afterwards
		reply, ok := ask(t, fisher, ownerAddr, protocol.IfCanEnterRequest, protocol.EnterRequest{}, time.Second)
		require.True(t, ok)
		assert.Equal(t, messaging.Agree, reply.Performative())
	})

	t.Run("body of another protocol is rejected", func(t *testing.T) {
		broker := messaging.NewBroker()
		owner, err := NewOwner(testConfig().Owner, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)

		msg := messaging.NewMessage(ownerAddr, messaging.Request, string(protocol.RegisterFishDataRequest), "{}")
		err = owner.handle(context.Background(), nil, msg, &protocol.FishData{})
		assert.ErrorIs(t, err, errUnexpectedBody)
		assert.Empty(t, owner.Snapshot().Present)
	})

	t.Run("alarms are acknowledged under their own protocol", func(t *testing.T) {
		broker := messaging.NewBroker()
		owner, err := NewOwner(testConfig().Owner, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, owner)
		caretaker := newClient(t, broker, "water_caretaker@localhost")

		reply, ok := ask(t, caretaker, ownerAddr, protocol.SendWaterQualityAlarm,
			protocol.WaterQualityAlarm{ZScore: 2.3, PHData: []float64{10, 11, 25}}, time.Second)
		require.True(t, ok)
		assert.Equal(t, messaging.Inform, reply.Performative())
		assert.Equal(t, string(protocol.SendWaterQualityAlarm), reply.Protocol())

		_, ok = ask(t, caretaker, ownerAddr, protocol.SendNeedsStockingAlarm,
			protocol.StockingAlarm{ZScore: 0.01, Message: "flat"}, time.Second)
		require.True(t, ok)

		snap := owner.Snapshot()
		assert.Equal(t, int64(1), snap.WaterAlarms)
		assert.Equal(t, int64(1), snap.StockAlarms)
		z, ok := owner.LastWaterZScore()
		assert.True(t, ok)
		assert.Equal(t, 2.3, z)
	})

	t.Run("periodic reset clears the quota", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig().Owner
		cfg.QuotaReset = config.Duration(20 * time.Millisecond)
		owner, err := NewOwner(cfg, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, owner)
		fisher := newClient(t, broker, "fisher1@localhost")

		_, ok := ask(t, fisher, ownerAddr, protocol.IfCanTakeFishRequest, protocol.Fish{Species: "carp"}, time.Second)
		require.True(t, ok)
		assert.Eventually(t, func() bool { return owner.Snapshot().Taken == 0 }, time.Second, 5*time.Millisecond)
	})
}

func TestWaterCaretaker(t *testing.T) {
	broker := messaging.NewBroker()
	cfg := testConfig()
	owner, err := NewOwner(cfg.Owner, agent.WithMessageBroker(broker), quiet())
	require.NoError(t, err)
	start(t, owner)

	// 10, 10, 30 scores about 1.41, above the 1.1 threshold
	water, err := NewWaterCaretaker(cfg.Water, owner.GetID(), sequence(10, 10, 30), agent.WithMessageBroker(broker), quiet())
	require.NoError(t, err)
	start(t, water)

	assert.Eventually(t, func() bool {
		return owner.Snapshot().WaterAlarms >= 1 && water.Aerations() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, water.Alarms(), int64(1))
	assert.LessOrEqual(t, len(water.Samples()), cfg.Water.Window)
	assert.Eventually(t, func() bool { return water.Correlator().Len() == 0 }, time.Second, 10*time.Millisecond,
		"acknowledgements resolve the open alarms")
}

func TestWaterCaretakerAerating(t *testing.T) {
	broker := messaging.NewBroker()
	cfg := testConfig()
	cfg.Water.Aeration = config.Duration(time.Hour)
	owner, err := NewOwner(cfg.Owner, agent.WithMessageBroker(broker), quiet())
	require.NoError(t, err)
	start(t, owner)

	water, err := NewWaterCaretaker(cfg.Water, owner.GetID(), sequence(10, 10, 30), agent.WithMessageBroker(broker), quiet())
	require.NoError(t, err)
	assert.False(t, water.Aerating())
	require.NoError(t, water.Start(context.Background()))

	assert.Eventually(t, water.Aerating, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, water.Stop())
	assert.False(t, water.Aerating(), "stopping cuts the aeration short")
	assert.Zero(t, water.Aerations())
}

func TestFishCaretaker(t *testing.T) {
	t.Run("flat counts raise the stocking alarm", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig()
		owner, err := NewOwner(cfg.Owner, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, owner)
		l, err := ledger.Open("")
		require.NoError(t, err)
		defer l.Close()

		fish, err := NewFishCaretaker(cfg.Fish, owner.GetID(), l, constant(500), constant(480), agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, fish)

		assert.Eventually(t, func() bool { return owner.Snapshot().StockAlarms >= 1 }, 2*time.Second, 10*time.Millisecond)
		assert.GreaterOrEqual(t, fish.StockAlarms(), int64(1))
	})

	t.Run("varying counts do not", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig()
		newClient(t, broker, cfg.Owner.Address)
		l, err := ledger.Open("")
		require.NoError(t, err)
		defer l.Close()

		fish, err := NewFishCaretaker(cfg.Fish, cfg.Owner.Address, l,
			sequence(100, 900), sequence(900, 100), agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, fish)

		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, int64(0), fish.StockAlarms())
	})

	t.Run("fish data lands in the ledger", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig()
		l, err := ledger.Open("")
		require.NoError(t, err)
		defer l.Close()
		fish, err := NewFishCaretaker(cfg.Fish, cfg.Owner.Address, l, nil, nil, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, fish)
		fisher := newClient(t, broker, "fisher1@localhost")

		reply, ok := ask(t, fisher, fish.GetID(), protocol.RegisterFishDataRequest,
			protocol.FishData{Species: "trout", Size: 35, Mass: 1.2, Time: time.Now()}, time.Second)
		require.True(t, ok)
		assert.Equal(t, messaging.Inform, reply.Performative())
		assert.Equal(t, string(protocol.RegisterFishDataResponse), reply.Protocol())

		s, err := l.Summary(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, s.Count)
		assert.Equal(t, int64(1), fish.Registered())
	})

	t.Run("feeder reorders when supply runs low", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig()
		cfg.Fish.FeedPeriod = config.Duration(10 * time.Millisecond)
		cfg.Fish.SupplyKg = 1.5
		cfg.Fish.PortionKg = 1
		cfg.Fish.ReorderThresholdKg = 1
		cfg.Fish.ReorderAmountKg = 10
		l, err := ledger.Open("")
		require.NoError(t, err)
		defer l.Close()
		fish, err := NewFishCaretaker(cfg.Fish, cfg.Owner.Address, l, nil, nil, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, fish)

		assert.Eventually(t, func() bool { return fish.Feeder().Orders() >= 1 }, time.Second, 5*time.Millisecond)
		assert.GreaterOrEqual(t, fish.Feeder().Supply(), 0.0)
	})

	t.Run("requires a ledger", func(t *testing.T) {
		_, err := NewFishCaretaker(testConfig().Fish, "owner@localhost", nil, nil, nil,
			agent.WithMessageBroker(messaging.NewBroker()))
		assert.Error(t, err)
	})
}

func TestFisherman(t *testing.T) {
	t.Run("full session against the owner and caretaker", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig()
		owner, err := NewOwner(cfg.Owner, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, owner)
		l, err := ledger.Open("")
		require.NoError(t, err)
		defer l.Close()
		fish, err := NewFishCaretaker(cfg.Fish, owner.GetID(), l, nil, nil, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, fish)

		fisher, err := NewFisherman("fisher1@localhost", cfg.Fisherman, owner.GetID(), fish.GetID(),
			func() protocol.Fish { return protocol.Fish{Species: "carp", Size: 40, Mass: 2} },
			agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, fisher)

		select {
		case <-fisher.Finished():
		case <-time.After(5 * time.Second):
			t.Fatal("Timeout waiting for session")
		}

		res := fisher.Result()
		assert.True(t, res.Admitted)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, 2, res.Granted)
		assert.Equal(t, 1, res.Denied)
		assert.True(t, res.Exited)
		assert.Len(t, res.Catches, 2)
		assert.Empty(t, owner.Snapshot().Present)

		s, err := l.Summary(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, s.Count)
		assert.InDelta(t, 4.0, s.TotalMass, 1e-9)
	})

	t.Run("refused entrance ends the session", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig()
		owner, err := NewOwner(cfg.Owner, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, owner)
		// fill the only place
		other := newClient(t, broker, "fisher9@localhost")
		reply, ok := ask(t, other, owner.GetID(), protocol.IfCanEnterRequest, protocol.EnterRequest{}, time.Second)
		require.True(t, ok)
		require.Equal(t, messaging.Agree, reply.Performative())

		fisher, err := NewFisherman("fisher1@localhost", cfg.Fisherman, owner.GetID(), cfg.Fish.Address, nil,
			agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, fisher)

		<-fisher.Finished()
		res := fisher.Result()
		assert.False(t, res.Admitted)
		assert.Contains(t, res.Reason, "full capacity")
		assert.Equal(t, 0, res.Attempts)
	})

	t.Run("waits for an owner that comes up late", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig()
		cfg.Fisherman.Attempts = 0
		owner, err := NewOwner(cfg.Owner, agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		t.Cleanup(func() { owner.Stop() })

		fisher, err := NewFisherman("fisher1@localhost", cfg.Fisherman, owner.GetID(), cfg.Fish.Address, nil,
			agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, fisher)

		time.Sleep(30 * time.Millisecond)
		require.NoError(t, owner.Start(context.Background()))

		select {
		case <-fisher.Finished():
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for session")
		}
		res := fisher.Result()
		assert.True(t, res.Admitted, res.Reason)
		assert.True(t, res.Exited)
	})

	t.Run("owner that never appears is a timeout", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig()
		cfg.Fisherman.EnterTimeout = config.Duration(50 * time.Millisecond)

		fisher, err := NewFisherman("fisher1@localhost", cfg.Fisherman, cfg.Owner.Address, cfg.Fish.Address, nil,
			agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, fisher)

		select {
		case <-fisher.Finished():
		case <-time.After(time.Second):
			t.Fatal("Timeout waiting for session")
		}
		res := fisher.Result()
		assert.True(t, res.TimedOut)
		assert.False(t, res.Admitted)
		assert.Equal(t, "owner is not reachable", res.Reason)
	})

	t.Run("silent owner is a timeout", func(t *testing.T) {
		broker := messaging.NewBroker()
		cfg := testConfig()
		cfg.Fisherman.EnterTimeout = config.Duration(50 * time.Millisecond)
		newClient(t, broker, cfg.Owner.Address)

		fisher, err := NewFisherman("fisher1@localhost", cfg.Fisherman, cfg.Owner.Address, cfg.Fish.Address, nil,
			agent.WithMessageBroker(broker), quiet())
		require.NoError(t, err)
		start(t, fisher)

		select {
		case <-fisher.Finished():
		case <-time.After(time.Second):
			t.Fatal("Timeout waiting for session")
		}
		res := fisher.Result()
		assert.True(t, res.TimedOut)
		assert.False(t, res.Admitted)
	})
}

func TestSamplers(t *testing.T) {
	assert.Equal(t, 7.0, constant(7)())
	s := NormalSampler(10, 0, nil)
	assert.Equal(t, 10.0, s())

	c := RandomCatch(nil)
	for i := 0; i < 20; i++ {
		f := c()
		assert.Contains(t, species, f.Species)
		assert.GreaterOrEqual(t, f.Size, 15.0)
		assert.Greater(t, f.Mass, 0.0)
	}
}
