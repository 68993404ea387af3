// Package actors implements the fishery agents: the owner, the two
// caretakers and the fishermen. Each one is an agent.Agent with its own
// behaviours and a slice of the fishery state.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/boristopalov/fishery/pkg/agent"
	"github.com/boristopalov/fishery/pkg/messaging"
	"github.com/boristopalov/fishery/pkg/protocol"
)

var errUnexpectedBody = errors.New("unexpected request body")

// Sampler produces one sensor reading.
type Sampler func() float64

// NormalSampler draws readings from N(mean, stdDev). A nil rng uses the
// global source.
func NormalSampler(mean, stdDev float64, rng *rand.Rand) Sampler {
	return func() float64 {
		if rng == nil {
			return mean + stdDev*rand.NormFloat64()
		}
		return mean + stdDev*rng.NormFloat64()
	}
}

// Handler answers one incoming request. body is the decoded request, one
// of the pointer body types of package protocol.
type Handler func(ctx context.Context, b *agent.Behaviour, msg messaging.Message, body any) error

// serve builds a cyclic behaviour that waits for requests of protocol p,
// decodes each body by its protocol and hands it to handle. Requests with
// a malformed body are dropped without a reply.
func serve(name string, p protocol.Protocol, timeout time.Duration, handle Handler) *agent.Behaviour {
	return agent.NewCyclic(name, func(ctx context.Context, b *agent.Behaviour) error {
		msg, ok := b.Receive(ctx, timeout)
		if !ok {
			if ctx.Err() == nil {
				b.Logger().Debug("no new messages", "protocol", p)
			}
			return nil
		}
		b.Logger().Debug("request received",
			"from", msg.From,
			"protocol", p,
			"conversation_id", msg.ConversationID())
		body, err := protocol.Decode(protocol.Of(msg), msg.Body)
		if err != nil {
			return dropMalformed(b, msg, err)
		}
		return handle(ctx, b, msg, body)
	}, agent.WithTemplate(protocol.RequestTemplate(p)))
}

// ackListener resolves the owner's acknowledgements of alarms sent with
// Agent.Notify.
func ackListener(p protocol.Protocol, timeout time.Duration) *agent.Behaviour {
	tmpl := messaging.Template{Metadata: messaging.Metadata{
		messaging.KeyProtocol:     string(p),
		messaging.KeyPerformative: string(messaging.Inform),
	}}
	return agent.NewCyclic(string(p)+"-ack", func(ctx context.Context, b *agent.Behaviour) error {
		msg, ok := b.Receive(ctx, timeout)
		if !ok {
			return nil
		}
		pending, err := b.Agent().Correlator().Resolve(msg)
		if err != nil {
			b.Logger().Warn("dropping acknowledgement", "error", err, "from", msg.From)
			return nil
		}
		var ack protocol.AlarmAck
		if err := protocol.DecodeInto(msg.Body, &ack); err != nil {
			return err
		}
		b.Logger().Info("alarm acknowledged",
			"by", msg.From,
			"received", ack.Received,
			"after", time.Since(pending.SentAt).Round(time.Millisecond))
		return nil
	}, agent.WithTemplate(tmpl))
}

// unexpectedBody reports a decoded body the handler has no case for.
func unexpectedBody(msg messaging.Message, body any) error {
	return fmt.Errorf("%w: %T for %s", errUnexpectedBody, body, msg.Protocol())
}

// dropMalformed logs a request whose body could not be decoded. No reply
// is sent for it.
func dropMalformed(b *agent.Behaviour, msg messaging.Message, err error) error {
	if errors.Is(err, protocol.ErrMalformedBody) {
		b.Logger().Warn("dropping malformed request",
			"from", msg.From,
			"protocol", msg.Protocol(),
			"error", err)
		return nil
	}
	return err
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isGrant(p messaging.Performative) bool {
	return p == messaging.Agree || p == messaging.Inform
}
