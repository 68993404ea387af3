package agent

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/boristopalov/fishery/pkg/messaging"
)

const (
	DefaultInboxSize   = 100
	DefaultBacklogSize = 100
)

type AgentParams struct {
	AgentID       string
	MessageBroker messaging.Broker
	Logger        *slog.Logger
	InboxSize     int
	BacklogSize   int
	Correlator    *messaging.Correlator
}

type AgentOption func(*AgentParams)

func WithAgentId(id string) AgentOption {
	return func(p *AgentParams) {
		p.AgentID = id
	}
}

func WithMessageBroker(b messaging.Broker) AgentOption {
	return func(p *AgentParams) {
		p.MessageBroker = b
	}
}

func WithLogger(l *slog.Logger) AgentOption {
	return func(p *AgentParams) {
		p.Logger = l
	}
}

// WithInboxSize sets the buffer of the channel the broker delivers into.
func WithInboxSize(n int) AgentOption {
	return func(p *AgentParams) {
		p.InboxSize = n
	}
}

// WithBacklogSize bounds how many unclaimed messages wait for a receive.
func WithBacklogSize(n int) AgentOption {
	return func(p *AgentParams) {
		p.BacklogSize = n
	}
}

func WithCorrelator(c *messaging.Correlator) AgentOption {
	return func(p *AgentParams) {
		p.Correlator = c
	}
}

func defaultAgentParams() *AgentParams {
	return &AgentParams{
		AgentID:     "agent-" + uuid.New().String(),
		Logger:      slog.Default(),
		InboxSize:   DefaultInboxSize,
		BacklogSize: DefaultBacklogSize,
	}
}
