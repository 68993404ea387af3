package messaging

import (
	"time"
)

// Metadata keys carried on every message
const (
	KeyPerformative   = "performative"
	KeyProtocol       = "protocol"
	KeyLanguage       = "language"
	KeyConversationID = "conversation-id"
	KeyReplyWith      = "reply-with"
	KeyInReplyTo      = "in-reply-to"
)

// LanguageJSON is the only body language agents speak.
const LanguageJSON = "JSON"

// Performative is the speech-act tag of a message.
type Performative string

const (
	Request    Performative = "request"
	Agree      Performative = "agree"
	Refuse     Performative = "refuse"
	Inform     Performative = "inform"
	Disconfirm Performative = "disconfirm"
	QueryIf    Performative = "query-if"
)

// Metadata is the string attribute map of a message.
type Metadata map[string]string

// Clone returns an independent copy of the metadata.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Message represents a communication between agents.
// A message is treated as immutable once published: the With* helpers
// always return a copy with its own metadata map.
type Message struct {
	From      string    // Address of sender
	To        string    // Address of recipient (empty means broadcast)
	Body      string    // JSON body for structured protocols
	Metadata  Metadata  // Performative, protocol and correlation ids
	Timestamp time.Time // When the message was sent
}

// Get returns a metadata value, or "" when unset.
func (m Message) Get(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// With returns a copy of the message with key set to value.
func (m Message) With(key, value string) Message {
	out := m
	out.Metadata = m.Metadata.Clone()
	out.Metadata[key] = value
	return out
}

func (m Message) Performative() Performative { return Performative(m.Get(KeyPerformative)) }
func (m Message) Protocol() string           { return m.Get(KeyProtocol) }
func (m Message) ConversationID() string     { return m.Get(KeyConversationID) }
func (m Message) ReplyWith() string          { return m.Get(KeyReplyWith) }
func (m Message) InReplyTo() string          { return m.Get(KeyInReplyTo) }

// NewMessage builds a message with the standard metadata for a protocol.
func NewMessage(to string, performative Performative, protocol string, body string) Message {
	return Message{
		To:   to,
		Body: body,
		Metadata: Metadata{
			KeyPerformative: string(performative),
			KeyProtocol:     protocol,
			KeyLanguage:     LanguageJSON,
		},
	}
}

// Sender can send messages
type Sender interface {
	Send(msg Message) error
}

// Broker handles message routing between agents
type Broker interface {
	// Publish sends a message to its recipient
	Publish(msg Message) error
	// Subscribe registers an agent to receive messages
	Subscribe(agentID string, ch chan<- Message) error
	// Unsubscribe removes an agent's subscription
	Unsubscribe(agentID string) error
	// Resolve reports whether an address is currently reachable
	Resolve(agentID string) bool
}
