package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

var (
	ErrUnknownReply         = errors.New("reply does not match any pending request")
	ErrLateReply            = errors.New("reply arrived after its conversation closed")
	ErrConversationMismatch = errors.New("reply conversation-id does not match request")
)

// DefaultClosedMemory is how many closed conversations a correlator
// remembers for classifying late replies.
const DefaultClosedMemory = 1024

// NewID returns a fresh random 128-bit identifier.
func NewID() string {
	return uuid.NewString()
}

// Pending describes a request that is still waiting for its reply.
type Pending struct {
	ConversationID string
	ReplyWith      string
	To             string
	Protocol       string
	SentAt         time.Time
}

// Correlator stamps outgoing requests with correlation ids and matches
// replies back to them. It is safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]Pending // keyed by reply-with
	closed  *lru.Cache
}

func NewCorrelator(closedMemory int) *Correlator {
	if closedMemory <= 0 {
		closedMemory = DefaultClosedMemory
	}
	closed, err := lru.New(closedMemory)
	if err != nil {
		// lru.New only fails for non-positive sizes
		panic(err)
	}
	return &Correlator{
		pending: make(map[string]Pending),
		closed:  closed,
	}
}

// Open stamps msg with a fresh conversation-id and reply-with and records
// it as pending. The stamped copy is returned.
func (c *Correlator) Open(msg Message) Message {
	out := msg
	out.Metadata = msg.Metadata.Clone()
	out.Metadata[KeyConversationID] = NewID()
	out.Metadata[KeyReplyWith] = NewID()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[out.ReplyWith()] = Pending{
		ConversationID: out.ConversationID(),
		ReplyWith:      out.ReplyWith(),
		To:             out.To,
		Protocol:       out.Protocol(),
		SentAt:         time.Now(),
	}
	return out
}

// Resolve matches a reply against pending requests. On success the
// conversation is closed and its record returned. A failed match leaves
// every pending request untouched.
func (c *Correlator) Resolve(reply Message) (Pending, error) {
	key := reply.InReplyTo()

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[key]
	if !ok {
		if key != "" && c.closed.Contains(key) {
			return Pending{}, fmt.Errorf("%w: in-reply-to %s", ErrLateReply, key)
		}
		return Pending{}, fmt.Errorf("%w: in-reply-to %q", ErrUnknownReply, key)
	}
	if p.ConversationID != reply.ConversationID() {
		return Pending{}, fmt.Errorf("%w: want %s, got %s", ErrConversationMismatch, p.ConversationID, reply.ConversationID())
	}

	delete(c.pending, key)
	c.closed.Add(key, p.ConversationID)
	return p, nil
}

// Expire drops a pending request whose reply never came.
func (c *Correlator) Expire(replyWith string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[replyWith]; ok {
		delete(c.pending, replyWith)
		c.closed.Add(replyWith, p.ConversationID)
	}
}

// Len returns the number of requests awaiting a reply.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Reply builds the reply skeleton for an incoming message: addresses are
// swapped, conversation-id is carried over, in-reply-to echoes the
// incoming reply-with and the reply gets a reply-with of its own.
// An empty protocol keeps the protocol of the incoming message.
func Reply(in Message, performative Performative, protocol string, body string) Message {
	if protocol == "" {
		protocol = in.Protocol()
	}
	out := Message{
		From: in.To,
		To:   in.From,
		Body: body,
		Metadata: Metadata{
			KeyPerformative:   string(performative),
			KeyProtocol:       protocol,
			KeyLanguage:       LanguageJSON,
			KeyConversationID: in.ConversationID(),
			KeyInReplyTo:      in.ReplyWith(),
			KeyReplyWith:      NewID(),
		},
	}
	return out
}
