package messaging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownRecipient  = errors.New("unknown recipient")
	ErrRecipientFull     = errors.New("recipient queue is full")
	ErrAlreadySubscribed = errors.New("address is already subscribed")
	ErrNotSubscribed     = errors.New("address is not subscribed")
)

// SimpleBroker is the in-process transport. Every address owns one inbound
// queue; publishing never blocks the sender.
type SimpleBroker struct {
	queues map[string]chan<- Message
	mu     sync.RWMutex
}

func NewBroker() *SimpleBroker {
	return &SimpleBroker{
		queues: make(map[string]chan<- Message),
	}
}

// Publish delivers msg to its recipient, or to every other address when To
// is empty. A full queue loses the message for that recipient and is
// reported as ErrRecipientFull.
func (b *SimpleBroker) Publish(msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	targets := []string{msg.To}
	if msg.To == "" {
		targets = targets[:0]
		for addr := range b.queues {
			if addr != msg.From {
				targets = append(targets, addr)
			}
		}
	} else if _, ok := b.queues[msg.To]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, msg.To)
	}

	var errs []error
	for _, addr := range targets {
		select {
		case b.queues[addr] <- msg:
		default:
			errs = append(errs, fmt.Errorf("%w: %s", ErrRecipientFull, addr))
		}
	}
	return errors.Join(errs...)
}

// Subscribe binds addr to the queue ch.
func (b *SimpleBroker) Subscribe(addr string, ch chan<- Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, taken := b.queues[addr]; taken {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, addr)
	}
	b.queues[addr] = ch
	return nil
}

// Unsubscribe releases addr. Messages published afterwards are refused.
func (b *SimpleBroker) Unsubscribe(addr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, addr)
	}
	delete(b.queues, addr)
	return nil
}

// Resolve reports whether addr is currently reachable.
func (b *SimpleBroker) Resolve(addr string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.queues[addr]
	return ok
}

// Addresses lists the subscribed addresses in sorted order.
func (b *SimpleBroker) Addresses() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.queues))
	for addr := range b.queues {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Reset drops every subscription.
func (b *SimpleBroker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = make(map[string]chan<- Message)
}
