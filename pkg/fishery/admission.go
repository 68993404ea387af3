// Package fishery holds the owner-side and caretaker-side state machines:
// who is on the water, how many fish may still be taken today, and how
// much feed is left.
package fishery

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set"
)

var (
	ErrAlreadyInside = errors.New("fisherman is already inside the fishery")
	ErrAtCapacity    = errors.New("fishery is at full capacity")
)

// Admission tracks the fishermen currently present, bounded by capacity.
type Admission struct {
	capacity int
	present  mapset.Set
	mu       sync.Mutex
}

// NewAdmission creates an admission controller. Capacity below one is
// raised to one.
func NewAdmission(capacity int) *Admission {
	if capacity < 1 {
		capacity = 1
	}
	return &Admission{
		capacity: capacity,
		present:  mapset.NewThreadUnsafeSet(),
	}
}

// Enter admits addr unless it is already present or the fishery is full.
func (a *Admission) Enter(addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.present.Contains(addr) {
		return fmt.Errorf("%w: %s", ErrAlreadyInside, addr)
	}
	if a.present.Cardinality() >= a.capacity {
		return fmt.Errorf("%w: %d/%d places taken", ErrAtCapacity, a.present.Cardinality(), a.capacity)
	}
	a.present.Add(addr)
	return nil
}

// Exit removes addr and reports whether it was present.
func (a *Admission) Exit(addr string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	wasPresent := a.present.Contains(addr)
	a.present.Remove(addr)
	return wasPresent
}

// IsPresent reports whether addr is currently inside.
func (a *Admission) IsPresent(addr string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.present.Contains(addr)
}

// Count returns the number of fishermen inside.
func (a *Admission) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.present.Cardinality()
}

func (a *Admission) Capacity() int {
	return a.capacity
}

// Present returns the sorted addresses currently inside.
func (a *Admission) Present() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, a.present.Cardinality())
	for _, v := range a.present.ToSlice() {
		out = append(out, v.(string))
	}
	sort.Strings(out)
	return out
}

// Reason renders an admission error as the text sent back to a fisherman.
func Reason(err error) string {
	switch {
	case err == nil:
		return "You may enter the fishery."
	case errors.Is(err, ErrAlreadyInside):
		return "You are already inside the fishery."
	case errors.Is(err, ErrAtCapacity):
		return "The fishery is at full capacity, try again later."
	default:
		return err.Error()
	}
}
