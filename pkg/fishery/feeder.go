package fishery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNoPortion = errors.New("feeding portion is not positive")
	ErrNoFeed    = errors.New("feed supply is empty")
)

// FeederParams configures a Feeder.
type FeederParams struct {
	SupplyKg           float64
	ReorderThresholdKg float64
	ReorderAmountKg    float64
	PortionKg          float64
}

// FeedReport summarises one feeding tick.
type FeedReport struct {
	FedKg     float64
	SupplyKg  float64
	Reordered bool
}

// Feeder owns the feed supply. Each tick feeds one portion, flags a
// reorder when supply drops below the threshold and, if flagged, orders
// more feed.
type Feeder struct {
	params        FeederParams
	supplyKg      float64
	reorderNeeded bool
	orders        int
	mu            sync.Mutex
}

func NewFeeder(params FeederParams) *Feeder {
	supply := params.SupplyKg
	if supply < 0 {
		supply = 0
	}
	return &Feeder{
		params:   params,
		supplyKg: supply,
	}
}

// Feed consumes one portion, never more than what is left. It returns the
// amount actually fed.
func (f *Feeder) Feed() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.params.PortionKg <= 0 {
		return 0, fmt.Errorf("%w: %.2f kg", ErrNoPortion, f.params.PortionKg)
	}
	if f.supplyKg <= 0 {
		return 0, ErrNoFeed
	}

	fed := f.params.PortionKg
	if fed > f.supplyKg {
		fed = f.supplyKg
	}
	f.supplyKg -= fed
	return fed, nil
}

// CheckSupplies flags a reorder when supply is below the threshold and
// reports whether one is pending.
func (f *Feeder) CheckSupplies() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.supplyKg < f.params.ReorderThresholdKg {
		f.reorderNeeded = true
	}
	return f.reorderNeeded
}

// Reorder waits out the delivery delay and restocks if a reorder is
// pending. It reports whether feed was delivered. Cancelling ctx abandons
// the order and leaves the flag set.
func (f *Feeder) Reorder(ctx context.Context, delay time.Duration) (bool, error) {
	f.mu.Lock()
	needed := f.reorderNeeded
	f.mu.Unlock()
	if !needed {
		return false, nil
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.supplyKg += f.params.ReorderAmountKg
	f.reorderNeeded = false
	f.orders++
	return true, nil
}

// Tick runs feed, check and reorder in order. A skipped feeding is
// reported through the error but the supply check still runs.
func (f *Feeder) Tick(ctx context.Context, orderDelay time.Duration) (FeedReport, error) {
	fed, feedErr := f.Feed()
	f.CheckSupplies()
	reordered, err := f.Reorder(ctx, orderDelay)
	return FeedReport{
		FedKg:     fed,
		SupplyKg:  f.Supply(),
		Reordered: reordered,
	}, errors.Join(feedErr, err)
}

// Supply returns the current feed supply in kg.
func (f *Feeder) Supply() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supplyKg
}

// ReorderNeeded reports whether an order is pending.
func (f *Feeder) ReorderNeeded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reorderNeeded
}

// Orders returns how many deliveries have been received.
func (f *Feeder) Orders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders
}
