package anomaly

import "sync"

// DefaultWindowSize is the number of recent samples a z-score is computed over.
const DefaultWindowSize = 10

// Window keeps the most recent samples in insertion order, evicting the
// oldest once capacity is exceeded.
type Window struct {
	samples  []float64
	capacity int
	mu       sync.RWMutex
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{
		samples:  make([]float64, 0, capacity+1),
		capacity: capacity,
	}
}

// Values returns a copy of the samples currently in the window
func (w *Window) Values() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	// Return a copy to prevent external modifications
	values := make([]float64, len(w.samples))
	copy(values, w.samples)
	return values
}

// Push appends a sample and returns a snapshot of the resulting window.
func (w *Window) Push(sample float64) []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, sample)
	if len(w.samples) > w.capacity {
		w.samples = append(w.samples[:0], w.samples[1:]...)
	}

	values := make([]float64, len(w.samples))
	copy(values, w.samples)
	return values
}

func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples)
}

func (w *Window) Capacity() int {
	return w.capacity
}
