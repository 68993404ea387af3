package anomaly

// Detector scores every new sample against the window it has seen so far.
type Detector struct {
	window *Window
}

func NewDetector(windowSize int) *Detector {
	return &Detector{window: NewWindow(windowSize)}
}

// Observe records a sample and returns the z-score of the updated window,
// recomputed from scratch.
func (d *Detector) Observe(sample float64) (float64, bool) {
	return ZScore(d.window.Push(sample))
}

// Samples returns the current window contents, oldest first.
func (d *Detector) Samples() []float64 {
	return d.window.Values()
}
