package fishery

import "sync"

// Quota counts fish taken today against a fixed daily limit.
type Quota struct {
	limit int
	taken int
	mu    sync.Mutex
}

func NewQuota(limit int) *Quota {
	if limit < 0 {
		limit = 0
	}
	return &Quota{limit: limit}
}

// Take grants one fish if the limit has not been reached yet. It returns
// whether the fish was granted and the count taken after the call.
func (q *Quota) Take() (bool, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.taken >= q.limit {
		return false, q.taken
	}
	q.taken++
	return true, q.taken
}

// Reset starts a new day.
func (q *Quota) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.taken = 0
}

func (q *Quota) Taken() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.taken
}

func (q *Quota) Limit() int {
	return q.limit
}

// Remaining returns how many fish may still be taken today.
func (q *Quota) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit - q.taken
}
