package client

import (
	"sync"

	"main/internal/schema"
)

type result struct {
	resp *schema.Response
	err  error
}

// correlator matches inbound responses to in-flight requests by req_id.
// Ids are monotonically increasing and never reused while pending; each slot
// resolves at most once.
type correlator struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan result
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[int64]chan result)}
}

// register allocates a fresh req_id and its single-resolution slot.
func (c *correlator) register() (int64, <-chan result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	ch := make(chan result, 1)
	c.pending[id] = ch
	return id, ch
}

// resolve delivers a response to the waiter of id. A second resolve for the
// same id, or an id already timed out, is a no-op.
func (c *correlator) resolve(id int64, resp *schema.Response) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- result{resp: resp}
	return true
}

// drop abandons a pending slot so a late response is discarded.
func (c *correlator) drop(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failAll resolves every pending slot with err. Called on disconnect.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan result)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
}

func (c *correlator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
