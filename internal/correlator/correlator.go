// Package correlator matches asynchronous replies to the requests which
// caused them.
package correlator

// Handler holds continuations of a pending request. Any of them may be nil.
type Handler struct {
	OnSuccess func(data []byte)
	OnFailure func(err error)
}

// Correlator allocates request identifiers and keeps handlers of requests
// waiting for a reply. Identifiers start from 1 and are never reused until
// Reset is called. Correlator is not safe for concurrent use, it's expected
// to be owned by a single goroutine.
type Correlator struct {
	lastID  uint64
	pending map[uint64]Handler
}

// New creates empty Correlator.
func New() *Correlator {
	return &Correlator{
		pending: make(map[uint64]Handler),
	}
}

// Next allocates the next request identifier and records its handler.
func (c *Correlator) Next(h Handler) uint64 {
	c.lastID++
	c.pending[c.lastID] = h
	return c.lastID
}

// NextID allocates the next request identifier without recording a handler.
// Used for fire-and-forget requests the server never replies to.
func (c *Correlator) NextID() uint64 {
	c.lastID++
	return c.lastID
}

// Take removes and returns the handler registered for id.
func (c *Correlator) Take(id uint64) (Handler, bool) {
	h, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return h, ok
}

// Reset discards all pending handlers without calling them and resets the
// identifier counter. It returns the number of discarded handlers.
func (c *Correlator) Reset() int {
	n := len(c.pending)
	c.pending = make(map[uint64]Handler)
	c.lastID = 0
	return n
}

// Len returns number of pending requests.
func (c *Correlator) Len() int {
	return len(c.pending)
}

// LastID returns the most recently allocated identifier.
func (c *Correlator) LastID() uint64 {
	return c.lastID
}
