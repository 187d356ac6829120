package testutil

import (
	"bytes"
	"sync"
)

// Capture records what an engine writes, one entry per output call.
//
// Use Write as the engine's output handler:
//
//	var out testutil.Capture
//	e.OutputHandler(out.Write)
//
// Thread-safety: all methods are safe for concurrent use, so a Capture can
// sit behind an executor goroutine while the test reads it.
type Capture struct {
	mu     sync.Mutex
	chunks [][]byte
}

// Write stores a copy of b.
func (c *Capture) Write(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, bytes.Clone(b))
}

// Chunks returns the recorded output calls in order.
func (c *Capture) Chunks() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.chunks...)
}

// Bytes returns everything written, concatenated.
func (c *Capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.chunks, nil)
}

// Len returns the number of output calls recorded.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

// Reset forgets everything recorded so far.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = nil
}
