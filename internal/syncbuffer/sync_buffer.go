// Package syncbuffer holds process output that is written by exec copy goroutines
// while being read by the harness.
package syncbuffer

import (
	"bytes"
	"sync"
)

type SyncBuffer struct {
	mu  sync.RWMutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

// String returns a snapshot of everything written so far.
func (b *SyncBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.buf.String()
}

func (b *SyncBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.buf.Len()
}
