package broker

import (
	"bytes"
	"sync"
)

// dedup remembers the last encoding written per run identifier so that
// Publish can skip re-sending byte-identical snapshots.
type dedup struct {
	mu   sync.Mutex
	last map[string][]byte
}

// changed records enc as the latest write for runID and reports whether it
// differs from the previous one.
func (d *dedup) changed(runID string, enc []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.last == nil {
		d.last = make(map[string][]byte)
	}
	if prev, ok := d.last[runID]; ok && bytes.Equal(prev, enc) {
		return false
	}
	d.last[runID] = enc
	return true
}
