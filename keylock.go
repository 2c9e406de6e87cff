package pathdb

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const keyLockStripes = 256

// keyLocks serializes writes per lookup key using a fixed set of mutexes.
// Unrelated keys may share a stripe; that only costs concurrency.
type keyLocks struct {
	stripes [keyLockStripes]sync.Mutex
}

func (l *keyLocks) lock(path string, value Value) func() {
	h := xxhash.New()
	h.WriteString(path)
	h.Write([]byte{KeySeparator})
	h.Write(EncodeIndexValue(value))
	m := &l.stripes[h.Sum64()%keyLockStripes]
	m.Lock()
	return m.Unlock
}
