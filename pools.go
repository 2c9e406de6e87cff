package pathdb

import "sync"

// keyBytesPool holds scratch buffers for seek prefixes. Buffers passed to a
// writable storage transaction must stay valid until commit, so only read
// paths take from this pool.
var keyBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

func getKeyBytes() []byte {
	return keyBytesPool.Get().([]byte)[:0]
}

func releaseKeyBytes(b []byte) {
	keyBytesPool.Put(b[:0])
}

var emptyIndexValue = []byte{}
