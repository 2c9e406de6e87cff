package pathdb

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const trackTxns = true

const (
	docsBucket    = "docs"
	pathsBucket   = "paths"
	historyBucket = "history"
)

// KV is the embedded Index & History Backend. Documents, index entries and
// history live in three bucket families of an ordered key-value storage:
//
//	docs                 id => msgpack document
//	paths/<path>         value 0x00 id => empty
//	history/<id>         path 0x00 time.seq => msgpack history record
//
// Every Persist runs in a single storage transaction, so a write either
// lands completely or not at all.
type KV struct {
	st      storage
	logger  *zap.Logger
	verbose bool

	seq atomic.Uint64

	ReaderCount atomic.Int64
	WriterCount atomic.Int64
	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64

	txns     []*kvTx
	txnsLock sync.Mutex
}

type KVOptions struct {
	Logger    *zap.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int
	Timeout   time.Duration
}

// OpenBolt opens (creating if needed) a Bolt database file.
func OpenBolt(path string, opt KVOptions) (*KV, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.Timeout != 0 {
		bopt.Timeout = opt.Timeout
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("pathdb: %w", err)
	}

	kv := newKV(newBoltStorage(bdb), opt)
	if err := kv.prepare(); err != nil {
		bdb.Close()
		return nil, err
	}
	return kv, nil
}

// OpenMemory returns a KV backend that keeps everything in process memory.
// Nothing survives the process, so it suits tests, demos and tools.
func OpenMemory(opt KVOptions) *KV {
	kv := newKV(newMemStorage(), opt)
	ensure(kv.prepare())
	return kv
}

func newKV(st storage, opt KVOptions) *KV {
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	kv := &KV{
		st:      st,
		logger:  logger,
		verbose: opt.Verbose,
	}
	kv.seq.Store(uint64(time.Now().UnixNano()))
	return kv
}

func (kv *KV) prepare() error {
	return kv.update(func(tx *kvTx) error {
		for _, name := range []string{docsBucket, pathsBucket, historyBucket} {
			if _, err := tx.stx.CreateBucket(name, ""); err != nil {
				return bucketErrf(name, "", nil, err, "create")
			}
		}
		return nil
	})
}

func (kv *KV) Close() error {
	err := kv.st.Close()
	if err != nil {
		return fmt.Errorf("pathdb: closing: %w", err)
	}
	return nil
}

func (kv *KV) nextSeq() uint64 {
	return kv.seq.Add(1)
}

func (kv *KV) addTx(tx *kvTx) {
	kv.txnsLock.Lock()
	defer kv.txnsLock.Unlock()
	kv.txns = append(kv.txns, tx)
}

func (kv *KV) removeTx(tx *kvTx) {
	kv.txnsLock.Lock()
	defer kv.txnsLock.Unlock()

	found := slices.Index(kv.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(kv.txns)
	kv.txns[found] = kv.txns[n-1]
	kv.txns[n-1] = nil // ensure it gets collected
	kv.txns = kv.txns[:n-1]
}

func (kv *KV) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	kv.txnsLock.Lock()
	txns := slices.Clone(kv.txns)
	kv.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *kvTx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms\n", tx.op, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms:\n%s", tx.op, ms, tx.stack)
		}
	}

	return buf.String()
}
