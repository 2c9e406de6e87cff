package pathdb

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// kvTx is a storage transaction of a KV backend. Operations inside it report
// failures by panicking (see must and ensure); the panic is turned back into
// an error when the transaction function returns.
type kvTx struct {
	kv        *KV
	stx       storageTx
	op        string
	startTime time.Time
	stack     string
}

func (kv *KV) begin(op string, writable bool) (*kvTx, error) {
	if writable {
		kv.WriterCount.Add(1)
	} else {
		kv.ReaderCount.Add(1)
	}
	stx, err := kv.st.BeginTx(writable)
	if err != nil {
		kv.finishCount(writable)
		return nil, err
	}
	tx := &kvTx{kv: kv, stx: stx, op: op, startTime: time.Now()}
	if trackTxns {
		tx.stack = string(debug.Stack())
		kv.addTx(tx)
	}
	return tx, nil
}

func (kv *KV) finishCount(writable bool) {
	if writable {
		kv.WriterCount.Add(-1)
		kv.WriteCount.Add(1)
	} else {
		kv.ReaderCount.Add(-1)
		kv.ReadCount.Add(1)
	}
}

func (tx *kvTx) close() {
	// The only error Rollback can meaningfully return after Commit is
	// "already closed", which storage implementations swallow.
	_ = tx.stx.Rollback()
	if trackTxns {
		tx.kv.removeTx(tx)
	}
	tx.kv.finishCount(tx.stx.Writable())
}

func (kv *KV) view(ctx context.Context, op string, f func(tx *kvTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := kv.begin(op, false)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.close()
	return safelyCall(f, tx)
}

func (kv *KV) update(f func(tx *kvTx) error) error {
	return kv.updateCtx(context.Background(), "update", f)
}

func (kv *KV) updateCtx(ctx context.Context, op string, f func(tx *kvTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := kv.begin(op, true)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.close()
	if err := safelyCall(f, tx); err != nil {
		return err
	}
	// A write that was cancelled while running is discarded rather than committed.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.stx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*kvTx) error, tx *kvTx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				err = e
			} else {
				err = panicked{p, string(debug.Stack())}
			}
		}
	}()
	return fn(tx)
}

func (tx *kvTx) bucket(name, sub string) storageBucket {
	return tx.stx.Bucket(name, sub)
}

func (tx *kvTx) mustBucket(name, sub string) storageBucket {
	b := tx.stx.Bucket(name, sub)
	if b == nil {
		panic(bucketErrf(name, sub, nil, ErrBucketNotFound, ""))
	}
	return b
}

func (tx *kvTx) createBucket(name, sub string) storageBucket {
	b, err := tx.stx.CreateBucket(name, sub)
	if err != nil {
		panic(bucketErrf(name, sub, nil, err, "create"))
	}
	return b
}

func (tx *kvTx) getDoc(id string) (*Document, error) {
	data := tx.mustBucket(docsBucket, "").Get(unsafeBytesFromString(id))
	if data == nil {
		return nil, nil
	}
	doc, err := UnmarshalDocument(data)
	if err != nil {
		return nil, bucketErrf(docsBucket, "", []byte(id), err, "decoding document")
	}
	return doc, nil
}
