package pathdb

import (
	"context"
	"time"
)

// Backend persists documents, a per-path secondary index and a per-document
// history log. Implementations: KV (Bolt or memory), redisstore.Backend,
// dynamostore.Backend, and LazyBackend wrapping any of them.
//
// Value arguments are already normalized. Returned documents are owned by the
// caller.
type Backend interface {
	ScanAll(ctx context.Context) ([]*Document, error)

	// QueryByPath returns every document having any value at path.
	QueryByPath(ctx context.Context, path string) ([]*Document, error)

	// QueryByPathValue returns every document whose value at path has the
	// same index encoding as value.
	QueryByPathValue(ctx context.Context, path string, value Value) ([]*Document, error)

	// QueryHistory returns the history records of document id whose path
	// equals prefix or is nested under it. An empty prefix returns everything.
	// Order is unspecified.
	QueryHistory(ctx context.Context, id string, prefix string) ([]*HistoryRecord, error)

	// Persist writes doc, moves the index entries named by diffs and appends
	// one history record per changed path, stamped with at.
	Persist(ctx context.Context, doc *Document, diffs Diffs, at time.Time) (*Document, error)

	Close() error
}

var _ Backend = (*KV)(nil)
