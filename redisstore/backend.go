// Package redisstore is a pathdb.Backend over Redis.
//
// Every path gets a sorted set whose members are index keys, all with score
// zero, so ZRANGEBYLEX does the prefix scans an ordered key-value store would.
// Each document's history is a sorted set of history keys plus a hash mapping
// those keys to msgpack records.
package redisstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/andreyvit/pathdb"
)

const DefaultPrefix = "pathdb:"

type Options struct {
	// Prefix is prepended to every key. Defaults to DefaultPrefix.
	Prefix  string
	Logger  *zap.Logger
	Verbose bool
}

type Backend struct {
	client  redis.UniversalClient
	prefix  string
	logger  *zap.Logger
	verbose bool
}

var _ pathdb.Backend = (*Backend)(nil)

// New returns a backend using client. Close closes the client.
func New(client redis.UniversalClient, opt Options) *Backend {
	b := &Backend{
		client:  client,
		prefix:  opt.Prefix,
		logger:  opt.Logger,
		verbose: opt.Verbose,
	}
	if b.prefix == "" {
		b.prefix = DefaultPrefix
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

func (b *Backend) docsKey() string {
	return b.prefix + "docs"
}

func (b *Backend) docKey(id string) string {
	return b.prefix + "doc:" + id
}

func (b *Backend) pathKey(path string) string {
	return b.prefix + "path:" + path
}

func (b *Backend) histKey(id string) string {
	return b.prefix + "hist:" + id
}

func (b *Backend) histRecKey(id string) string {
	return b.prefix + "histrec:" + id
}

func (b *Backend) seqKey() string {
	return b.prefix + "seq"
}

// lexRange covers every member starting with prefix.
func lexRange(prefix []byte) *redis.ZRangeBy {
	if len(prefix) == 0 {
		return &redis.ZRangeBy{Min: "-", Max: "+"}
	}
	r := &redis.ZRangeBy{Min: "[" + string(prefix), Max: "+"}
	if end := pathdb.PrefixEnd(prefix); end != nil {
		r.Max = "(" + string(end)
	}
	return r
}

func (b *Backend) ScanAll(ctx context.Context) ([]*pathdb.Document, error) {
	ids, err := b.client.SMembers(ctx, b.docsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	slices.Sort(ids)
	return b.loadDocs(ctx, ids)
}

func (b *Backend) QueryByPath(ctx context.Context, path string) ([]*pathdb.Document, error) {
	return b.lookupIndex(ctx, path, nil)
}

func (b *Backend) QueryByPathValue(ctx context.Context, path string, value pathdb.Value) ([]*pathdb.Document, error) {
	return b.lookupIndex(ctx, path, pathdb.AppendIndexPrefix(nil, value))
}

func (b *Backend) lookupIndex(ctx context.Context, path string, prefix []byte) ([]*pathdb.Document, error) {
	members, err := b.client.ZRangeByLex(ctx, b.pathKey(path), lexRange(prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		_, id, err := pathdb.DecodeIndexKey([]byte(m))
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", path, err)
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return b.loadDocs(ctx, ids)
}

func (b *Backend) loadDocs(ctx context.Context, ids []string) ([]*pathdb.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.docKey(id)
	}
	raws, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	docs := make([]*pathdb.Document, 0, len(ids))
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			b.logger.Warn("redisstore: index entry without document", zap.String("id", ids[i]))
			continue
		}
		doc, err := pathdb.UnmarshalDocument([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", ids[i], err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (b *Backend) QueryHistory(ctx context.Context, id string, prefix string) ([]*pathdb.HistoryRecord, error) {
	var keys []string
	for _, p := range pathdb.HistoryPrefixes(prefix) {
		members, err := b.client.ZRangeByLex(ctx, b.histKey(id), lexRange(p)).Result()
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", id, err)
		}
		keys = append(keys, members...)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	raws, err := b.client.HMGet(ctx, b.histRecKey(id), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	records := make([]*pathdb.HistoryRecord, 0, len(raws))
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("history %s: missing record for key %q", id, keys[i])
		}
		rec, err := pathdb.UnmarshalHistoryRecord([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", id, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Persist implements pathdb.Backend inside a MULTI/EXEC block, so the
// document, index moves and history appends apply together. Sequence numbers
// are reserved beforehand; a failed transaction leaves a gap.
func (b *Backend) Persist(ctx context.Context, doc *pathdb.Document, diffs pathdb.Diffs, at time.Time) (*pathdb.Document, error) {
	if doc.ID == "" {
		panic("Persist: document without id")
	}

	var seq uint64
	if n := len(diffs); n > 0 {
		last, err := b.client.IncrBy(ctx, b.seqKey(), int64(n)).Result()
		if err != nil {
			return nil, fmt.Errorf("persist %s: sequence: %w", doc.ID, err)
		}
		seq = uint64(last) - uint64(n)
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.docKey(doc.ID), pathdb.MarshalDocument(doc), 0)
		pipe.SAdd(ctx, b.docsKey(), doc.ID)

		for _, path := range diffs.Paths() {
			chg := diffs[path]
			remove, insert := pathdb.IndexUpdate(doc.ID, chg)
			if remove != nil {
				pipe.ZRem(ctx, b.pathKey(path), string(remove))
			}
			if insert != nil {
				pipe.ZAdd(ctx, b.pathKey(path), redis.Z{Member: string(insert)})
			}

			seq++
			rec := &pathdb.HistoryRecord{Path: path, Date: at, Seq: seq, Change: *chg}
			hk := string(pathdb.AppendHistoryKey(nil, path, at, seq))
			pipe.ZAdd(ctx, b.histKey(doc.ID), redis.Z{Member: hk})
			pipe.HSet(ctx, b.histRecKey(doc.ID), hk, pathdb.MarshalHistoryRecord(rec))

			if b.verbose {
				b.logger.Debug("redisstore: INDEX", zap.String("id", doc.ID), zap.String("path", path), zap.Stringer("change", chg))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist %s: %w", doc.ID, err)
	}
	if b.verbose {
		b.logger.Debug("redisstore: PUT", zap.String("id", doc.ID), zap.Int("changes", len(diffs)))
	}
	return doc, nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}
