package pathdb

import "context"

type KVStats struct {
	Documents      int
	Paths          int
	IndexEntries   int
	HistoryRecords int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
	FileSize   int64
}

func (s *KVStats) TotalSize() int64 {
	return s.DataSize + s.IndexSize
}

func (s *KVStats) TotalAlloc() int64 {
	return s.DataAlloc + s.IndexAlloc
}

// Stats counts documents, index entries and history records. It walks every
// bucket, so it is meant for tooling rather than hot paths.
func (kv *KV) Stats(ctx context.Context) (KVStats, error) {
	var result KVStats
	err := kv.view(ctx, "stats", func(tx *kvTx) error {
		bs := tx.mustBucket(docsBucket, "").Stats()
		result.Documents = bs.KeyN
		result.DataSize = bs.LeafInuse
		result.DataAlloc = bs.TotalAlloc()

		for _, path := range tx.stx.SubBuckets(pathsBucket) {
			bs := tx.mustBucket(pathsBucket, path).Stats()
			result.Paths++
			result.IndexEntries += bs.KeyN
			result.IndexSize += bs.LeafInuse
			result.IndexAlloc += bs.TotalAlloc()
		}
		for _, id := range tx.stx.SubBuckets(historyBucket) {
			bs := tx.mustBucket(historyBucket, id).Stats()
			result.HistoryRecords += bs.KeyN
			result.DataSize += bs.LeafInuse
			result.DataAlloc += bs.TotalAlloc()
		}
		result.FileSize = tx.stx.Size()
		return nil
	})
	return result, err
}
