package pathdb

import (
	"bytes"
	"context"
)

// QueryHistory implements Backend: the history of document id at prefix and
// everything nested under it, in key order.
func (kv *KV) QueryHistory(ctx context.Context, id string, prefix string) ([]*HistoryRecord, error) {
	var records []*HistoryRecord
	err := kv.view(ctx, "query-history", func(tx *kvTx) error {
		histBuck := tx.bucket(historyBucket, id)
		if histBuck == nil {
			return nil
		}
		for _, seek := range HistoryPrefixes(prefix) {
			c := histBuck.Cursor()
			for k, v := c.Seek(seek); k != nil && bytes.HasPrefix(k, seek); k, v = c.Next() {
				rec, err := UnmarshalHistoryRecord(v)
				if err != nil {
					return bucketErrf(historyBucket, id, k, err, "decoding history record")
				}
				records = append(records, rec)
			}
		}
		return nil
	})
	return records, err
}
