package pathdb

import "context"

// ScanAll implements Backend, returning documents in id order.
func (kv *KV) ScanAll(ctx context.Context) ([]*Document, error) {
	var docs []*Document
	err := kv.view(ctx, "scan", func(tx *kvTx) error {
		c := tx.mustBucket(docsBucket, "").Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := UnmarshalDocument(v)
			if err != nil {
				return bucketErrf(docsBucket, "", k, err, "decoding document")
			}
			docs = append(docs, doc)
		}
		return nil
	})
	return docs, err
}
