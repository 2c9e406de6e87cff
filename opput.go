package pathdb

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Persist implements Backend. The document, every index move and every
// history append commit together.
func (kv *KV) Persist(ctx context.Context, doc *Document, diffs Diffs, at time.Time) (*Document, error) {
	if doc.ID == "" {
		panic("Persist: document without id")
	}
	docRaw := MarshalDocument(doc)
	idRaw := []byte(doc.ID)

	err := kv.updateCtx(ctx, "persist", func(tx *kvTx) error {
		ensure(tx.mustBucket(docsBucket, "").Put(idRaw, docRaw))
		if kv.verbose {
			kv.logger.Debug("db: PUT", zap.String("id", doc.ID), zap.String("doc", loggableValue(doc.Fields)))
		}
		if len(diffs) == 0 {
			return nil
		}

		histBuck := tx.createBucket(historyBucket, doc.ID)
		for _, path := range diffs.Paths() {
			chg := diffs[path]

			remove, insert := IndexUpdate(doc.ID, chg)
			if remove != nil {
				if idxBuck := tx.bucket(pathsBucket, path); idxBuck != nil {
					ensure(idxBuck.Delete(remove))
					if insert == nil && isBucketEmpty(idxBuck) {
						ensure(tx.stx.DeleteBucket(pathsBucket, path))
					}
				}
			}
			if insert != nil {
				ensure(tx.createBucket(pathsBucket, path).Put(insert, emptyIndexValue))
			}

			rec := &HistoryRecord{Path: path, Date: at, Seq: kv.nextSeq(), Change: *chg}
			histKey := AppendHistoryKey(nil, path, at, rec.Seq)
			ensure(histBuck.Put(histKey, MarshalHistoryRecord(rec)))

			if kv.verbose {
				kv.logger.Debug("db: INDEX", zap.String("id", doc.ID), zap.String("path", path), zap.Stringer("change", chg), hexField("remove", remove), hexField("insert", insert))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}
