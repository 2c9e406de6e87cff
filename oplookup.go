package pathdb

import (
	"bytes"
	"context"

	"go.uber.org/zap"
)

// QueryByPath implements Backend: every document having any value at path.
func (kv *KV) QueryByPath(ctx context.Context, path string) ([]*Document, error) {
	var docs []*Document
	err := kv.view(ctx, "query-path", func(tx *kvTx) error {
		var err error
		docs, err = tx.lookupIndex(path, nil)
		return err
	})
	if kv.verbose && err == nil {
		kv.logger.Debug("db: LOOKUP", zap.String("path", path), zap.Int("found", len(docs)))
	}
	return docs, err
}

// QueryByPathValue implements Backend: every document whose value at path
// encodes to the same index key as value.
func (kv *KV) QueryByPathValue(ctx context.Context, path string, value Value) ([]*Document, error) {
	prefix := AppendIndexPrefix(getKeyBytes(), value)
	defer releaseKeyBytes(prefix)

	var docs []*Document
	err := kv.view(ctx, "query-value", func(tx *kvTx) error {
		var err error
		docs, err = tx.lookupIndex(path, prefix)
		return err
	})
	if kv.verbose && err == nil {
		kv.logger.Debug("db: LOOKUP", zap.String("path", path), zap.String("value", loggableValue(value)), zap.Int("found", len(docs)))
	}
	return docs, err
}

func (tx *kvTx) lookupIndex(path string, prefix []byte) ([]*Document, error) {
	idxBuck := tx.bucket(pathsBucket, path)
	if idxBuck == nil {
		return nil, nil
	}

	var docs []*Document
	c := idxBuck.Cursor()
	var k []byte
	if prefix == nil {
		k, _ = c.First()
	} else {
		k, _ = c.Seek(prefix)
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		_, id, err := DecodeIndexKey(k)
		if err != nil {
			return nil, bucketErrf(pathsBucket, path, k, err, "")
		}
		doc, err := tx.getDoc(id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			tx.kv.logger.Warn("db: dangling index entry", zap.String("path", path), zap.String("id", id))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
