package pathdb

import (
	"context"
	"fmt"
	"io"
	"strings"
)

type DumpFlags uint64

const (
	DumpDocuments = DumpFlags(1 << iota)
	DumpStats
	DumpIndex
	DumpHistory

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump writes a human-readable listing of the backend's contents.
func (kv *KV) Dump(ctx context.Context, w io.Writer, f DumpFlags) error {
	if f.Contains(DumpStats) {
		s, err := kv.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "stats: documents = %d, paths = %d, index_entries = %d, history = %d, data_size = %d, index_size = %d, total_alloc = %d\n", s.Documents, s.Paths, s.IndexEntries, s.HistoryRecords, s.DataSize, s.IndexSize, s.TotalAlloc())
	}
	return kv.view(ctx, "dump", func(tx *kvTx) error {
		if f.Contains(DumpDocuments) {
			fmt.Fprintln(w, dumpSep1)
			c := tx.mustBucket(docsBucket, "").Cursor()
			var pos int
			for k, v := c.First(); k != nil; k, v = c.Next() {
				pos++
				doc, err := UnmarshalDocument(v)
				if err != nil {
					fmt.Fprintf(w, "%s.%d = ** ERROR: %v\n", docsBucket, pos, err)
					continue
				}
				fmt.Fprintf(w, "%s.%d = %s %s\n", docsBucket, pos, doc.ID, loggableValue(doc.Fields))
			}
		}
		if f.Contains(DumpIndex) {
			for _, path := range tx.stx.SubBuckets(pathsBucket) {
				fmt.Fprintln(w, dumpSep2)
				c := tx.mustBucket(pathsBucket, path).Cursor()
				for k, _ := c.First(); k != nil; k, _ = c.Next() {
					val, id, err := DecodeIndexKey(k)
					if err != nil {
						fmt.Fprintf(w, "%s/%s: ** ERROR: %v\n", pathsBucket, path, err)
						continue
					}
					fmt.Fprintf(w, "%s/%s: %s => %s\n", pathsBucket, path, loggableIndexValue(val), id)
				}
			}
		}
		if f.Contains(DumpHistory) {
			for _, id := range tx.stx.SubBuckets(historyBucket) {
				fmt.Fprintln(w, dumpSep2)
				c := tx.mustBucket(historyBucket, id).Cursor()
				for k, v := c.First(); k != nil; k, v = c.Next() {
					rec, err := UnmarshalHistoryRecord(v)
					if err != nil {
						fmt.Fprintf(w, "%s/%s: ** ERROR: %v\n", historyBucket, id, err)
						continue
					}
					fmt.Fprintf(w, "%s/%s: %s\n", historyBucket, id, rec)
				}
			}
		}
		return nil
	})
}

func loggableIndexValue(val []byte) string {
	if len(val) == 1 && val[0] == EmptyMapMarker {
		return "{}"
	}
	return fmt.Sprintf("%q", val)
}
