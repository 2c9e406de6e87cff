package pathdb

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestGroupHistory(t *testing.T) {
	t0 := testEpoch
	rec := func(path string, sec int, seq uint64) *HistoryRecord {
		return &HistoryRecord{Path: path, Date: t0.Add(time.Duration(sec) * time.Second), Seq: seq}
	}
	records := []*HistoryRecord{
		rec("a", 1, 1),
		rec("b", 1, 2),
		rec("a", 3, 3),
		rec("a", 3, 4),
		rec("a", 2, 5),
	}

	hist := GroupHistory(records)
	if a, e := hist.Paths(), []string{"a", "b"}; !cmp.Equal(a, e) {
		t.Fatalf("Paths = %q, wanted %q", a, e)
	}

	var seqs []uint64
	for _, r := range hist["a"] {
		seqs = append(seqs, r.Seq)
	}
	if e := []uint64{4, 3, 5, 1}; !cmp.Equal(seqs, e) {
		t.Errorf("a seqs = %v, wanted %v", seqs, e)
	}
	if len(hist["b"]) != 1 {
		t.Errorf("b has %d records, wanted 1", len(hist["b"]))
	}

	if empty := GroupHistory(nil); len(empty) != 0 {
		t.Errorf("GroupHistory(nil) = %v, wanted empty", empty)
	}
}
