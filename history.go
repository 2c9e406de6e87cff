package pathdb

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// HistoryRecord is one appended change of one path of one document.
type HistoryRecord struct {
	Path string    `json:"-"`
	Date time.Time `json:"date"`
	Seq  uint64    `json:"-"`
	Change
}

func (r *HistoryRecord) String() string {
	return fmt.Sprintf("%s@%s#%d %s", r.Path, r.Date.Format(time.RFC3339Nano), r.Seq, r.Change.String())
}

// History groups history records by path.
type History map[string][]*HistoryRecord

// GroupHistory groups records by path with the newest first in each group.
// Records written at the same instant are ordered by sequence.
func GroupHistory(records []*HistoryRecord) History {
	hist := make(History)
	for _, r := range records {
		hist[r.Path] = append(hist[r.Path], r)
	}
	for _, list := range hist {
		slices.SortStableFunc(list, compareHistoryNewestFirst)
	}
	return hist
}

func compareHistoryNewestFirst(a, b *HistoryRecord) int {
	if c := b.Date.Compare(a.Date); c != 0 {
		return c
	}
	return cmp.Compare(b.Seq, a.Seq)
}

// Paths returns the history's paths in sorted order.
func (h History) Paths() []string {
	paths := make([]string, 0, len(h))
	for p := range h {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}
