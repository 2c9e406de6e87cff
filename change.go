package pathdb

import (
	"fmt"
	"slices"
)

type (
	// Change describes what happened to a single path in one write.
	// Exactly one shape is used: {Created, Cur}, {Deleted, Prev} or {Prev, Cur}.
	Change struct {
		Created bool   `json:"created,omitempty"`
		Deleted bool   `json:"deleted,omitempty"`
		Prev    Value  `json:"prev,omitempty"`
		Cur     Value  `json:"cur,omitempty"`
		Author  string `json:"author"`
	}

	// Diffs maps changed paths to their changes.
	Diffs map[string]*Change

	Op int
)

const (
	OpNone   Op = 0
	OpCreate Op = 1
	OpUpdate Op = 2
	OpDelete Op = 3
)

func (chg *Change) Op() Op {
	switch {
	case chg == nil:
		return OpNone
	case chg.Created:
		return OpCreate
	case chg.Deleted:
		return OpDelete
	default:
		return OpUpdate
	}
}

// HasPrev reports whether the path had a value before the write, i.e. whether
// an index entry keyed by Prev has to be removed.
func (chg *Change) HasPrev() bool {
	return !chg.Created
}

// HasCur reports whether the path has a value after the write, i.e. whether
// an index entry keyed by Cur has to be added.
func (chg *Change) HasCur() bool {
	return !chg.Deleted
}

func (chg *Change) String() string {
	switch chg.Op() {
	case OpCreate:
		return fmt.Sprintf("create(%s) by %s", loggableValue(chg.Cur), chg.Author)
	case OpDelete:
		return fmt.Sprintf("delete(%s) by %s", loggableValue(chg.Prev), chg.Author)
	case OpUpdate:
		return fmt.Sprintf("update(%s => %s) by %s", loggableValue(chg.Prev), loggableValue(chg.Cur), chg.Author)
	default:
		return "none"
	}
}

// Paths returns the changed paths in sorted order.
func (d Diffs) Paths() []string {
	paths := make([]string, 0, len(d))
	for p := range d {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
