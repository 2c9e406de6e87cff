package pathdb

// Diff compares the flattened forms of prev and cur and classifies every path
// that differs. Paths only in prev are deleted, paths only in cur are created,
// and paths in both with unequal values are updated. The result is both the
// history to append and the set of index entries to move.
func Diff(author string, prev, cur Map) Diffs {
	return diffPaths(author, Flatten(prev), Flatten(cur))
}

func diffPaths(author string, prevPaths, curPaths PathMap) Diffs {
	diffs := make(Diffs)

	for path, pv := range prevPaths {
		if _, found := curPaths[path]; !found {
			diffs[path] = &Change{Deleted: true, Prev: pv, Author: author}
		}
	}

	for path, cv := range curPaths {
		pv, found := prevPaths[path]
		if !found {
			diffs[path] = &Change{Created: true, Cur: cv, Author: author}
		} else if !Equal(pv, cv) {
			diffs[path] = &Change{Prev: pv, Cur: cv, Author: author}
		}
	}

	return diffs
}
