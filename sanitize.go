package pathdb

// Sanitize returns a deep copy of fields with every null or empty-string
// value removed, at any depth. Maps are kept even if pruning leaves them
// empty. The input is not modified.
func Sanitize(fields Map) Map {
	out := fields.Clone()
	if out == nil {
		return Map{}
	}

	nodes := []Map{out}
	for len(nodes) > 0 {
		m := nodes[len(nodes)-1]
		nodes = nodes[:len(nodes)-1]

		for k, v := range m {
			if isDeletedValue(v) {
				delete(m, k)
			} else if child, ok := v.(Map); ok {
				nodes = append(nodes, child)
			}
		}
	}
	return out
}

func isDeletedValue(v Value) bool {
	switch v := v.(type) {
	case nil, Null:
		return true
	case String:
		return v == ""
	default:
		return false
	}
}
