package pathdb

// Merge returns a deep copy of base with partial laid over it. Maps present
// on both sides merge key by key; in every other case the partial value
// wins, including Null and "" (which Sanitize later removes) and lists,
// which are replaced as a whole.
func Merge(base, partial Map) Map {
	out := base.Clone()
	if out == nil {
		out = make(Map, len(partial))
	}
	for k, pv := range partial {
		pm, pIsMap := pv.(Map)
		bm, bIsMap := out[k].(Map)
		if pIsMap && bIsMap {
			out[k] = Merge(bm, pm)
		} else {
			out[k] = Clone(pv)
		}
	}
	return out
}
