package pathdb

import "strings"

// PathSeparator joins field names into paths.
const PathSeparator = "."

// PathMap maps dotted paths to leaf values. A path addressing a nested map is
// mapped to an empty Map, so that the presence of a sub-object can be diffed
// on its own.
type PathMap map[string]Value

// Flatten produces the PathMap of a document's fields. It walks the tree with
// an explicit work list, so document depth is bounded by memory only.
func Flatten(fields Map) PathMap {
	type node struct {
		path string
		m    Map
	}

	paths := make(PathMap)
	nodes := []node{{"", fields}}
	for len(nodes) > 0 {
		n := nodes[len(nodes)-1]
		nodes = nodes[:len(nodes)-1]

		for key, v := range n.m {
			path := key
			if n.path != "" {
				path = n.path + PathSeparator + key
			}
			if m, ok := v.(Map); ok {
				paths[path] = Map{}
				nodes = append(nodes, node{path, m})
			} else {
				paths[path] = v
			}
		}
	}
	return paths
}

// Paths returns the map's paths in sorted order.
func (pm PathMap) Paths() []string {
	return Map(pm).Keys()
}

func JoinPath(segments ...string) string {
	return strings.Join(segments, PathSeparator)
}

// SplitPath splits a dotted path into field names.
func SplitPath(path string) []string {
	return strings.Split(path, PathSeparator)
}

func isValidPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range SplitPath(path) {
		if seg == "" {
			return false
		}
	}
	return true
}
