/*
Package pathdb implements a schema-less document store that can look up
documents by any nested field, keeps a secondary index over every field,
and records an attributed history of every field change.

We implement:

1. A value model (Value, Map, Document) for arbitrary nested documents.

2. Flatten, Sanitize, Diff and Merge, the pure functions behind a write.

3. Store, which turns a partial document into a merged, validated write and
hands the document plus its diff to a Backend.

4. KV, a Backend over an ordered key-value storage (Bolt, or in-memory for
tests and tools). Other backends live in redisstore and dynamostore.

# Technical Details

**Paths.**
A path joins field names with a dot. Flattening a document maps every path to
its leaf value; a path leading to a nested map maps to an empty Map, so that
the appearance or disappearance of a sub-object shows up in diffs.

**Index keys.**
Every (path, value, document) triple becomes a key in the path's partition:
the value's text encoding, a 0x00 separator, then the document id. Exact-match
lookups scan the prefix "value 0x00", so "ab" never matches "abc". Strings and
field names containing 0x00 are rejected on write. Numbers use the shortest
decimal form, and lookup values that read as numbers are normalized to
numbers, so "5" and 5 are the same key. A nested-map path is indexed under the
single byte 0xFF, which never appears in UTF-8 text.

**History keys.**
A history record of a document is keyed by path, 0x00, a 19-digit nanosecond
timestamp, a dot, and a 20-digit sequence number. History of a path and its
descendants is the union of the ranges "path 0x00" and "path.".

**Values** of the KV and Redis backends are msgpack with sorted map keys.
*/
package pathdb
