package pathdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// KeySeparator splits the components of index and history keys. It never
	// occurs in stored strings or field names.
	KeySeparator byte = 0x00

	// EmptyMapMarker is the index encoding of a nested-map path. It is not
	// valid UTF-8, so no real value encodes to it.
	EmptyMapMarker byte = 0xFF
)

var emptyMapEncoding = []byte{EmptyMapMarker}

// AppendIndexValue appends the untyped text encoding of a leaf value. A
// String and a Number with the same spelling encode identically, which
// is what makes "5" and 5 equivalent lookup keys.
func AppendIndexValue(buf []byte, v Value) []byte {
	switch v := v.(type) {
	case String:
		return append(buf, v...)
	case Number:
		return strconv.AppendFloat(buf, float64(foldZero(v)), 'f', -1, 64)
	case Bool:
		return strconv.AppendBool(buf, bool(v))
	case Map:
		return appendRaw(buf, emptyMapEncoding)
	case List:
		return appendRaw(buf, must(json.Marshal(ToAny(v))))
	case nil, Null:
		return append(buf, "null"...)
	default:
		panic(fmt.Errorf("unsupported value %T", v))
	}
}

func EncodeIndexValue(v Value) []byte {
	return AppendIndexValue(nil, v)
}

// AppendIndexPrefix appends the exact-match prefix of a value: its encoding
// followed by the separator, so that "ab" never matches entries of "abc".
func AppendIndexPrefix(buf []byte, v Value) []byte {
	buf = AppendIndexValue(buf, v)
	return append(buf, KeySeparator)
}

// AppendIndexKey appends the index key of document id holding value v.
func AppendIndexKey(buf []byte, v Value, id string) []byte {
	buf = AppendIndexPrefix(buf, v)
	return append(buf, id...)
}

// DecodeIndexKey splits an index key into the encoded value and document id.
func DecodeIndexKey(key []byte) (val []byte, id string, err error) {
	i := bytes.LastIndexByte(key, KeySeparator)
	if i < 0 {
		return nil, "", dataErrf(key, 0, nil, "index key lacks separator")
	}
	return key[:i], string(key[i+1:]), nil
}

// IndexUpdate returns the index keys a change removes and inserts for
// document id. Either may be nil. When both sides encode to the same key
// (e.g. "5" replaced by 5), the entry is left alone and both are nil.
func IndexUpdate(id string, chg *Change) (remove, insert []byte) {
	if chg.HasPrev() {
		remove = AppendIndexKey(nil, chg.Prev, id)
	}
	if chg.HasCur() {
		insert = AppendIndexKey(nil, chg.Cur, id)
	}
	if remove != nil && insert != nil && bytes.Equal(remove, insert) {
		return nil, nil
	}
	return remove, insert
}

// AppendHistoryKey appends the sort key of a history record within its
// document's history partition: path, separator, then a fixed-width
// timestamp and sequence so that byte order equals time order.
func AppendHistoryKey(buf []byte, path string, t time.Time, seq uint64) []byte {
	buf = append(buf, path...)
	buf = append(buf, KeySeparator)
	return fmt.Appendf(buf, "%019d.%020d", t.UnixNano(), seq)
}

// ParseHistoryKey is the inverse of AppendHistoryKey.
func ParseHistoryKey(key []byte) (path string, t time.Time, seq uint64, err error) {
	i := bytes.LastIndexByte(key, KeySeparator)
	if i < 0 {
		return "", time.Time{}, 0, dataErrf(key, 0, nil, "history key lacks separator")
	}
	path = string(key[:i])
	ts, seqStr, ok := splitByte(string(key[i+1:]), '.')
	if !ok {
		return "", time.Time{}, 0, dataErrf(key, i+1, nil, "history key lacks sequence")
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, 0, dataErrf(key, i+1, err, "invalid history timestamp")
	}
	seq, err = strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return "", time.Time{}, 0, dataErrf(key, i+1, err, "invalid history sequence")
	}
	return path, time.Unix(0, nanos).UTC(), seq, nil
}

// HistoryPrefixes returns the key prefixes whose ranges cover the history of
// path and everything nested under it. An empty path yields a single empty
// prefix covering the whole partition.
func HistoryPrefixes(path string) [][]byte {
	if path == "" {
		return [][]byte{{}}
	}
	exact := append([]byte(path), KeySeparator)
	nested := []byte(path + PathSeparator)
	return [][]byte{exact, nested}
}

// MatchesHistoryPrefix reports whether a record at recPath belongs to the
// history of prefix.
func MatchesHistoryPrefix(recPath, prefix string) bool {
	if prefix == "" || recPath == prefix {
		return true
	}
	return strings.HasPrefix(recPath, prefix+PathSeparator)
}
