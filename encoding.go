package pathdb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type docRecord struct {
	ID     string         `msgpack:"id"`
	Fields map[string]any `msgpack:"f"`
}

type historyRecord struct {
	Path    string `msgpack:"p"`
	Time    int64  `msgpack:"t"`
	Seq     uint64 `msgpack:"s"`
	Created bool   `msgpack:"c,omitempty"`
	Deleted bool   `msgpack:"d,omitempty"`
	Prev    any    `msgpack:"pv"`
	Cur     any    `msgpack:"cv"`
	Author  string `msgpack:"a"`
}

func encodeMsgPack(buf []byte, v any) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return bb.Buf
}

func decodeMsgPack(buf []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}

// MarshalDocument encodes a document, id included, for storage.
func MarshalDocument(doc *Document) []byte {
	rec := docRecord{ID: doc.ID, Fields: ToAny(doc.Fields).(map[string]any)}
	return encodeMsgPack(nil, &rec)
}

func UnmarshalDocument(data []byte) (*Document, error) {
	var rec docRecord
	if err := decodeMsgPack(data, &rec); err != nil {
		return nil, err
	}
	fields, err := MapFromAny(rec.Fields)
	if err != nil {
		return nil, dataErrf(data, 0, err, "invalid document fields")
	}
	return &Document{ID: rec.ID, Fields: fields}, nil
}

// MarshalHistoryRecord encodes a history record for storage.
func MarshalHistoryRecord(r *HistoryRecord) []byte {
	rec := historyRecord{
		Path:    r.Path,
		Time:    r.Date.UnixNano(),
		Seq:     r.Seq,
		Created: r.Created,
		Deleted: r.Deleted,
		Author:  r.Author,
	}
	if r.HasPrev() {
		rec.Prev = ToAny(r.Prev)
	}
	if r.HasCur() {
		rec.Cur = ToAny(r.Cur)
	}
	return encodeMsgPack(nil, &rec)
}

func UnmarshalHistoryRecord(data []byte) (*HistoryRecord, error) {
	var rec historyRecord
	if err := decodeMsgPack(data, &rec); err != nil {
		return nil, err
	}
	r := &HistoryRecord{
		Path: rec.Path,
		Date: time.Unix(0, rec.Time).UTC(),
		Seq:  rec.Seq,
		Change: Change{
			Created: rec.Created,
			Deleted: rec.Deleted,
			Author:  rec.Author,
		},
	}
	var err error
	if r.HasPrev() {
		if r.Prev, err = FromAny(rec.Prev); err != nil {
			return nil, dataErrf(data, 0, err, "invalid history prev value")
		}
	}
	if r.HasCur() {
		if r.Cur, err = FromAny(rec.Cur); err != nil {
			return nil, dataErrf(data, 0, err, "invalid history cur value")
		}
	}
	return r, nil
}
