package pathdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var testEpoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func setupMemory(t testing.TB) *KV {
	t.Helper()
	kv := OpenMemory(KVOptions{IsTesting: true})
	t.Cleanup(func() { kv.Close() })
	return kv
}

func setupBolt(t testing.TB) *KV {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pathdb_test.db")
	t.Logf("DB: %s", path)
	kv := must(OpenBolt(path, KVOptions{IsTesting: true}))
	t.Cleanup(func() { kv.Close() })
	return kv
}

// forEachKV runs f against both storage engines.
func forEachKV(t *testing.T, f func(t *testing.T, kv *KV)) {
	t.Run("memory", func(t *testing.T) { f(t, setupMemory(t)) })
	t.Run("bolt", func(t *testing.T) { f(t, setupBolt(t)) })
}

// testOptions issues ids id-1, id-2, ... and a clock that advances one second per write.
func testOptions() Options {
	var ids, ticks atomic.Int64
	return Options{
		NewID: func() string { return fmt.Sprintf("id-%d", ids.Add(1)) },
		Now:   func() time.Time { return testEpoch.Add(time.Duration(ticks.Add(1)) * time.Second) },
	}
}

func mustPut(t testing.TB, s *Store, author, path string, value Value, partial Map) *Document {
	t.Helper()
	doc, err := s.Put(context.Background(), author, path, value, partial)
	if err != nil {
		t.Fatalf("Put(%s, %s=%v) failed: %v", author, path, value, err)
	}
	return doc
}

func historyChanges(hist History, path string) []Change {
	var changes []Change
	for _, r := range hist[path] {
		changes = append(changes, r.Change)
	}
	return changes
}

func TestStore_Create(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv *KV) {
		ctx := context.Background()
		s := New(kv, testOptions())

		doc := mustPut(t, s, "init", "email", String("1@mail.com"), Map{"email": String("1@mail.com"), "rank": Number(1)})
		if doc.ID != "id-1" {
			t.Errorf("ID = %q, wanted id-1", doc.ID)
		}

		found, err := s.FindOne(ctx, "email", String("1@mail.com"))
		if err != nil {
			t.Fatal(err)
		}
		if found == nil {
			t.Fatalf("FindOne = nil, wanted the created document")
		}
		want := Map{"email": String("1@mail.com"), "rank": Number(1)}
		if diff := cmp.Diff(want, found.Fields); diff != "" {
			t.Errorf("** fields mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStore_MergeUpdateHistory(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv *KV) {
		ctx := context.Background()
		s := New(kv, testOptions())

		mustPut(t, s, "init", "email", String("1@mail.com"), Map{"email": String("1@mail.com"), "rank": Number(1)})
		doc := mustPut(t, s, "alice", "email", String("1@mail.com"), Map{"rank": Number(2)})

		want := Map{"email": String("1@mail.com"), "rank": Number(2)}
		if diff := cmp.Diff(want, doc.Fields); diff != "" {
			t.Errorf("** fields mismatch (-want +got):\n%s", diff)
		}
		if doc.ID != "id-1" {
			t.Errorf("ID = %q, wanted the original id-1", doc.ID)
		}

		hist, err := s.History(ctx, "email", String("1@mail.com"), "")
		if err != nil {
			t.Fatal(err)
		}
		wantRank := []Change{
			{Prev: Number(1), Cur: Number(2), Author: "alice"},
			{Created: true, Cur: Number(1), Author: "init"},
		}
		if diff := cmp.Diff(wantRank, historyChanges(hist, "rank")); diff != "" {
			t.Errorf("** rank history mismatch (-want +got):\n%s", diff)
		}
		wantEmail := []Change{
			{Created: true, Cur: String("1@mail.com"), Author: "init"},
		}
		if diff := cmp.Diff(wantEmail, historyChanges(hist, "email")); diff != "" {
			t.Errorf("** email history mismatch (-want +got):\n%s", diff)
		}
		if r := hist["rank"]; len(r) == 2 && !r[0].Date.After(r[1].Date) {
			t.Errorf("rank history dates %v, %v, wanted newest first", r[0].Date, r[1].Date)
		}
	})
}

func TestStore_Ambiguity(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv *KV) {
		ctx := context.Background()
		s := New(kv, testOptions())

		mustPut(t, s, "init", "email", String("a@mail.com"), Map{"status": String("active")})
		mustPut(t, s, "init", "email", String("b@mail.com"), Map{"status": String("active")})

		doc, err := s.FindOne(ctx, "status", String("active"))
		if !errors.Is(err, ErrMultipleMatches) {
			t.Fatalf("FindOne = (%v, %v), wanted ErrMultipleMatches", doc, err)
		}
		var mme *MultipleMatchesError
		if !errors.As(err, &mme) || mme.Count != 2 {
			t.Errorf("err = %#v, wanted *MultipleMatchesError with Count 2", err)
		}

		_, err = s.Put(ctx, "bob", "status", String("active"), Map{"rank": Number(1)})
		if !errors.Is(err, ErrMultipleMatches) {
			t.Errorf("Put on ambiguous key = %v, wanted ErrMultipleMatches", err)
		}

		docs, err := s.FindByValue(ctx, "status", String("active"))
		if err != nil || len(docs) != 2 {
			t.Errorf("FindByValue = (%d docs, %v), wanted 2 docs", len(docs), err)
		}
	})
}

func TestStore_FieldDeletion(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv *KV) {
		ctx := context.Background()
		s := New(kv, testOptions())

		mustPut(t, s, "init", "email", String("1@mail.com"), Map{"extra": String("x"), "keep": Bool(true)})
		docs, err := s.Exists(ctx, "extra")
		if err != nil || len(docs) != 1 {
			t.Fatalf("Exists(extra) before = (%d docs, %v), wanted 1 doc", len(docs), err)
		}

		doc := mustPut(t, s, "bob", "email", String("1@mail.com"), Map{"extra": Null{}})
		if _, found := doc.Fields["extra"]; found {
			t.Errorf("extra still present in %v", doc.Fields)
		}
		if doc.Fields["keep"] != Bool(true) {
			t.Errorf("keep = %v, wanted true", doc.Fields["keep"])
		}

		docs, err = s.Exists(ctx, "extra")
		if err != nil || len(docs) != 0 {
			t.Errorf("Exists(extra) after = (%d docs, %v), wanted none", len(docs), err)
		}

		hist, err := s.History(ctx, "email", String("1@mail.com"), "extra")
		if err != nil {
			t.Fatal(err)
		}
		want := []Change{
			{Deleted: true, Prev: String("x"), Author: "bob"},
			{Created: true, Cur: String("x"), Author: "init"},
		}
		if diff := cmp.Diff(want, historyChanges(hist, "extra")); diff != "" {
			t.Errorf("** extra history mismatch (-want +got):\n%s", diff)
		}
		if len(hist) != 1 {
			t.Errorf("history paths = %v, wanted only extra", hist.Paths())
		}
	})
}

func TestStore_EmptyStringDeletes(t *testing.T) {
	s := New(setupMemory(t), testOptions())
	mustPut(t, s, "init", "email", String("1@mail.com"), Map{"nick": String("z")})
	doc := mustPut(t, s, "init", "email", String("1@mail.com"), Map{"nick": String("")})
	if _, found := doc.Fields["nick"]; found {
		t.Errorf("nick still present in %v", doc.Fields)
	}
}

func TestStore_PrefixSafety(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv *KV) {
		ctx := context.Background()
		s := New(kv, testOptions())

		mustPut(t, s, "init", "email", String("ab@mail.com"), Map{"code": String("ab")})
		mustPut(t, s, "init", "email", String("abc@mail.com"), Map{"code": String("abc")})

		docs, err := s.FindByValue(ctx, "code", String("ab"))
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) != 1 || docs[0].Fields["email"] != String("ab@mail.com") {
			t.Errorf("FindByValue(code=ab) = %v, wanted only ab@mail.com", docs)
		}

		docs, err = s.FindByValue(ctx, "code", String("a"))
		if err != nil || len(docs) != 0 {
			t.Errorf("FindByValue(code=a) = (%v, %v), wanted none", docs, err)
		}
	})
}

func TestStore_NumericNormalization(t *testing.T) {
	ctx := context.Background()
	s := New(setupMemory(t), testOptions())

	mustPut(t, s, "init", "email", String("1@mail.com"), Map{"rank": String("5")})

	for _, v := range []Value{Number(5), String("5"), String("5.0")} {
		docs, err := s.FindByValue(ctx, "rank", v)
		if err != nil || len(docs) != 1 {
			t.Errorf("FindByValue(rank=%#v) = (%d docs, %v), wanted 1 doc", v, len(docs), err)
		}
	}

	mustPut(t, s, "init", "email", String("0@mail.com"), Map{"level": Number(0)})
	for _, v := range []Value{Number(0), String("0"), String("-0")} {
		docs, err := s.FindByValue(ctx, "level", v)
		if err != nil || len(docs) != 1 {
			t.Errorf("FindByValue(level=%#v) = (%d docs, %v), wanted 1 doc", v, len(docs), err)
		}
	}

	doc := mustPut(t, s, "init", "id", String("42"), Map{"email": String("2@mail.com")})
	if doc.Fields["id"] != Number(42) {
		t.Errorf("id = %#v, wanted Number(42)", doc.Fields["id"])
	}
	found, err := s.FindOne(ctx, "id", Number(42))
	if err != nil || found == nil || found.ID != doc.ID {
		t.Errorf("FindOne(id=42) = (%v, %v), wanted %s", found, err, doc.ID)
	}
}

func TestStore_NestedPaths(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv *KV) {
		ctx := context.Background()
		s := New(kv, testOptions())

		mustPut(t, s, "init", "email", String("1@mail.com"), Map{
			"profile":  Map{"name": String("Ann"), "links": Map{}},
			"profiles": String("other"),
		})

		for _, path := range []string{"profile", "profile.name", "profile.links"} {
			docs, err := s.Exists(ctx, path)
			if err != nil || len(docs) != 1 {
				t.Errorf("Exists(%s) = (%d docs, %v), wanted 1 doc", path, len(docs), err)
			}
		}
		docs, err := s.FindByValue(ctx, "profile.name", String("Ann"))
		if err != nil || len(docs) != 1 {
			t.Errorf("FindByValue(profile.name) = (%d docs, %v), wanted 1 doc", len(docs), err)
		}

		mustPut(t, s, "bob", "email", String("1@mail.com"), Map{"profile": Map{"name": String("Bea")}})

		hist, err := s.History(ctx, "email", String("1@mail.com"), "profile")
		if err != nil {
			t.Fatal(err)
		}
		wantPaths := []string{"profile", "profile.links", "profile.name"}
		if diff := cmp.Diff(wantPaths, hist.Paths()); diff != "" {
			t.Errorf("** history paths mismatch (-want +got):\n%s", diff)
		}
		wantName := []Change{
			{Prev: String("Ann"), Cur: String("Bea"), Author: "bob"},
			{Created: true, Cur: String("Ann"), Author: "init"},
		}
		if diff := cmp.Diff(wantName, historyChanges(hist, "profile.name")); diff != "" {
			t.Errorf("** profile.name history mismatch (-want +got):\n%s", diff)
		}
		wantMarker := []Change{{Created: true, Cur: Map{}, Author: "init"}}
		if diff := cmp.Diff(wantMarker, historyChanges(hist, "profile")); diff != "" {
			t.Errorf("** profile history mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStore_NoopPutWritesNoHistory(t *testing.T) {
	ctx := context.Background()
	s := New(setupMemory(t), testOptions())

	mustPut(t, s, "init", "email", String("1@mail.com"), Map{"rank": Number(1)})
	mustPut(t, s, "again", "email", String("1@mail.com"), Map{"rank": Number(1)})

	hist, err := s.History(ctx, "email", String("1@mail.com"), "")
	if err != nil {
		t.Fatal(err)
	}
	for path, records := range hist {
		if len(records) != 1 {
			t.Errorf("history of %s has %d records, wanted 1", path, len(records))
		}
	}
}

func TestStore_DottedNestedKeyRejected(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv *KV) {
		ctx := context.Background()
		s := New(kv, testOptions())

		mustPut(t, s, "init", "email", String("1@mail.com"), Map{"a": Map{"b": Map{"c": Number(2)}}})

		doc, err := s.Put(ctx, "bob", "email", String("1@mail.com"), Map{"a": Map{"b.c": Number(3)}})
		if !IsValidationError(err) {
			t.Fatalf("Put = (%v, %v), wanted ValidationError", doc, err)
		}
		if ve := err.(*ValidationError); ve.Field != "a.b.c" {
			t.Errorf("Field = %q, wanted a.b.c", ve.Field)
		}

		doc = must(s.FindOne(ctx, "email", String("1@mail.com")))
		want := Map{"email": String("1@mail.com"), "a": Map{"b": Map{"c": Number(2)}}}
		if diff := cmp.Diff(want, doc.Fields); diff != "" {
			t.Errorf("** stored document changed (-want +got):\n%s", diff)
		}
		hist := must(s.History(ctx, "email", String("1@mail.com"), ""))
		for path, records := range hist {
			for _, r := range records {
				if r.Author == "bob" {
					t.Errorf("history of %s has a record by bob", path)
				}
			}
		}
	})
}

func TestStore_ListAll(t *testing.T) {
	ctx := context.Background()
	s := New(setupMemory(t), testOptions())

	docs, err := s.ListAll(ctx)
	if err != nil || len(docs) != 0 {
		t.Fatalf("ListAll on empty store = (%v, %v), wanted nothing", docs, err)
	}

	mustPut(t, s, "init", "email", String("a@mail.com"), nil)
	mustPut(t, s, "init", "email", String("b@mail.com"), nil)

	docs, err = s.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var emails []Value
	for _, d := range docs {
		emails = append(emails, d.Fields["email"])
	}
	want := []Value{String("a@mail.com"), String("b@mail.com")}
	if diff := cmp.Diff(want, emails); diff != "" {
		t.Errorf("** ListAll mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := New(setupMemory(t), testOptions())

	doc, err := s.FindOne(ctx, "email", String("nobody@mail.com"))
	if doc != nil || err != nil {
		t.Errorf("FindOne = (%v, %v), wanted (nil, nil)", doc, err)
	}
	hist, err := s.History(ctx, "email", String("nobody@mail.com"), "")
	if hist != nil || err != nil {
		t.Errorf("History = (%v, %v), wanted (nil, nil)", hist, err)
	}
}

func TestStore_Validation(t *testing.T) {
	ctx := context.Background()
	s := New(setupMemory(t), testOptions())

	tests := []struct {
		name    string
		path    string
		value   Value
		partial Map
	}{
		{"missing mandatory field", "id", String("1"), Map{"name": String("x")}},
		{"empty mandatory field", "id", String("1"), Map{"email": String("")}},
		{"mandatory field is a map", "id", String("1"), Map{"email": Map{}}},
		{"dotted top-level key", "email", String("a@mail.com"), Map{"a.b": String("x")}},
		{"dotted nested key", "email", String("a@mail.com"), Map{"a": Map{"b.c": Number(1), "b": Map{"c": Number(2)}}}},
		{"NUL in value", "email", String("a@mail.com"), Map{"x": String("a\x00b")}},
		{"NUL in key", "email", String("a@mail.com"), Map{"x": Map{"a\x00": Bool(true)}}},
		{"empty nested key", "email", String("a@mail.com"), Map{"x": Map{"": Bool(true)}}},
		{"empty path", "", String("a@mail.com"), nil},
		{"empty path segment", "email..x", String("a@mail.com"), nil},
		{"empty lookup value", "email", String(""), nil},
		{"map lookup value", "email", Map{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := s.Put(ctx, "init", tt.path, tt.value, tt.partial)
			if !IsValidationError(err) {
				t.Fatalf("Put = (%v, %v), wanted ValidationError", doc, err)
			}
		})
	}

	docs, err := s.ListAll(ctx)
	if err != nil || len(docs) != 0 {
		t.Errorf("ListAll = (%d docs, %v), wanted nothing stored", len(docs), err)
	}

	if _, err := s.Exists(ctx, ""); !IsValidationError(err) {
		t.Errorf("Exists(\"\") = %v, wanted ValidationError", err)
	}
}

func TestStore_ForcedLookupValue(t *testing.T) {
	s := New(setupMemory(t), testOptions())
	doc := mustPut(t, s, "init", "email", String("1@mail.com"), Map{"email": String("other@mail.com")})
	if doc.Fields["email"] != String("1@mail.com") {
		t.Errorf("email = %v, wanted the lookup value 1@mail.com", doc.Fields["email"])
	}
}

func TestStore_PutAt(t *testing.T) {
	ctx := context.Background()
	s := New(setupMemory(t), testOptions())

	mustPut(t, s, "init", "email", String("1@mail.com"), Map{"profile": Map{"age": Number(30)}})
	doc, err := s.PutAt(ctx, "init", "email", String("1@mail.com"), []string{"profile", "name"}, String("Ann"))
	if err != nil {
		t.Fatal(err)
	}
	want := Map{"email": String("1@mail.com"), "profile": Map{"age": Number(30), "name": String("Ann")}}
	if diff := cmp.Diff(want, doc.Fields); diff != "" {
		t.Errorf("** fields mismatch (-want +got):\n%s", diff)
	}

	v, ok := Lookup(doc, []string{"profile", "name"})
	if !ok || v != String("Ann") {
		t.Errorf("Lookup(profile.name) = (%v, %v), wanted Ann", v, ok)
	}
	if _, ok := Lookup(doc, []string{"profile", "missing"}); ok {
		t.Errorf("Lookup(profile.missing) found something")
	}

	if _, err := s.PutAt(ctx, "init", "email", String("1@mail.com"), nil, String("scalar")); !IsValidationError(err) {
		t.Errorf("PutAt with scalar body = %v, wanted ValidationError", err)
	}
}

func TestStore_SerializeWrites(t *testing.T) {
	ctx := context.Background()
	opt := testOptions()
	opt.SerializeWrites = true
	s := New(setupMemory(t), opt)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Put(ctx, "w", "email", String("1@mail.com"), Map{fmt.Sprintf("f%d", i): Number(i)})
			if err != nil {
				t.Errorf("Put #%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	docs, err := s.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("ListAll = %d docs, wanted 1", len(docs))
	}
	if got := len(docs[0].Fields); got != n+1 {
		t.Errorf("document has %d fields, wanted %d", got, n+1)
	}
}

func TestStore_MandatoryFieldOption(t *testing.T) {
	opt := testOptions()
	opt.MandatoryField = "login"
	s := New(setupMemory(t), opt)

	if _, err := s.Put(context.Background(), "init", "email", String("1@mail.com"), nil); !IsValidationError(err) {
		t.Errorf("Put without login = %v, wanted ValidationError", err)
	}
	mustPut(t, s, "init", "login", String("ann"), nil)
}

type failingBackend struct {
	Backend
	err error
}

func (b failingBackend) Persist(ctx context.Context, doc *Document, diffs Diffs, at time.Time) (*Document, error) {
	return nil, b.err
}

func TestStore_BackendError(t *testing.T) {
	inner := errors.New("disk on fire")
	s := New(failingBackend{setupMemory(t), inner}, testOptions())

	_, err := s.Put(context.Background(), "init", "email", String("1@mail.com"), nil)
	var be *BackendError
	if !errors.As(err, &be) || be.Op != "persist" || !errors.Is(err, inner) {
		t.Errorf("Put = %v, wanted BackendError(persist) wrapping %v", err, inner)
	}
}
