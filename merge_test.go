package pathdb

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMerge(t *testing.T) {
	base := Map{
		"email":   String("1@mail.com"),
		"rank":    Number(1),
		"tags":    List{String("a"), String("b")},
		"profile": Map{"name": String("Ann"), "age": Number(30)},
		"flat":    String("x"),
	}
	partial := Map{
		"rank":    Number(2),
		"tags":    List{String("c")},
		"profile": Map{"age": Number(31), "city": String("Oslo")},
		"flat":    Map{"now": String("nested")},
		"gone":    Null{},
	}
	want := Map{
		"email":   String("1@mail.com"),
		"rank":    Number(2),
		"tags":    List{String("c")},
		"profile": Map{"name": String("Ann"), "age": Number(31), "city": String("Oslo")},
		"flat":    Map{"now": String("nested")},
		"gone":    Null{},
	}

	baseCopy, partialCopy := base.Clone(), partial.Clone()
	got := Merge(base, partial)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("** Merge mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(baseCopy, base); diff != "" {
		t.Errorf("** Merge modified base:\n%s", diff)
	}
	if diff := cmp.Diff(partialCopy, partial); diff != "" {
		t.Errorf("** Merge modified partial:\n%s", diff)
	}

	got["profile"].(Map)["name"] = String("changed")
	if base["profile"].(Map)["name"] != String("Ann") {
		t.Errorf("Merge result shares nested maps with base")
	}
}

func TestMerge_NilSides(t *testing.T) {
	if got := Merge(nil, nil); got == nil || len(got) != 0 {
		t.Errorf("Merge(nil, nil) = %#v, wanted empty map", got)
	}
	want := Map{"a": Number(1)}
	if diff := cmp.Diff(want, Merge(nil, want)); diff != "" {
		t.Errorf("** Merge(nil, x) mismatch:\n%s", diff)
	}
	if diff := cmp.Diff(want, Merge(want, nil)); diff != "" {
		t.Errorf("** Merge(x, nil) mismatch:\n%s", diff)
	}
}
