package delta

import (
	"reflect"
	"testing"
)

func TestThreeWayMergeIdentity(t *testing.T) {
	base := mustNorm(t, map[string]any{"title": "X"})
	x := mustNorm(t, map[string]any{"title": "Y", "tags": []any{"a"}})

	merged, conflicts := ThreeWayMerge(base, x, x)
	if len(conflicts) != 0 {
		t.Fatalf("identity merge reported conflicts: %v", conflicts)
	}
	if !reflect.DeepEqual(merged, x) {
		t.Fatalf("got %v, want %v", merged, x)
	}
}

func TestThreeWayMergeOneSideWins(t *testing.T) {
	base := mustNorm(t, map[string]any{"title": "X", "tags": []any{"a"}})
	local := mustNorm(t, map[string]any{"title": "Y", "tags": []any{"a"}})
	remote := mustNorm(t, map[string]any{"title": "X", "tags": []any{"a", "b"}})

	merged, conflicts := ThreeWayMerge(base, local, remote)
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}
	want := mustNorm(t, map[string]any{"title": "Y", "tags": []any{"a", "b"}})
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("got %v, want %v", merged, want)
	}
}

func TestThreeWayMergeBothSidesDisagree(t *testing.T) {
	base := mustNorm(t, map[string]any{"title": "X"})
	local := mustNorm(t, map[string]any{"title": "Y"})
	remote := mustNorm(t, map[string]any{"title": "Z"})

	merged, conflicts := ThreeWayMerge(base, local, remote)
	if len(conflicts) != 1 {
		t.Fatalf("conflicts: got %v, want exactly one", conflicts)
	}
	c := conflicts[0]
	if c.Path != "/title" || c.Local != "Y" || c.Remote != "Z" {
		t.Fatalf("conflict: got %+v", c)
	}
	// Base value is kept in the merged result.
	if merged.(map[string]any)["title"] != "X" {
		t.Fatalf("merged kept %v, want base value X", merged)
	}
}

func TestThreeWayMergeSameChangeAccepted(t *testing.T) {
	base := mustNorm(t, map[string]any{"title": "X"})
	local := mustNorm(t, map[string]any{"title": "Y"})
	remote := mustNorm(t, map[string]any{"title": "Y"})

	merged, conflicts := ThreeWayMerge(base, local, remote)
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}
	if merged.(map[string]any)["title"] != "Y" {
		t.Fatalf("got %v, want title Y", merged)
	}
}

func TestThreeWayMergeConflictAtDeepestPath(t *testing.T) {
	base := mustNorm(t, map[string]any{"meta": map[string]any{"views": 1, "author": "m"}})
	local := mustNorm(t, map[string]any{"meta": map[string]any{"views": 2, "author": "m"}})
	remote := mustNorm(t, map[string]any{"meta": map[string]any{"views": 3, "author": "m"}})

	_, conflicts := ThreeWayMerge(base, local, remote)
	if len(conflicts) != 1 {
		t.Fatalf("conflicts: got %v, want one", conflicts)
	}
	if conflicts[0].Path != "/meta/views" {
		t.Fatalf("conflict path: got %s, want /meta/views", conflicts[0].Path)
	}
}

func TestThreeWayMergeSubtreeIndependentEdits(t *testing.T) {
	base := mustNorm(t, map[string]any{"meta": map[string]any{"views": 1, "author": "m"}})
	local := mustNorm(t, map[string]any{"meta": map[string]any{"views": 2, "author": "m"}})
	remote := mustNorm(t, map[string]any{"meta": map[string]any{"views": 1, "author": "k"}})

	merged, conflicts := ThreeWayMerge(base, local, remote)
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}
	want := mustNorm(t, map[string]any{"meta": map[string]any{"views": 2, "author": "k"}})
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("got %v, want %v", merged, want)
	}
}

func TestThreeWayMergeDeleteVsEdit(t *testing.T) {
	base := mustNorm(t, map[string]any{"title": "X", "body": "b"})
	local := mustNorm(t, map[string]any{"title": "X"}) // deleted body
	remote := mustNorm(t, map[string]any{"title": "X", "body": "edited"})

	merged, conflicts := ThreeWayMerge(base, local, remote)
	if len(conflicts) != 1 {
		t.Fatalf("conflicts: got %v, want one", conflicts)
	}
	c := conflicts[0]
	if c.Path != "/body" || c.Local != nil || c.Remote != "edited" {
		t.Fatalf("conflict: got %+v", c)
	}
	if merged.(map[string]any)["body"] != "b" {
		t.Fatalf("merged: got %v, want base body kept", merged)
	}
}

func TestThreeWayMergeBothDelete(t *testing.T) {
	base := mustNorm(t, map[string]any{"title": "X", "body": "b"})
	local := mustNorm(t, map[string]any{"title": "X"})
	remote := mustNorm(t, map[string]any{"title": "X"})

	merged, conflicts := ThreeWayMerge(base, local, remote)
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}
	if _, ok := merged.(map[string]any)["body"]; ok {
		t.Fatalf("merged: %v, want body removed", merged)
	}
}

func TestThreeWayMergeBothAddSameKey(t *testing.T) {
	base := mustNorm(t, map[string]any{})
	local := mustNorm(t, map[string]any{"k": 1})
	remote := mustNorm(t, map[string]any{"k": 2})

	merged, conflicts := ThreeWayMerge(base, local, remote)
	if len(conflicts) != 1 || conflicts[0].Path != "/k" {
		t.Fatalf("conflicts: got %v, want one at /k", conflicts)
	}
	if _, ok := merged.(map[string]any)["k"]; ok {
		t.Fatalf("merged: %v, want k absent (no base value)", merged)
	}
}

func TestThreeWayMergeEmptyBase(t *testing.T) {
	base := mustNorm(t, map[string]any{})
	local := mustNorm(t, map[string]any{"a": 1})
	remote := mustNorm(t, map[string]any{"b": 2})

	merged, conflicts := ThreeWayMerge(base, local, remote)
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}
	want := mustNorm(t, map[string]any{"a": 1, "b": 2})
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("got %v, want %v", merged, want)
	}
}

func TestThreeWayMergeArraysAtomic(t *testing.T) {
	base := mustNorm(t, map[string]any{"tags": []any{"a"}})
	local := mustNorm(t, map[string]any{"tags": []any{"a", "b"}})
	remote := mustNorm(t, map[string]any{"tags": []any{"a", "c"}})

	merged, conflicts := ThreeWayMerge(base, local, remote)
	if len(conflicts) != 1 || conflicts[0].Path != "/tags" {
		t.Fatalf("conflicts: got %v, want one at /tags", conflicts)
	}
	want := mustNorm(t, map[string]any{"tags": []any{"a"}})
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("got %v, want base tags kept", merged)
	}
}
