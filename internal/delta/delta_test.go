package delta

import (
	"errors"
	"reflect"
	"testing"
)

// mustNorm converts Go literals into decoded-JSON dynamic types.
func mustNorm(t *testing.T, v any) any {
	t.Helper()
	out, err := Normalize(v)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return out
}

// roundTrip asserts Apply(before, Diff(before, after)) == after.
func roundTrip(t *testing.T, before, after any) Delta {
	t.Helper()
	b := mustNorm(t, before)
	a := mustNorm(t, after)

	d := Diff(b, a)
	got, err := Apply(b, d)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !reflect.DeepEqual(got, a) {
		t.Fatalf("round trip failed:\n before %v\n delta  %v\n got    %v\n want   %v", b, d, got, a)
	}
	return d
}

func TestDiffApplyRoundTrip(t *testing.T) {
	tests := []struct {
		name          string
		before, after any
	}{
		{"identical", map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"replace primitive", map[string]any{"content": "hello"}, map[string]any{"content": "hi"}},
		{"add key", map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}},
		{"remove key", map[string]any{"a": 1, "b": 2}, map[string]any{"a": 1}},
		{"nested object", map[string]any{"meta": map[string]any{"x": 1, "y": 2}}, map[string]any{"meta": map[string]any{"x": 9, "y": 2}}},
		{"nested add and remove", map[string]any{"meta": map[string]any{"x": 1}}, map[string]any{"meta": map[string]any{"z": 3}}},
		{"array element change", map[string]any{"tags": []any{"a", "b"}}, map[string]any{"tags": []any{"a", "c"}}},
		{"array grow", map[string]any{"tags": []any{"a"}}, map[string]any{"tags": []any{"a", "b", "c"}}},
		{"array shrink", map[string]any{"tags": []any{"a", "b", "c"}}, map[string]any{"tags": []any{"a"}}},
		{"array to empty", map[string]any{"tags": []any{"a", "b"}}, map[string]any{"tags": []any{}}},
		{"type change object to array", map[string]any{"v": map[string]any{"a": 1}}, map[string]any{"v": []any{1}}},
		{"type change at root", map[string]any{"a": 1}, []any{"x"}},
		{"null values", map[string]any{"a": nil}, map[string]any{"a": 1, "b": nil}},
		{"deep mixed", map[string]any{
			"title": "X",
			"tags":  []any{"a"},
			"meta":  map[string]any{"views": 3, "pins": []any{1, 2}},
		}, map[string]any{
			"title": "Y",
			"tags":  []any{"a", "b"},
			"meta":  map[string]any{"views": 4, "pins": []any{1}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roundTrip(t, tt.before, tt.after)
		})
	}
}

func TestDiffIdenticalIsEmpty(t *testing.T) {
	v := mustNorm(t, map[string]any{"a": 1, "b": []any{1, 2}})
	if d := Diff(v, v); len(d) != 0 {
		t.Fatalf("diff of identical values: got %v, want empty", d)
	}
}

func TestDiffEscapedKeys(t *testing.T) {
	roundTrip(t,
		map[string]any{"a/b": 1, "c~d": 2},
		map[string]any{"a/b": 9, "c~d": 2},
	)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	before := mustNorm(t, map[string]any{"a": map[string]any{"x": 1}})
	d := Delta{{Op: OpReplace, Path: "/a/x", Value: float64(2)}}

	if _, err := Apply(before, d); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if before.(map[string]any)["a"].(map[string]any)["x"] != float64(1) {
		t.Fatal("apply mutated its input")
	}
}

func TestApplyMoveAndCopy(t *testing.T) {
	state := mustNorm(t, map[string]any{"a": 1, "b": map[string]any{}})

	got, err := Apply(state, Delta{
		{Op: OpMove, Path: "/b/a", From: "/a"},
		{Op: OpCopy, Path: "/c", From: "/b/a"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	want := mustNorm(t, map[string]any{"b": map[string]any{"a": 1}, "c": 1})
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestApplyArrayAppendDash(t *testing.T) {
	state := mustNorm(t, map[string]any{"tags": []any{"a"}})
	got, err := Apply(state, Delta{{Op: OpAdd, Path: "/tags/-", Value: "b"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := mustNorm(t, map[string]any{"tags": []any{"a", "b"}})
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestApplyInvalid(t *testing.T) {
	state := mustNorm(t, map[string]any{"a": 1, "tags": []any{"x"}})

	tests := []struct {
		name string
		d    Delta
	}{
		{"unknown op", Delta{{Op: "merge", Path: "/a"}}},
		{"replace missing key", Delta{{Op: OpReplace, Path: "/nope", Value: 1}}},
		{"remove missing key", Delta{{Op: OpRemove, Path: "/nope"}}},
		{"path without slash", Delta{{Op: OpReplace, Path: "a", Value: 1}}},
		{"navigate through primitive", Delta{{Op: OpReplace, Path: "/a/b", Value: 1}}},
		{"array index out of range", Delta{{Op: OpReplace, Path: "/tags/5", Value: 1}}},
		{"bad array index", Delta{{Op: OpReplace, Path: "/tags/x", Value: 1}}},
		{"remove root", Delta{{Op: OpRemove, Path: ""}}},
		{"dash outside add", Delta{{Op: OpReplace, Path: "/tags/-", Value: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Apply(state, tt.d); !errors.Is(err, ErrInvalidDelta) {
				t.Fatalf("got %v, want ErrInvalidDelta", err)
			}
		})
	}
}

func TestOptimizeAddRemoveCancel(t *testing.T) {
	d := Delta{
		{Op: OpAdd, Path: "/tmp", Value: 1},
		{Op: OpReplace, Path: "/other", Value: 2},
		{Op: OpRemove, Path: "/tmp"},
	}
	out := Optimize(d)
	if len(out) != 1 || out[0].Path != "/other" {
		t.Fatalf("got %v, want only /other replace", out)
	}
}

func TestOptimizeAddRemoveNotCancelledWhenRead(t *testing.T) {
	d := Delta{
		{Op: OpAdd, Path: "/tmp", Value: 1},
		{Op: OpCopy, Path: "/dst", From: "/tmp"},
		{Op: OpRemove, Path: "/tmp"},
	}
	out := Optimize(d)
	if len(out) != 3 {
		t.Fatalf("got %v, want all three changes kept", out)
	}
}

func TestOptimizeCollapseReplaces(t *testing.T) {
	d := Delta{
		{Op: OpReplace, Path: "/a", Value: 1},
		{Op: OpReplace, Path: "/a", Value: 2},
		{Op: OpReplace, Path: "/a", Value: 3},
	}
	out := Optimize(d)
	if len(out) != 1 {
		t.Fatalf("got %d changes, want 1", len(out))
	}
	if out[0].Value != 3 {
		t.Fatalf("collapsed value: got %v, want 3", out[0].Value)
	}
}

func TestChecksumStable(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "nested": map[string]any{"y": 2, "x": 1}}
	b := map[string]any{"nested": map[string]any{"x": 1, "y": 2}, "a": 1, "b": 2}

	ca, err := Checksum(a)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	cb, err := Checksum(b)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	if ca != cb {
		t.Fatalf("checksums differ for equal values: %s vs %s", ca, cb)
	}

	cc, err := Checksum(map[string]any{"a": 2})
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	if cc == ca {
		t.Fatal("checksums equal for different values")
	}
}

func TestChecksumNormalizesNumbers(t *testing.T) {
	ci, err := Checksum(map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	cf, err := Checksum(map[string]any{"n": float64(1)})
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	if ci != cf {
		t.Fatalf("int and float forms hash differently: %s vs %s", ci, cf)
	}
}
