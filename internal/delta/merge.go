package delta

import (
	"reflect"
)

// MergeConflict reports a path where both sides changed the base to
// different values. Local or Remote is nil when that side deleted it.
type MergeConflict struct {
	Path   string `json:"path"`
	Local  any    `json:"local_value"`
	Remote any    `json:"remote_value"`
}

// absent marks a key missing on one side of a merge, so deletions can
// be distinguished from explicit nulls.
type absentValue struct{}

var absent = absentValue{}

// ThreeWayMerge merges local and remote against their common ancestor
// base. A change on only one side wins; identical changes are accepted;
// disagreeing changes are reported as conflicts at the deepest
// differing path and the base value is kept in the merged result.
// Objects are merged recursively; arrays and primitives are atomic.
func ThreeWayMerge(base, local, remote any) (any, []MergeConflict) {
	var conflicts []MergeConflict
	merged := mergeValue("", base, local, remote, &conflicts)
	if _, gone := merged.(absentValue); gone {
		return nil, conflicts
	}
	return merged, conflicts
}

func mergeValue(path string, base, local, remote any, conflicts *[]MergeConflict) any {
	if equalValue(local, remote) {
		return deepCopyMerge(local)
	}
	if equalValue(base, local) {
		return deepCopyMerge(remote)
	}
	if equalValue(base, remote) {
		return deepCopyMerge(local)
	}

	lm, lok := local.(map[string]any)
	rm, rok := remote.(map[string]any)
	if lok && rok {
		bm, _ := base.(map[string]any)
		return mergeObject(path, bm, lm, rm, conflicts)
	}

	// Both sides changed to different non-object values: conflict.
	*conflicts = append(*conflicts, MergeConflict{
		Path:   path,
		Local:  exported(local),
		Remote: exported(remote),
	})
	return deepCopyMerge(base)
}

func mergeObject(path string, base, local, remote map[string]any, conflicts *[]MergeConflict) any {
	keys := make(map[string]struct{}, len(base)+len(local)+len(remote))
	for k := range base {
		keys[k] = struct{}{}
	}
	for k := range local {
		keys[k] = struct{}{}
	}
	for k := range remote {
		keys[k] = struct{}{}
	}

	out := make(map[string]any, len(keys))
	for k := range keys {
		bv := valueOrAbsent(base, k)
		lv := valueOrAbsent(local, k)
		rv := valueOrAbsent(remote, k)

		m := mergeValue(path+"/"+escapeToken(k), bv, lv, rv, conflicts)
		if _, gone := m.(absentValue); gone {
			continue
		}
		out[k] = m
	}
	return out
}

func valueOrAbsent(m map[string]any, k string) any {
	if m == nil {
		return absent
	}
	if v, ok := m[k]; ok {
		return v
	}
	return absent
}

func equalValue(a, b any) bool {
	_, aa := a.(absentValue)
	_, ba := b.(absentValue)
	if aa || ba {
		return aa && ba
	}
	return reflect.DeepEqual(a, b)
}

// exported converts an absent marker to nil for conflict reporting.
func exported(v any) any {
	if _, gone := v.(absentValue); gone {
		return nil
	}
	return deepCopyMerge(v)
}

func deepCopyMerge(v any) any {
	if _, gone := v.(absentValue); gone {
		return absent
	}
	return deepCopy(v)
}
