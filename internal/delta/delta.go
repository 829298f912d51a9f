// Package delta diffs, patches, and merges structured JSON values.
// Values use the encoding/json dynamic representation: nil, bool,
// float64, string, []any, and map[string]any. All functions are pure.
package delta

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidDelta is returned when a delta cannot be applied: unknown
// op, non-navigable path, or a target that does not exist.
var ErrInvalidDelta = errors.New("invalid delta")

// Op is a change operation.
type Op string

const (
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpReplace Op = "replace"
	OpMove    Op = "move"
	OpCopy    Op = "copy"
)

// Change is a single mutation at a JSON-pointer path.
type Change struct {
	Op    Op     `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
	From  string `json:"from,omitempty"` // move/copy source
}

// Delta is an ordered change list; applying it in order to the before
// state yields the after state.
type Delta []Change

// Diff computes the changes that transform before into after.
func Diff(before, after any) Delta {
	var d Delta
	diffValue("", before, after, &d)
	return d
}

func diffValue(path string, before, after any, out *Delta) {
	if reflect.DeepEqual(before, after) {
		return
	}

	bm, bok := before.(map[string]any)
	am, aok := after.(map[string]any)
	if bok && aok {
		diffObject(path, bm, am, out)
		return
	}

	ba, bok := before.([]any)
	aa, aok := after.([]any)
	if bok && aok {
		diffArray(path, ba, aa, out)
		return
	}

	*out = append(*out, Change{Op: OpReplace, Path: path, Value: after})
}

func diffObject(path string, before, after map[string]any, out *Delta) {
	keys := make([]string, 0, len(before)+len(after))
	seen := make(map[string]bool, len(before)+len(after))
	for k := range before {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range after {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		p := path + "/" + escapeToken(k)
		bv, inBefore := before[k]
		av, inAfter := after[k]
		switch {
		case inBefore && !inAfter:
			*out = append(*out, Change{Op: OpRemove, Path: p})
		case !inBefore && inAfter:
			*out = append(*out, Change{Op: OpAdd, Path: p, Value: av})
		default:
			diffValue(p, bv, av, out)
		}
	}
}

// diffArray emits a positional diff: replace per changed index, then
// removes or adds for the length difference. Removes repeat at the
// truncation index because each one shifts the tail left.
func diffArray(path string, before, after []any, out *Delta) {
	n := len(before)
	if len(after) < n {
		n = len(after)
	}
	for i := 0; i < n; i++ {
		if !reflect.DeepEqual(before[i], after[i]) {
			*out = append(*out, Change{
				Op:    OpReplace,
				Path:  path + "/" + strconv.Itoa(i),
				Value: after[i],
			})
		}
	}
	for i := len(before); i > len(after); i-- {
		*out = append(*out, Change{Op: OpRemove, Path: path + "/" + strconv.Itoa(len(after))})
	}
	for i := len(before); i < len(after); i++ {
		*out = append(*out, Change{Op: OpAdd, Path: path + "/" + strconv.Itoa(i), Value: after[i]})
	}
}

// Apply executes the delta against state and returns the new value.
// The input state is not modified.
func Apply(state any, d Delta) (any, error) {
	cur := deepCopy(state)
	for i, ch := range d {
		next, err := applyChange(cur, ch)
		if err != nil {
			return nil, fmt.Errorf("change %d (%s %s): %w", i, ch.Op, ch.Path, err)
		}
		cur = next
	}
	return cur, nil
}

func applyChange(state any, ch Change) (any, error) {
	switch ch.Op {
	case OpAdd:
		return setPath(state, ch.Path, deepCopy(ch.Value), true)
	case OpReplace:
		return setPath(state, ch.Path, deepCopy(ch.Value), false)
	case OpRemove:
		return removePath(state, ch.Path)
	case OpMove:
		v, err := getPath(state, ch.From)
		if err != nil {
			return nil, err
		}
		state, err = removePath(state, ch.From)
		if err != nil {
			return nil, err
		}
		return setPath(state, ch.Path, v, true)
	case OpCopy:
		v, err := getPath(state, ch.From)
		if err != nil {
			return nil, err
		}
		return setPath(state, ch.Path, deepCopy(v), true)
	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidDelta, ch.Op)
	}
}

// --- JSON pointer navigation ---

func splitPointer(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: path %q must start with /", ErrInvalidDelta, path)
	}
	raw := strings.Split(path[1:], "/")
	tokens := make([]string, len(raw))
	for i, t := range raw {
		tokens[i] = unescapeToken(t)
	}
	return tokens, nil
}

func escapeToken(t string) string {
	t = strings.ReplaceAll(t, "~", "~0")
	return strings.ReplaceAll(t, "/", "~1")
}

func unescapeToken(t string) string {
	t = strings.ReplaceAll(t, "~1", "/")
	return strings.ReplaceAll(t, "~0", "~")
}

func getPath(state any, path string) (any, error) {
	tokens, err := splitPointer(path)
	if err != nil {
		return nil, err
	}
	cur := state
	for _, tok := range tokens {
		switch v := cur.(type) {
		case map[string]any:
			val, ok := v[tok]
			if !ok {
				return nil, fmt.Errorf("%w: key %q not found", ErrInvalidDelta, tok)
			}
			cur = val
		case []any:
			idx, err := arrayIndex(tok, len(v), false)
			if err != nil {
				return nil, err
			}
			cur = v[idx]
		default:
			return nil, fmt.Errorf("%w: cannot navigate %q in non-container", ErrInvalidDelta, tok)
		}
	}
	return cur, nil
}

// setPath writes value at path. With insert true an array index inserts
// and shifts; otherwise it replaces in place and the target must exist.
func setPath(state any, path string, value any, insert bool) (any, error) {
	tokens, err := splitPointer(path)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return value, nil
	}
	return setIn(state, tokens, value, insert)
}

func setIn(state any, tokens []string, value any, insert bool) (any, error) {
	tok := tokens[0]
	last := len(tokens) == 1

	switch v := state.(type) {
	case map[string]any:
		if last {
			if !insert {
				if _, ok := v[tok]; !ok {
					return nil, fmt.Errorf("%w: replace target %q not found", ErrInvalidDelta, tok)
				}
			}
			v[tok] = value
			return v, nil
		}
		child, ok := v[tok]
		if !ok {
			return nil, fmt.Errorf("%w: key %q not found", ErrInvalidDelta, tok)
		}
		newChild, err := setIn(child, tokens[1:], value, insert)
		if err != nil {
			return nil, err
		}
		v[tok] = newChild
		return v, nil
	case []any:
		if last && insert {
			idx, err := arrayIndex(tok, len(v), true)
			if err != nil {
				return nil, err
			}
			v = append(v, nil)
			copy(v[idx+1:], v[idx:])
			v[idx] = value
			return v, nil
		}
		idx, err := arrayIndex(tok, len(v), false)
		if err != nil {
			return nil, err
		}
		if last {
			v[idx] = value
			return v, nil
		}
		newChild, err := setIn(v[idx], tokens[1:], value, insert)
		if err != nil {
			return nil, err
		}
		v[idx] = newChild
		return v, nil
	default:
		return nil, fmt.Errorf("%w: cannot navigate %q in non-container", ErrInvalidDelta, tok)
	}
}

func removePath(state any, path string) (any, error) {
	tokens, err := splitPointer(path)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: cannot remove the document root", ErrInvalidDelta)
	}
	return removeIn(state, tokens)
}

func removeIn(state any, tokens []string) (any, error) {
	tok := tokens[0]
	last := len(tokens) == 1

	switch v := state.(type) {
	case map[string]any:
		child, ok := v[tok]
		if !ok {
			return nil, fmt.Errorf("%w: key %q not found", ErrInvalidDelta, tok)
		}
		if last {
			delete(v, tok)
			return v, nil
		}
		newChild, err := removeIn(child, tokens[1:])
		if err != nil {
			return nil, err
		}
		v[tok] = newChild
		return v, nil
	case []any:
		idx, err := arrayIndex(tok, len(v), false)
		if err != nil {
			return nil, err
		}
		if last {
			return append(v[:idx], v[idx+1:]...), nil
		}
		newChild, err := removeIn(v[idx], tokens[1:])
		if err != nil {
			return nil, err
		}
		v[idx] = newChild
		return v, nil
	default:
		return nil, fmt.Errorf("%w: cannot navigate %q in non-container", ErrInvalidDelta, tok)
	}
}

// arrayIndex parses an array token. With appendOK, "-" and the length
// itself address the append position.
func arrayIndex(tok string, length int, appendOK bool) (int, error) {
	if tok == "-" {
		if !appendOK {
			return 0, fmt.Errorf("%w: %q only valid for add", ErrInvalidDelta, tok)
		}
		return length, nil
	}
	idx, err := strconv.Atoi(tok)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: bad array index %q", ErrInvalidDelta, tok)
	}
	max := length
	if !appendOK {
		max = length - 1
	}
	if idx > max {
		return 0, fmt.Errorf("%w: index %d out of range (len %d)", ErrInvalidDelta, idx, length)
	}
	return idx, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// Normalize round-trips a value through JSON so Go literals take the
// same dynamic types as decoded payloads (ints become float64 etc.).
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}
