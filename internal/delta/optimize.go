package delta

import "strings"

// Optimize removes redundant work from a delta: an add cancelled by a
// later remove at the same path (with nothing touching that subtree in
// between), and consecutive replaces at the same path collapsed to the
// last value. The result replays to the same final state.
func Optimize(d Delta) Delta {
	if len(d) < 2 {
		return d
	}

	keep := make([]bool, len(d))
	for i := range keep {
		keep[i] = true
	}

	// Cancel add/remove pairs.
	for i, ch := range d {
		if !keep[i] || ch.Op != OpAdd {
			continue
		}
		for j := i + 1; j < len(d); j++ {
			if !keep[j] {
				continue
			}
			if d[j].Op == OpRemove && d[j].Path == ch.Path {
				keep[i] = false
				keep[j] = false
				break
			}
			if touches(d[j], ch.Path) {
				break
			}
		}
	}

	// Collapse consecutive replaces at the same path.
	var out Delta
	for i, ch := range d {
		if !keep[i] {
			continue
		}
		if ch.Op == OpReplace && len(out) > 0 {
			last := &out[len(out)-1]
			if last.Op == OpReplace && last.Path == ch.Path {
				last.Value = ch.Value
				continue
			}
		}
		out = append(out, ch)
	}
	return out
}

// touches reports whether a change reads or writes the given path or
// anything inside it.
func touches(ch Change, path string) bool {
	if overlaps(ch.Path, path) {
		return true
	}
	if (ch.Op == OpMove || ch.Op == OpCopy) && overlaps(ch.From, path) {
		return true
	}
	return false
}

func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}
