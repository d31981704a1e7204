package rule

import (
	"strconv"
	"strings"
)

// ResolvePath walks a dot/bracket path ("claim.items[0].status") into a
// payload. The second return value reports whether the path exists; a path
// that exists with an explicit null value returns (nil, true), a missing
// path returns (nil, false).
func ResolvePath(values map[string]any, path string) (any, bool) {
	var current any = values

	for _, seg := range strings.Split(path, ".") {
		name, indexes, ok := splitSegment(seg)
		if !ok {
			return nil, false
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[name]
		if !ok {
			return nil, false
		}

		for _, idx := range indexes {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
		}
	}

	return current, true
}

// splitSegment parses "items[0][1]" into ("items", [0 1]).
func splitSegment(seg string) (string, []int, bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, nil, seg != ""
	}

	name := seg[:open]
	if name == "" {
		return "", nil, false
	}

	var indexes []int
	rest := seg[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			return "", nil, false
		}
		idx, err := strconv.Atoi(rest[1:close])
		if err != nil {
			return "", nil, false
		}
		indexes = append(indexes, idx)
		rest = rest[close+1:]
	}

	return name, indexes, true
}
