package template

import (
	"fmt"
	"strconv"
	"strings"
)

// SplitPath splits a lookup path into segments.
//
//	env.API_NAME            -> [env API_NAME]
//	servers[0].host         -> [servers 0 host]
//	headers['x-request-id'] -> [headers x-request-id]
//
// Empty segments, unbalanced brackets and stray quotes are errors.
func SplitPath(path string) ([]string, error) {
	var segments []string
	needName := false
	n := len(path)

	for i := 0; i < n; {
		switch path[i] {
		case '.':
			if i == 0 || needName {
				return nil, fmt.Errorf("empty segment at offset %d", i)
			}
			needName = true
			i++

		case '[':
			if needName {
				return nil, fmt.Errorf("empty segment at offset %d", i)
			}
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated bracket at offset %d", i)
			}
			seg, err := bracketSegment(path[i+1 : i+end])
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
			i += end + 1
			if i < n && path[i] != '.' && path[i] != '[' {
				return nil, fmt.Errorf("unexpected %q after bracket at offset %d", path[i], i)
			}

		case ']':
			return nil, fmt.Errorf("unbalanced bracket at offset %d", i)

		default:
			j := i
			for j < n && path[j] != '.' && path[j] != '[' && path[j] != ']' {
				j++
			}
			name := path[i:j]
			if strings.ContainsAny(name, `'"`) {
				return nil, fmt.Errorf("quotes are only allowed inside brackets: %q", name)
			}
			segments = append(segments, name)
			needName = false
			i = j
		}
	}

	if needName {
		return nil, fmt.Errorf("empty trailing segment")
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("path has no segments")
	}
	return segments, nil
}

func bracketSegment(inner string) (string, error) {
	quoted := unquote(inner)
	if quoted != inner {
		inner = quoted
	} else if strings.ContainsAny(inner, `'"`) {
		return "", fmt.Errorf("mismatched quotes in bracket segment %q", inner)
	}
	if inner == "" {
		return "", fmt.Errorf("empty bracket segment")
	}
	return inner, nil
}

// Lookup walks data along path. The second result is false when any step
// fails: a missing key, an out-of-range index, or a scalar in the middle of
// the path. A key that is present with a nil value is found.
//
// Lookup does not validate path; callers run ValidatePath first.
func Lookup(data interface{}, path string) (interface{}, bool) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, false
	}
	return LookupSegments(data, segments)
}

// LookupSegments is Lookup over an already split path.
func LookupSegments(data interface{}, segments []string) (interface{}, bool) {
	current := data
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v

		case map[string]string:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v

		case []interface{}:
			idx, ok := index(seg, len(node))
			if !ok {
				return nil, false
			}
			current = node[idx]

		case []string:
			idx, ok := index(seg, len(node))
			if !ok {
				return nil, false
			}
			current = node[idx]

		default:
			return nil, false
		}
	}
	return current, true
}

func index(seg string, length int) (int, bool) {
	idx, err := strconv.Atoi(seg)
	if err != nil || idx < 0 || idx >= length {
		return 0, false
	}
	return idx, true
}
