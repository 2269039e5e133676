package weaver

// RewriteErrorPath shifts an upstream error into the merged response's
// coordinate system: given an upstream error whose Path
// is relative to a dispatched sub-query's own root, it produces the error
// as it should appear in the merged response, with
//
//	path = outerPath ++ err.Path[removePrefixLength:]
//
// outerPath is the full alias path (operation root down to, and including,
// the field the sub-query was dispatched for) at which C4/C5 rooted the
// sub-query; removePrefixLength is the number of leading path segments the
// sub-query's artificial ancestor-and-resolved-field wrapping introduced
// (the count of injected ancestor fields, plus one for the resolved field
// itself, whose upstream name may differ from its outer alias). Locations
// are preserved unchanged; the original error value becomes Message's
// grounding -- there is nothing else to preserve on UpstreamError, whose
// shape is already exactly {message, path, locations}.
func RewriteErrorPath(err UpstreamError, outerPath []interface{}, removePrefixLength int) UpstreamError {
	rewritten := err
	var tail []interface{}
	if removePrefixLength < len(err.Path) {
		tail = err.Path[removePrefixLength:]
	}
	rewritten.Path = append(append([]interface{}{}, outerPath...), tail...)
	return rewritten
}

// fieldError carries one upstream error inline, as the value of the field
// it occurred at, so sibling fields in the same result survive a partial
// upstream failure. Whichever resolver eventually reads the value unwraps
// it back into a real error (see aliasAwareResolve and the link resolver's
// join-key check).
type fieldError struct {
	err UpstreamError
}

func (e *fieldError) Error() string { return e.err.Message }

// inlineFieldErrors splices errs into value at their already-rewritten
// paths, dropping the first prefixLen segments (the outer response path
// value is rooted at). An error whose relative path is empty turns the
// whole value into an error. value is freshly decoded JSON owned by the
// caller, so splicing mutates it in place.
func inlineFieldErrors(value interface{}, errs []UpstreamError, prefixLen int) interface{} {
	for _, e := range errs {
		if len(e.Path) <= prefixLen {
			return &fieldError{err: e}
		}
		value = spliceAt(value, e.Path[prefixLen:], &fieldError{err: e})
	}
	return value
}

func spliceAt(value interface{}, path []interface{}, leaf interface{}) interface{} {
	if len(path) == 0 {
		return leaf
	}
	switch v := value.(type) {
	case map[string]interface{}:
		key, ok := path[0].(string)
		if !ok {
			return value
		}
		v[key] = spliceAt(v[key], path[1:], leaf)
		return v
	case []interface{}:
		idx := listIndex(path[0])
		if idx < 0 || idx >= len(v) {
			return value
		}
		v[idx] = spliceAt(v[idx], path[1:], leaf)
		return v
	default:
		return value
	}
}

func listIndex(step interface{}) int {
	switch n := step.(type) {
	case int:
		return n
	case float64: // a JSON-decoded list index
		return int(n)
	default:
		return -1
	}
}
