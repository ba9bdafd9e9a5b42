// Package merge implements the structural deep merge used to fold streamed
// response chunks into one accumulated result. It operates on untyped
// decoded JSON so that providers with different wire shapes can share it.
package merge

// Options parameterize a merge for one provider's wire format.
type Options struct {
	// AppendKeys names the object keys whose string values are delivered
	// incrementally and must be concatenated instead of overwritten
	// (tool-call argument fragments, content deltas).
	AppendKeys map[string]bool
}

// Maps merges chunk into acc and returns the result. acc is mutated in
// place; a nil acc means chunk is the first and is returned as is.
//
// Rules: scalars from chunk overwrite; nested maps merge key by key;
// string values under an AppendKeys key concatenate; lists merge element
// by element (see mergeLists) with the remainder appended.
func Maps(acc, chunk map[string]any, opts Options) map[string]any {
	if acc == nil {
		return chunk
	}
	for key, cv := range chunk {
		av, ok := acc[key]
		if !ok || av == nil {
			acc[key] = cv
			continue
		}
		acc[key] = value(key, av, cv, opts)
	}
	return acc
}

func value(key string, av, cv any, opts Options) any {
	switch c := cv.(type) {
	case map[string]any:
		if a, ok := av.(map[string]any); ok {
			return Maps(a, c, opts)
		}
		return c
	case []any:
		if a, ok := av.([]any); ok {
			return lists(a, c, opts)
		}
		return c
	case string:
		if a, ok := av.(string); ok && opts.AppendKeys[key] {
			return a + c
		}
		return c
	case nil:
		return av
	default:
		return c
	}
}

// lists aligns the two element sequences and merges pairwise. Elements
// that are objects carrying a numeric "index" field (tool-call deltas)
// align by that index; otherwise alignment is positional. Unmatched
// elements from the chunk side are appended, so the result is
// deterministic for shorter and longer lists alike.
func lists(a, c []any, opts Options) []any {
	if indexed(a) && indexed(c) {
		return indexedLists(a, c, opts)
	}
	n := len(a)
	if len(c) < n {
		n = len(c)
	}
	for i := 0; i < n; i++ {
		a[i] = value("", a[i], c[i], opts)
	}
	if len(c) > len(a) {
		a = append(a, c[len(a):]...)
	}
	return a
}

func indexedLists(a, c []any, opts Options) []any {
	for _, cv := range c {
		cm := cv.(map[string]any)
		ci, _ := indexOf(cm)
		merged := false
		for i, av := range a {
			am := av.(map[string]any)
			if ai, _ := indexOf(am); ai == ci {
				a[i] = Maps(am, cm, opts)
				merged = true
				break
			}
		}
		if !merged {
			a = append(a, cm)
		}
	}
	return a
}

func indexed(list []any) bool {
	if len(list) == 0 {
		return false
	}
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := indexOf(m); !ok {
			return false
		}
	}
	return true
}

func indexOf(m map[string]any) (int, bool) {
	v, ok := m["index"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
