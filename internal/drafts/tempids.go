package drafts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/steveyegge/redmine-drafts/internal/redmine"
)

// TempIDMap maps temp ids to the real ids Redmine assigned during one
// apply run.
type TempIDMap map[string]int

// Resolved returns the real id for tempID.
func (m TempIDMap) Resolved(tempID string) (int, bool) {
	id, ok := m[tempID]
	return id, ok
}

// Substitute replaces every temp id in req that m knows about with the
// real id: path segments and JSON string values equal to the temp id.
func (m TempIDMap) Substitute(req redmine.Request) (redmine.Request, error) {
	if len(m) == 0 {
		return req, nil
	}
	for tempID, realID := range m {
		req.Path = replacePathSegment(req.Path, tempID, strconv.Itoa(realID))
	}
	body, _, err := rewriteBody(req.Body, func(_ string, v any) (any, bool, error) {
		s, ok := v.(string)
		if !ok {
			return nil, false, nil
		}
		if realID, ok := m[s]; ok {
			return realID, true, nil
		}
		return nil, false, nil
	})
	if err != nil {
		return req, err
	}
	req.Body = body
	return req, nil
}

// replacePathSegment replaces every path segment equal to from, with or
// without a ".json" suffix, by to. Query strings are left alone.
func replacePathSegment(path, from, to string) string {
	query := ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i:]
	}
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		switch seg {
		case from:
			segs[i] = to
		case from + ".json":
			segs[i] = to + ".json"
		}
	}
	return strings.Join(segs, "/") + query
}

// pathPlaceholders returns the negative integer path segments of path.
func pathPlaceholders(path string) []int {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	var out []int
	for _, seg := range strings.Split(path, "/") {
		seg = strings.TrimSuffix(seg, ".json")
		if id, err := strconv.Atoi(seg); err == nil && id < 0 {
			out = append(out, id)
		}
	}
	return out
}

// rewriteBody walks a JSON body and replaces the values for which fn
// returns true. fn receives the object key the value sits under ("" for
// array elements). Numbers are passed as json.Number. The body is returned
// unchanged when nothing was replaced.
func rewriteBody(body json.RawMessage, fn func(key string, v any) (any, bool, error)) (json.RawMessage, bool, error) {
	if len(body) == 0 {
		return body, false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false, fmt.Errorf("failed to parse draft payload: %w", err)
	}
	doc, changed, err := walkJSON("", doc, fn)
	if err != nil || !changed {
		return body, false, err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode draft payload: %w", err)
	}
	return out, true, nil
}

func walkJSON(key string, v any, fn func(string, any) (any, bool, error)) (any, bool, error) {
	switch t := v.(type) {
	case map[string]any:
		changed := false
		for _, k := range sortedKeys(t) {
			nv, c, err := walkJSON(k, t[k], fn)
			if err != nil {
				return nil, false, err
			}
			if c {
				t[k] = nv
				changed = true
			}
		}
		return t, changed, nil
	case []any:
		changed := false
		for i := range t {
			nv, c, err := walkJSON("", t[i], fn)
			if err != nil {
				return nil, false, err
			}
			if c {
				t[i] = nv
				changed = true
			}
		}
		return t, changed, nil
	default:
		return fn(key, v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isIDKey reports whether a JSON key holds a resource id.
func isIDKey(key string) bool {
	return key == "id" || strings.HasSuffix(key, "_id")
}

// bodyPlaceholders returns the negative ids found under id keys of body.
func bodyPlaceholders(body json.RawMessage) ([]int, error) {
	var out []int
	_, _, err := rewriteBody(body, func(key string, v any) (any, bool, error) {
		n, ok := v.(json.Number)
		if !ok || !isIDKey(key) {
			return nil, false, nil
		}
		if id, err := strconv.Atoi(n.String()); err == nil && id < 0 {
			out = append(out, id)
		}
		return nil, false, nil
	})
	return out, err
}

// bindPlaceholders rewrites the negative ids in req to the temp ids they
// stand for, using lookup to resolve each one. It returns the rewritten
// request and the temp ids it now depends on, in first-seen order.
func bindPlaceholders(req redmine.Request, lookup func(int) (string, bool)) (redmine.Request, []string, error) {
	fromBody, err := bodyPlaceholders(req.Body)
	if err != nil {
		return req, nil, err
	}
	ids := append(pathPlaceholders(req.Path), fromBody...)
	if len(ids) == 0 {
		return req, nil, nil
	}

	bound := make(map[int]string, len(ids))
	var deps []string
	for _, id := range ids {
		if _, seen := bound[id]; seen {
			continue
		}
		tempID, ok := lookup(id)
		if !ok {
			return req, nil, fmt.Errorf("%w: %d", ErrUnknownPlaceholder, id)
		}
		bound[id] = tempID
		deps = append(deps, tempID)
	}

	for id, tempID := range bound {
		req.Path = replacePathSegment(req.Path, strconv.Itoa(id), tempID)
	}
	body, _, err := rewriteBody(req.Body, func(key string, v any) (any, bool, error) {
		n, ok := v.(json.Number)
		if !ok || !isIDKey(key) {
			return nil, false, nil
		}
		id, err := strconv.Atoi(n.String())
		if err != nil {
			return nil, false, nil
		}
		if tempID, ok := bound[id]; ok {
			return tempID, true, nil
		}
		return nil, false, nil
	})
	if err != nil {
		return req, nil, err
	}
	req.Body = body
	return req, deps, nil
}
