package config

import (
	"fmt"
	"regexp"
	"strings"
)

var substitution = regexp.MustCompile(`\$\{(\?)?([A-Za-z_][A-Za-z0-9_]*)\}`)

// substitute resolves ${VAR} and ${?VAR} in every string of tree. A value that
// is exactly an unset ${?VAR} is removed, so lower layers keep their value.
func substitute(tree map[string]any, path string, lookup func(string) (string, bool)) error {
	for k, v := range tree {
		p := k
		if path != "" {
			p = path + "." + k
		}

		switch val := v.(type) {
		case string:
			s, keep, err := expand(val, lookup)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			if !keep {
				delete(tree, k)
				continue
			}
			tree[k] = s
		case map[string]any:
			if err := substitute(val, p, lookup); err != nil {
				return err
			}
		case []any:
			for i, item := range val {
				s, ok := item.(string)
				if !ok {
					continue
				}
				out, _, err := expand(s, lookup)
				if err != nil {
					return fmt.Errorf("%s[%d]: %w", p, i, err)
				}
				val[i] = out
			}
		}
	}
	return nil
}

func expand(s string, lookup func(string) (string, bool)) (string, bool, error) {
	if m := substitution.FindStringSubmatch(s); m != nil && m[0] == s && m[1] == "?" {
		v, ok := lookup(m[2])
		return v, ok, nil
	}

	var missing []string
	out := substitution.ReplaceAllStringFunc(s, func(tok string) string {
		m := substitution.FindStringSubmatch(tok)
		v, ok := lookup(m[2])
		if !ok && m[1] != "?" {
			missing = append(missing, m[2])
		}
		return v
	})
	if len(missing) > 0 {
		return "", false, fmt.Errorf("environment variable %s is not set", strings.Join(missing, ", "))
	}
	return out, true, nil
}

// merge overlays src onto dst recursively and returns dst.
func merge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		sm, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		dm, ok := dst[k].(map[string]any)
		if !ok {
			dm = map[string]any{}
		}
		dst[k] = merge(dm, sm)
	}
	return dst
}

func lookup(tree map[string]any, path []string) (any, bool) {
	var cur any = tree
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func set(tree map[string]any, path []string, v any) {
	m := tree
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}
