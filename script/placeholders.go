package script

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderRegex = regexp.MustCompile(`\$\{([^${}]+)\}`)

// Substitute replaces every ${name} in text with placeholders[name].
// Names are case-sensitive. Any name without a value is an error and text is
// returned unchanged.
func Substitute(text string, placeholders map[string]string) (string, error) {
	missing := map[string]struct{}{}
	out := placeholderRegex.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]
		value, ok := placeholders[name]
		if !ok {
			missing[name] = struct{}{}
			return match
		}
		return value
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return text, fmt.Errorf("no value provided for placeholder(s): %s", strings.Join(names, ", "))
	}
	return out, nil
}

// Placeholders lists the distinct placeholder names referenced by text.
func Placeholders(text string) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, m := range placeholderRegex.FindAllStringSubmatch(text, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}
