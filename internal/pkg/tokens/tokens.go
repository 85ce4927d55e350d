// Package tokens expands ${TOKEN} placeholders in path templates.
package tokens

import (
	"fmt"
	"regexp"
)

var tokenPattern = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`)

// Replace substitutes every ${TOKEN} in template with its value from vars.
// Tokens without a value are left in place so partially-expanded templates
// can be expanded again later.
func Replace(template string, vars map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := tokenPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// ReplaceAll is Replace, but errors if any token remains unexpanded.
func ReplaceAll(template string, vars map[string]string) (string, error) {
	out := Replace(template, vars)
	if m := tokenPattern.FindString(out); m != "" {
		return "", fmt.Errorf("unexpanded token %s in template %q", m, template)
	}
	return out, nil
}

// Tokens lists the distinct token names in a template, in order of first use.
func Tokens(template string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range tokenPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
