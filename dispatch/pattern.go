package dispatch

import (
	"fmt"
	"regexp"
	"strings"
)

// patternMatcher is a compiled resource URI pattern. Each {placeholder}
// segment becomes a single-segment capture; all other characters match
// literally and the whole URI must match.
type patternMatcher struct {
	re    *regexp.Regexp
	names []string
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

func compilePattern(pattern string) (*patternMatcher, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("empty resource pattern")
	}

	var (
		builder strings.Builder
		names   []string
		last    int
	)
	builder.WriteString("^")
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(pattern, -1) {
		builder.WriteString(regexp.QuoteMeta(pattern[last:loc[0]]))
		names = append(names, pattern[loc[2]:loc[3]])
		// Placeholders capture exactly one path segment.
		builder.WriteString(`([^/]+)`)
		last = loc[1]
	}
	builder.WriteString(regexp.QuoteMeta(pattern[last:]))
	builder.WriteString("$")

	re, err := regexp.Compile(builder.String())
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return &patternMatcher{re: re, names: names}, nil
}

// match reports whether uri fully matches the pattern and returns the
// captured placeholder values by name.
func (m *patternMatcher) match(uri string) (map[string]string, bool) {
	groups := m.re.FindStringSubmatch(uri)
	if groups == nil {
		return nil, false
	}
	params := make(map[string]string, len(m.names))
	for i, name := range m.names {
		params[name] = groups[i+1]
	}
	return params, true
}
