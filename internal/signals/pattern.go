package signals

import (
	"fmt"
	"strings"
)

// Pattern matches signal names either exactly or as prefix*suffix with a
// single `*` wildcard. Patterns with more than one wildcard are rejected at
// compile time — multi-wildcard globs are deliberately unsupported so that
// every query stays a prefix+suffix check over the arena.
type Pattern struct {
	exact  string
	prefix string
	suffix string
}

// CompilePattern parses and validates a signal name pattern. Matching is
// case-insensitive, consistent with sink key handling.
func CompilePattern(pattern string) (Pattern, error) {
	pattern = strings.ToLower(pattern)
	switch strings.Count(pattern, "*") {
	case 0:
		return Pattern{exact: pattern}, nil
	case 1:
		i := strings.IndexByte(pattern, '*')
		return Pattern{prefix: pattern[:i], suffix: pattern[i+1:]}, nil
	default:
		return Pattern{}, fmt.Errorf("signal pattern %q: at most one * wildcard is supported", pattern)
	}
}

func (p Pattern) match(name string) bool {
	if p.exact != "" {
		return name == p.exact
	}
	return len(name) >= len(p.prefix)+len(p.suffix) &&
		strings.HasPrefix(name, p.prefix) &&
		strings.HasSuffix(name, p.suffix)
}

// Match reports whether name satisfies the pattern.
func (p Pattern) Match(name string) bool { return p.match(strings.ToLower(name)) }
