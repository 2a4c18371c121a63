// Package readiness decides when a dev server has finished starting by
// matching its output lines, and which lines are too noisy to echo.
package readiness

import (
	"fmt"
	"regexp"
	"sync"
)

// Result is the outcome of feeding one line to a Matcher.
type Result int

const (
	NoMatch Result = iota
	Matched
)

func (r Result) String() string {
	if r == Matched {
		return "matched"
	}
	return "no_match"
}

// Matcher tests lines against ready patterns. Any pattern matching any line
// declares readiness; the order only short-circuits evaluation.
// Once matched, later lines are not evaluated.
type Matcher struct {
	mu       sync.Mutex
	patterns []*regexp.Regexp
	matched  bool
	hit      string
}

// NewMatcher compiles patterns case-insensitively.
func NewMatcher(patterns []string) (*Matcher, error) {
	compiled, err := compile(patterns)
	if err != nil {
		return nil, err
	}
	return &Matcher{patterns: compiled}, nil
}

// Feed evaluates line. It returns Matched only for the line that moves the
// matcher out of its pending state.
func (m *Matcher) Feed(line string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.matched {
		return NoMatch
	}
	for _, re := range m.patterns {
		if re.MatchString(line) {
			m.matched = true
			m.hit = re.String()
			return Matched
		}
	}
	return NoMatch
}

// Matched reports whether a ready line has been seen.
func (m *Matcher) Matched() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matched
}

// Pattern returns the compiled form of the pattern that matched, or "".
func (m *Matcher) Pattern() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hit
}

// Empty reports whether the matcher has no patterns, in which case the
// caller treats spawn as readiness.
func (m *Matcher) Empty() bool {
	return len(m.patterns) == 0
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
