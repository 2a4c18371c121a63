package readiness

// Filter reports whether a line should be kept off the console. A nil Filter
// suppresses nothing.
type Filter func(line string) bool

// ShouldSuppress is safe on a nil Filter.
func (f Filter) ShouldSuppress(line string) bool {
	return f != nil && f(line)
}

// NewPatternFilter suppresses lines matching any pattern (case-insensitive).
// No patterns yields a nil Filter.
func NewPatternFilter(patterns []string) (Filter, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	compiled, err := compile(patterns)
	if err != nil {
		return nil, err
	}
	return func(line string) bool {
		for _, re := range compiled {
			if re.MatchString(line) {
				return true
			}
		}
		return false
	}, nil
}

// AnyFilter suppresses a line when any non-nil filter does.
func AnyFilter(filters ...Filter) Filter {
	var active []Filter
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return func(line string) bool {
		for _, f := range active {
			if f(line) {
				return true
			}
		}
		return false
	}
}

// SuppressBlank hides whitespace-only lines.
func SuppressBlank(line string) bool {
	for _, r := range line {
		if r != ' ' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}
