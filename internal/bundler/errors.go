package bundler

import "fmt"

// WriteError is a filesystem failure while staging resources. Whatever was
// written before it stays; applying again completes the rest.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("bundler: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
