package assetwatch

import "fmt"

// RebuildError reports a failed rebuild. The watch loop keeps running after it.
type RebuildError struct {
	Source  string
	Dest    string
	Seq     int
	Trigger string
	Err     error
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("rebuild #%d of %s -> %s (trigger %s) failed: %v", e.Seq, e.Source, e.Dest, e.Trigger, e.Err)
}

func (e *RebuildError) Unwrap() error {
	return e.Err
}
