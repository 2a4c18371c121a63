package devserver

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"sync"
)

// Stream identifies which pipe a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one line of child output. Raw is echoed; Text has terminal escape
// sequences removed and is what patterns and filters see.
type Line struct {
	Stream Stream
	Raw    string
	Text   string
}

const maxLineSize = 1 << 20

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)

func newLine(stream Stream, raw string) Line {
	raw = strings.TrimRight(raw, "\r")
	return Line{Stream: stream, Raw: raw, Text: ansiEscape.ReplaceAllString(raw, "")}
}

// mergeLines scans each reader line by line into a single channel. Order is
// preserved per stream only. The channel closes once every reader hits EOF.
func mergeLines(readers map[Stream]io.Reader) <-chan Line {
	out := make(chan Line, 64)
	var wg sync.WaitGroup
	for stream, r := range readers {
		wg.Add(1)
		go func(stream Stream, r io.Reader) {
			defer wg.Done()
			scanLines(stream, r, out)
		}(stream, r)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func scanLines(stream Stream, r io.Reader, out chan<- Line) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		out <- newLine(stream, scanner.Text())
	}
	if scanner.Err() != nil {
		// Keep the pipe drained so the child never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
}

// recentLines keeps the last N lines of output for failure reports.
type recentLines struct {
	mu    sync.Mutex
	lines []string
	max   int
	next  int
	full  bool
}

func newRecentLines(max int) *recentLines {
	return &recentLines{lines: make([]string, max), max: max}
}

func (r *recentLines) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % r.max
	if r.next == 0 {
		r.full = true
	}
}

// Lines returns the buffered lines oldest first.
func (r *recentLines) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, r.max)
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}
