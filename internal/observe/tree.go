package observe

import (
	"context"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Descendants returns every live process below pid, deepest first, so callers
// signalling them in order reach grandchildren before their parents reap them.
func Descendants(ctx context.Context, pid int) ([]int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	children := make(map[int32][]int32, len(procs))
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue // exited while scanning
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	type node struct {
		pid   int32
		depth int
	}
	var found []node
	queue := []node{{pid: int32(pid)}}
	seen := map[int32]bool{int32(pid): true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur.pid] {
			if seen[c] {
				continue
			}
			seen[c] = true
			n := node{pid: c, depth: cur.depth + 1}
			found = append(found, n)
			queue = append(queue, n)
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].depth > found[j].depth })

	out := make([]int, len(found))
	for i, n := range found {
		out[i] = int(n.pid)
	}
	return out, nil
}

// Alive reports whether pid exists and is not a zombie.
func Alive(ctx context.Context, pid int) bool {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, s := range status {
		if strings.EqualFold(s, process.Zombie) {
			return false
		}
	}
	return true
}

// AnyAlive filters pids down to those still running.
func AnyAlive(ctx context.Context, pids []int) []int {
	var alive []int
	for _, pid := range pids {
		if Alive(ctx, pid) {
			alive = append(alive, pid)
		}
	}
	return alive
}
