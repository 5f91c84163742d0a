package supervisor

import (
	"github.com/shirou/gopsutil/v3/process"
)

// descendants returns every descendant pid of pid, parents before children.
// Collected before signalling so that re-parented children are not missed.
func descendants(pid int) []int32 {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []int32
	seen := map[int32]bool{root.Pid: true}
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			continue
		}
		for _, child := range children {
			if seen[child.Pid] {
				continue
			}
			seen[child.Pid] = true
			out = append(out, child.Pid)
			queue = append(queue, child)
		}
	}
	return out
}
