package zfs

import (
	"bufio"
	"strings"
)

// vdev is one leaf device of a pool as reported by `zpool status -P`.
type vdev struct {
	Path  string
	State string
	// Group is the enclosing mirror, raidz, log, cache or spare vdev, if any.
	Group string
}

// poolStatus is the config section of one pool.
type poolStatus struct {
	Name    string
	State   string
	Devices []vdev
}

// Vdev group prefixes; anything else under the pool line is a leaf.
var groupPrefixes = []string{"mirror", "raidz", "draid", "spare", "logs", "cache", "special", "dedup"}

func isGroup(name string) bool {
	for _, p := range groupPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// parseStatus parses `zpool status -P`. Only full device paths are
// reported as leaves, which -P guarantees.
func parseStatus(out string) []*poolStatus {
	var (
		pools    []*poolStatus
		cur      *poolStatus
		inConfig bool
		group    string
		depth    int
	)
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		line := s.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "pool:"):
			cur = &poolStatus{Name: strings.TrimSpace(strings.TrimPrefix(trimmed, "pool:"))}
			pools = append(pools, cur)
			inConfig = false
			continue
		case cur == nil:
			continue
		case strings.HasPrefix(trimmed, "state:") && !inConfig:
			cur.State = strings.TrimSpace(strings.TrimPrefix(trimmed, "state:"))
			continue
		case strings.HasPrefix(trimmed, "config:"):
			inConfig = true
			group = ""
			continue
		case strings.HasPrefix(trimmed, "errors:"):
			inConfig = false
			continue
		}
		if !inConfig || trimmed == "" {
			continue
		}
		fields := strings.Fields(trimmed)
		name := fields[0]
		state := ""
		if len(fields) > 1 {
			state = fields[1]
		}
		switch {
		case name == "NAME" || name == cur.Name:
		case isGroup(name):
			group, depth = name, indent(line)
		case strings.HasPrefix(name, "/"):
			if indent(line) <= depth {
				group = ""
			}
			cur.Devices = append(cur.Devices, vdev{Path: name, State: state, Group: group})
		}
	}
	return pools
}

// indent counts leading tabs, counting two spaces as one level.
func indent(line string) int {
	n, spaces := 0, 0
	for _, c := range line {
		switch c {
		case '\t':
			n++
		case ' ':
			spaces++
			if spaces == 2 {
				n++
				spaces = 0
			}
		default:
			return n
		}
	}
	return n
}
