package server

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const DefaultPort = 27015

// ParsePorts expands listener port specs such as "27015" or "27015-27020".
// Ranges may be given in either order. Duplicates are dropped, the order of
// first appearance is kept. Each ephemeral port adds a 0 entry, meaning the
// OS picks the port. When nothing is given the default port is used.
func ParsePorts(specs []string, ephemeral int) ([]int, error) {
	var ports []int
	seen := make(map[int]struct{})
	add := func(port int) {
		if _, dup := seen[port]; !dup {
			seen[port] = struct{}{}
			ports = append(ports, port)
		}
	}

	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		if left, right, isRange := strings.Cut(spec, "-"); isRange {
			from, err := parsePort(left)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid port range %q", spec)
			}
			to, err := parsePort(right)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid port range %q", spec)
			}
			if from > to {
				from, to = to, from
			}
			for port := from; port <= to; port++ {
				add(port)
			}
		} else {
			port, err := parsePort(spec)
			if err != nil {
				return nil, err
			}
			add(port)
		}
	}

	if ephemeral < 0 {
		return nil, errors.Errorf("ephemeral port count must not be negative, got %d", ephemeral)
	}
	if len(ports) == 0 && ephemeral == 0 {
		ports = append(ports, DefaultPort)
	}
	for i := 0; i < ephemeral; i++ {
		ports = append(ports, 0)
	}
	return ports, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, errors.Errorf("port %d out of range", port)
	}
	return port, nil
}
