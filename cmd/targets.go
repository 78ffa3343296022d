package cmd

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// parseTarget splits [user@]host[:port]. IPv6 addresses with a port must be
// bracketed; a bare IPv6 address uses defPort.
func parseTarget(input string, defPort int) (string, string, int, error) {
	target := strings.TrimSpace(input)
	var user string
	if i := strings.LastIndex(target, "@"); i >= 0 {
		user, target = target[:i], target[i+1:]
	}
	if target == "" {
		return user, "", 0, fmt.Errorf("no host in target %q", input)
	}

	host, port := target, defPort
	switch {
	case strings.HasPrefix(target, "["):
		h, p, err := net.SplitHostPort(target)
		if err != nil {
			if !strings.HasSuffix(target, "]") {
				return user, "", 0, fmt.Errorf("bad target %q: %v", input, err)
			}
			h, p = strings.Trim(target, "[]"), ""
		}
		host = h
		if p != "" {
			if port, err = parsePort(p); err != nil {
				return user, "", 0, fmt.Errorf("bad target %q: %v", input, err)
			}
		}
	case strings.Count(target, ":") == 1:
		h, p, err := net.SplitHostPort(target)
		if err != nil {
			return user, "", 0, fmt.Errorf("bad target %q: %v", input, err)
		}
		host = h
		if port, err = parsePort(p); err != nil {
			return user, "", 0, fmt.Errorf("bad target %q: %v", input, err)
		}
	}
	if host == "" {
		return user, "", 0, fmt.Errorf("no host in target %q", input)
	}
	return user, strings.ToLower(host), port, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
