//go:build !windows

package cmd

import "syscall"

// raiseFileLimit lifts the open file soft limit to the hard limit so that
// concurrent login probes are not starved of sockets
func raiseFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}
	if rLimit.Cur >= rLimit.Max {
		return uint64(rLimit.Cur), nil
	}
	want := rLimit
	want.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &want); err != nil {
		return uint64(rLimit.Cur), err
	}
	return uint64(want.Cur), nil
}
