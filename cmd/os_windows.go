//go:build windows

package cmd

import (
	"fmt"
	"syscall"
)

// raiseFileLimit raises the C runtime stdio limit
func raiseFileLimit() (limit uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("_setmaxstdio: %v", r)
		}
	}()

	m := syscall.NewLazyDLL("msvcrt.dll")
	s := m.NewProc("_setmaxstdio")
	r, _, _ := s.Call(uintptr(2048))
	if int32(r) == -1 {
		return 0, fmt.Errorf("_setmaxstdio failed")
	}
	return uint64(r), nil
}
