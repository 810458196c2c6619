//go:build linux

package pool

import "syscall"

func gettid() int {
	return syscall.Gettid()
}
