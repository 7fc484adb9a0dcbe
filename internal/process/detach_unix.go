//go:build unix

package process

import "syscall"

// detachedAttr puts the child in a new session so signals aimed at the
// service's process group never reach it.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
