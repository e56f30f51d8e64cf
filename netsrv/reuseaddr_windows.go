//go:build windows

package netsrv

import "syscall"

// reuseAddrControl is a no-op on Windows: SO_REUSEADDR has different
// (and riskier) semantics there, and spec.md's requirement is a
// Berkeley-sockets concern this runtime doesn't need to replicate
// precisely on that platform.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
