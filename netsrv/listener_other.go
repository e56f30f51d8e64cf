//go:build !linux

package netsrv

import (
	"context"
	"net"
)

// listen is the portable fallback used off Linux: Go's net package does
// not expose listen(2)'s backlog parameter outside of platform-specific
// syscalls, so backlog is accepted but not honored here (see DESIGN.md).
// SO_REUSEADDR is still requested via ListenConfig.Control where the
// platform supports it.
func listen(network, address string, backlog int) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	return lc.Listen(context.Background(), network, address)
}
