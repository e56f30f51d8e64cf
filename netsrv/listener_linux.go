//go:build linux

package netsrv

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listen builds a TCP listener with SO_REUSEADDR and the given backlog,
// via raw syscalls rather than net.Listen (which hides backlog control
// from callers). Grounded on the teacher's own use of golang.org/x/sys/unix
// for raw fd plumbing (eventloop/wakeup_linux.go's createWakeFd).
func listen(network, address string, backlog int) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("netsrv: resolve %s: %w", address, err)
	}

	domain := unix.AF_INET
	sockaddr, err := toSockaddr(addr, &domain)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("netsrv: socket: %w", err)
	}
	// On any error past this point the fd must not leak.
	closeFD := true
	defer func() {
		if closeFD {
			_ = unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("netsrv: SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sockaddr); err != nil {
		return nil, fmt.Errorf("netsrv: bind %s: %w", address, err)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return nil, fmt.Errorf("netsrv: listen: %w", err)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("netsrv-listener-%s", address))
	closeFD = false // os.NewFile now owns the fd; the deferred f.Close closes it (FileListener keeps its own dup).
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("netsrv: FileListener: %w", err)
	}
	return ln, nil
}

func toSockaddr(addr *net.TCPAddr, domain *int) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		var b [4]byte
		copy(b[:], ip4)
		*domain = unix.AF_INET
		return &unix.SockaddrInet4{Port: addr.Port, Addr: b}, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		return nil, fmt.Errorf("netsrv: unsupported address %v", addr.IP)
	}
	var b [16]byte
	copy(b[:], ip6)
	*domain = unix.AF_INET6
	return &unix.SockaddrInet6{Port: addr.Port, Addr: b}, nil
}
