// Package netcli implements ClientChannel, a TCP client session that
// transparently reconnects in the background, its socket state touched
// only from its owning reactor.Reactor, per spec.md §4.F.
package netcli
