// Package netsrv implements spec.md §4.E's AcceptServer: a listening
// socket, an accept-loop fiber that round-robins new connections across
// a reactor.Pool, and a graceful drain-on-shutdown sequence triggered by
// either an explicit Stop call or SIGINT/SIGTERM.
package netsrv
