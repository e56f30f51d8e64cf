// Package reactor implements the event-loop pool that the rest of
// corert is built on: N single-threaded reactors, each a goroutine that
// drains a posted-task inbox and runs a nice-level-ordered fiber
// scheduler, plus a Pool that owns and round-robins across them.
//
// A Reactor "owns" the data structures mutated only via Post or from
// within a fiber it spawned; nothing here enforces that at the type
// level (Go has no thread-affinity types), so callers must route
// reactor-owned mutations through Post, exactly as spec'd.
package reactor
