// Package offload implements the FiberQueueThreadPool of spec.md §4.D:
// a bounded channel of closures serviced by K dedicated worker
// goroutines, so a fiber that needs a blocking syscall (disk I/O, a
// slow legacy call) can hand it off without blocking its reactor.
//
// This is the offload half of the pattern the teacher's
// eventloop.Promisify implements with a goroutine-per-call; here a
// fixed worker pool is used instead, per spec.md's explicit "K OS
// worker threads and a bounded closure channel" data model.
package offload
