// Package chanx provides the fiber-safe synchronization primitives
// spec.md §3/§4.C names: a bounded MPMC Channel, a one-shot Done event,
// and a context-aware CondVar — all usable from goroutines ("fibers")
// and plain OS threads alike, since in this Go rendering a fiber is a
// goroutine and Go's scheduler already suspends goroutines rather than
// OS threads on these primitives.
package chanx
