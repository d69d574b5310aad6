// Package queue routes tasks to an executor so they run concurrently.
//
// A Queue keeps a table of the tasks it has accepted. Each entry lives from
// Submit until the task reaches the finished state, at which point the worker
// that started it removes it. Instance returns a lazily created process-wide
// queue; code that needs its own executor or observability hooks calls New.
//
// Concurrency is bounded only by the Executor. GoExecutor runs every task
// immediately unless constructed with a limit, in which case tasks wait in
// the ready state until a slot frees up.
package queue
