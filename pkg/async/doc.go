// Package async provides safe concurrent execution primitives for
// background tasks.
//
// SafeGo runs a function in a goroutine with panic recovery, a timeout,
// and error logging. WorkerPool manages a fixed set of workers draining
// a task channel with graceful shutdown.
//
// Audit event persistence runs through these primitives instead of a
// bare `go func()`.
package async
