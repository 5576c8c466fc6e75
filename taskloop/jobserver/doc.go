// Package jobserver limits task concurrency using the GNU make jobserver
// protocol. When the process was started by make with a jobserver, slots are
// acquired by reading single bytes from the shared pipe or fifo; otherwise a
// local semaphore provides the slots. A Server can re-export the slot pool
// to child processes through MAKEFLAGS.
package jobserver
