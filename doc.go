// Package loom is the driver for the task loop. A Runtime builds the loop,
// wires jobserver-aware concurrency limiting and optional tracing, starts
// the root task and translates interrupt signals into cooperative
// cancellation.
package loom
