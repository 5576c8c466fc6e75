// Package taskloop implements a cooperative, hierarchical task scheduler.
//
// Tasks form a tree: every task except the root has a parent, and a parent
// does not finish before all of its children reached a terminal state. Tasks
// may additionally depend on non-ancestor tasks; a task does not start before
// all of its dependencies finished successfully. Failure and cancellation
// propagate along both edge kinds unless intercepted by an error handler.
//
// Exactly one unit of task logic runs at any moment. The loop hands a single
// turn token around: task bodies, event handlers and background functions run
// while holding it, and every suspension point (Await, WaitFor, Sleep,
// Stream.Next) releases it. Goroutines outside the loop interact through
// (*Loop).Do.
package taskloop
