// Package process runs subprocesses as tasks. A process task acquires a job
// slot before starting, resolves its working directory and environment
// through context propagation, streams stdout and stderr as line events and
// finishes with an Exit event. A non-zero exit status fails the task unless
// an exit handler decides otherwise.
package process
