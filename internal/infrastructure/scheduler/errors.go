package scheduler

import "errors"

var (
	// ErrRunnerNotRunning is returned when submitting to a stopped runner
	ErrRunnerNotRunning = errors.New("scheduler: task runner is not running")

	// ErrTaskQueueFull is returned when the task queue is full
	ErrTaskQueueFull = errors.New("scheduler: task queue is full")

	// ErrDuplicateTask is returned when a task with the same dedup key is
	// already outstanding
	ErrDuplicateTask = errors.New("scheduler: duplicate task already scheduled")

	// ErrUnknownTaskKind is returned for task kinds no executor handles
	ErrUnknownTaskKind = errors.New("scheduler: unknown task kind")
)
