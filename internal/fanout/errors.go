package fanout

import "errors"

// Dispatcher error types
var (
	ErrDispatcherAlreadyRunning = errors.New("dispatcher is already running")
	ErrDispatcherNotRunning     = errors.New("dispatcher is not running")
	ErrQueueFull                = errors.New("fan-out queue is full")
	ErrInvalidScope             = errors.New("invalid broadcast scope")
	ErrMissingEventType         = errors.New("event type is required")
)
