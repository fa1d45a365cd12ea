package domain

import "time"

// HeaderScheduledTask marks a request delivered by the delayed-task service.
// Its value is the task key.
const HeaderScheduledTask = "X-Scheduled-Task"

// TaskSpec describes a delayed call to one of the function's own routes.
type TaskSpec struct {
	Key     string
	Path    string
	Payload []byte
	Delay   time.Duration
}

// Task is a scheduled delayed call.
type Task struct {
	ID      string
	FiresAt time.Time
}
