package model

import (
	"errors"
	"fmt"
)

// TaskType selects what running a task does.
type TaskType string

const (
	TaskTypeFoo TaskType = "Foo" // slow no-op
	TaskTypeBar TaskType = "Bar" // outbound HTTP request
	TaskTypeBaz TaskType = "Baz" // random number
)

// TaskTypes lists every known TaskType in declaration order.
var TaskTypes = []TaskType{TaskTypeFoo, TaskTypeBar, TaskTypeBaz}

// ErrInvalidTaskType is returned when a string does not name a known TaskType.
var ErrInvalidTaskType = errors.New("invalid task type")

// ParseTaskType converts a persisted or user-supplied name to a TaskType.
// Matching is case-sensitive.
func ParseTaskType(s string) (TaskType, error) {
	for _, t := range TaskTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: cannot convert %q to TaskType", ErrInvalidTaskType, s)
}

// String returns the persisted name of the task type.
func (t TaskType) String() string {
	return string(t)
}

// MarshalText implements encoding.TextMarshaler.
func (t TaskType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown names.
func (t *TaskType) UnmarshalText(b []byte) error {
	parsed, err := ParseTaskType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
