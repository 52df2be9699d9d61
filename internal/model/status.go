package model

import (
	"fmt"
	"slices"
)

// Status is the lifecycle state of a compound's prediction job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCreated   Status = "CREATED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition occurs except explicit retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// transitions is the closed transition table. Non-terminal states may move
// between each other in any order (the remote service can report stages
// out of order) and into any terminal state. Terminal states admit no
// transition; retry goes through Compound.ResetForRetry instead.
var transitions = map[Status][]Status{
	StatusPending:   {StatusCreated, StatusRunning, StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled},
	StatusCreated:   {StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled},
	StatusRunning:   {StatusPending, StatusCreated, StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusTimedOut:  {},
	StatusCancelled: {},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Transition validates from → to against the transition table.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("illegal status transition %s -> %s", from, to)
	}
	return to, nil
}
