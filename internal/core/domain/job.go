package domain

import "fmt"

// JobKind is the backfill strategy of a job
type JobKind string

const (
	JobKindSingle    JobKind = "single"
	JobKindMultipart JobKind = "multipart"
)

// JobState is the state of a backfill job (single object or multipart upload)
type JobState string

const (
	JobStatePending      JobState = "pending"
	JobStateInFlight     JobState = "in_flight"
	JobStateAllPartsDone JobState = "all_parts_done"
	JobStateFinalized    JobState = "finalized"
	JobStateCompleted    JobState = "completed"
	JobStateFailed       JobState = "failed"
)

// in_flight -> pending is the monitor requeueing a task whose worker went quiet
var jobTransitions = map[JobState][]JobState{
	JobStatePending:      {JobStateInFlight, JobStateAllPartsDone, JobStateCompleted, JobStateFailed},
	JobStateInFlight:     {JobStatePending, JobStateAllPartsDone, JobStateCompleted, JobStateFailed},
	JobStateAllPartsDone: {JobStateFinalized, JobStateFailed},
	JobStateFinalized:    {JobStateCompleted, JobStateFailed},
}

// IsTerminal reports whether no transition can leave the state
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransitionTo reports whether s -> next is allowed. Staying in the same non terminal state is allowed.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s == next {
		return !s.IsTerminal()
	}
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next or ErrInvalidTransition
func (s JobState) Transition(next JobState) (JobState, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// PredecessorsOf lists every state allowed to move to next
func PredecessorsOf(next JobState) []JobState {
	var states []JobState
	for from, targets := range jobTransitions {
		for _, to := range targets {
			if to == next {
				states = append(states, from)
			}
		}
	}
	return states
}
