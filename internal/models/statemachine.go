package models

// transitions is the exhaustive table of legal status changes. Any pair not
// listed here is illegal.
var transitions = map[TaskStatus][]TaskStatus{
	StatusDraft:           {StatusPendingApproval},
	StatusPendingApproval: {StatusApproved, StatusDraft},
	StatusApproved:        {StatusScheduled, StatusPublishing, StatusFailed, StatusCancelled},
	StatusScheduled:       {StatusPublishing, StatusFailed, StatusCancelled},
	StatusPublishing:      {StatusPublished, StatusFailed},
	StatusPublished:       {},
	StatusFailed:          {StatusScheduled},
	StatusCancelled:       {},
}

// ValidateTransition checks a requested status change against the transition
// table. Every mutating operation must call this before persisting a new
// status.
func ValidateTransition(from, to TaskStatus) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}

// IsTerminal reports whether no further transitions leave the status. A
// failed task can still be retried by re-entering scheduled.
func IsTerminal(s TaskStatus) bool {
	return s == StatusPublished || s == StatusCancelled
}

// IsPublishable reports whether a task in this status may enter the publish
// pipeline.
func IsPublishable(s TaskStatus) bool {
	return s == StatusApproved || s == StatusScheduled
}
