package analyses

var transitions = map[Status][]Status{
	StatusPending:             {StatusCloning, StatusFailed, StatusCancelled},
	StatusCloning:             {StatusStaticAnalysis, StatusFailed},
	StatusStaticAnalysis:      {StatusBuilding},
	StatusBuilding:            {StatusPenetrationTest},
	StatusPenetrationTest:     {StatusExploitVerification, StatusCompleted, StatusCompletedWithErrors},
	StatusExploitVerification: {StatusCompleted, StatusCompletedWithErrors},
}

var terminal = map[Status]bool{
	StatusCompleted:           true,
	StatusCompletedWithErrors: true,
	StatusFailed:              true,
	StatusCancelled:           true,
}

var steps = map[Status]string{
	StatusPending:             "queued",
	StatusCloning:             "repository clone",
	StatusStaticAnalysis:      "static analysis",
	StatusBuilding:            "sandbox build",
	StatusPenetrationTest:     "penetration test",
	StatusExploitVerification: "exploit verification",
	StatusCompleted:           "completed",
	StatusCompletedWithErrors: "completed with errors",
	StatusFailed:              "failed",
	StatusCancelled:           "cancelled",
}

// AllStatuses lists every pipeline status in declaration order.
func AllStatuses() []Status {
	return []Status{
		StatusPending, StatusCloning, StatusStaticAnalysis, StatusBuilding,
		StatusPenetrationTest, StatusExploitVerification,
		StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCancelled,
	}
}

// IsTerminalStatus reports whether s belongs to the terminal set.
func IsTerminalStatus(s Status) bool {
	return terminal[s]
}

// IsKnown reports whether s is one of the declared statuses.
func (s Status) IsKnown() bool {
	_, ok := steps[s]
	return ok
}

// CanTransition reports whether a record may move from one status to
// another. Terminal statuses may move between each other but never back to
// a non-terminal status. Unknown statuses are never valid.
func CanTransition(from, to Status) bool {
	if IsTerminalStatus(from) && IsTerminalStatus(to) {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MapStatusToStep returns the display label used to group log entries.
func MapStatusToStep(s Status) string {
	if step, ok := steps[s]; ok {
		return step
	}
	return "unknown"
}
