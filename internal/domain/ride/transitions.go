package ride

// allowedTransitions is the complete lifecycle graph. Anything absent is illegal.
var allowedTransitions = map[Status][]Status{
	StatusRequested:     {StatusAccepted, StatusCancelled},
	StatusAccepted:      {StatusDriverOnWay, StatusCancelled},
	StatusDriverOnWay:   {StatusRiderPickedUp, StatusCancelled},
	StatusRiderPickedUp: {StatusCompleted},
	StatusCompleted:     {},
	StatusCancelled:     {},
}

// CanTransition reports whether a ride may move from one status to another
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a ride in this status may still be cancelled
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}
