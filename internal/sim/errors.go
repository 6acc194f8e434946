package sim

import "errors"

var (
	ErrNoParticipants = errors.New("participant count must be positive")
	ErrNoStrategy     = errors.New("strategy or script required")
	ErrTimeout        = errors.New("simulation timed out")
)
