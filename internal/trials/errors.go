package trials

import "errors"

var (
	ErrUnknownBalloon    = errors.New("unknown balloon type")
	ErrUnknownOrder      = errors.New("unknown trial order")
	ErrEmptySequence     = errors.New("trial sequence is empty")
	ErrInvalidBurstPoint = errors.New("burst point out of range")
)
