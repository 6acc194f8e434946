package scripting

import "errors"

var (
	ErrNoDecide        = errors.New("script must define a decide() function")
	ErrBadAction       = errors.New("decide() must return \"pump\" or \"collect\"")
	ErrTimeout         = errors.New("script timed out")
	ErrUnknownStrategy = errors.New("unknown strategy")
)
