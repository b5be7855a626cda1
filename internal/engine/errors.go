package engine

import "errors"

// ErrReleased is returned by every operation on an engine after Close.
var ErrReleased = errors.New("engine has been released")
