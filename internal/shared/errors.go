package shared

import "errors"

// ErrLocked indicates another caller holds the lock.
var ErrLocked = errors.New("resource locked")
