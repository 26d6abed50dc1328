package coordinator

import "errors"

var (
	ErrNotFound      = errors.New("coordinator not found")
	ErrExists        = errors.New("coordinator already exists")
	ErrNotMember     = errors.New("bot is not a participant")
	ErrEnded         = errors.New("coordinator ended")
	ErrNotMainThread = errors.New("coordinator creation off the main goroutine")
)
