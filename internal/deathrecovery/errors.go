package deathrecovery

import "errors"

// ErrUnknownBot is returned for bots without a registered machine.
var ErrUnknownBot = errors.New("bot not registered for death recovery")
