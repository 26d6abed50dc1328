package ai

import "errors"

var (
	ErrNotRegistered = errors.New("bot controller not registered")
	ErrRegistered    = errors.New("bot controller already registered")
)
