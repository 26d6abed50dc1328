package world

import "errors"

// Sentinel errors for the in-memory host world.
var (
	ErrZoneNotFound       = errors.New("zone not found")
	ErrOutsideZone        = errors.New("position outside zone bounds")
	ErrCreatureNotFound   = errors.New("creature not found")
	ErrCreatureExists     = errors.New("creature already spawned")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrPlayerAlive        = errors.New("player is alive")
	ErrPlayerDead         = errors.New("player is dead")
	ErrAlreadyGhost       = errors.New("player is already a ghost")
	ErrNoResurrectRequest = errors.New("no pending resurrect request")
)
