package corpse

import "github.com/udisondev/botcore/internal/host"

var (
	// ErrNotTracked is returned for corpse or owner GUIDs without a tracker.
	ErrNotTracked = host.ErrCorpseNotTracked
	// ErrInUse is returned when a delete finds live references or no safe mark.
	ErrInUse = host.ErrCorpseInUse
)
