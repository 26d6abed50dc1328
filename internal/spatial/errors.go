package spatial

import "errors"

var (
	// ErrZoneUnknown is returned when the host has no bounds for a zone.
	ErrZoneUnknown = errors.New("zone unknown to host")

	// ErrCellOutOfRange is returned for a cell index outside the zone grid.
	ErrCellOutOfRange = errors.New("cell index out of range")
)
