package sim

import "errors"

var (
	// ErrRejectedSpawn is returned when the entry lane is still occupied
	// near the spawn point. The caller may retry on a later tick.
	ErrRejectedSpawn = errors.New("sim: spawn rejected, entry lane occupied")

	// ErrUnknownRoute is returned for a direction/turn pair outside the table.
	ErrUnknownRoute = errors.New("sim: unknown route")
)
