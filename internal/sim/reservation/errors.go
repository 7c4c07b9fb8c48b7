package reservation

import "fmt"

// InvariantViolation reports two distinct vehicles whose windows overlap on
// the same cell. It is a programming fault, never a runtime condition.
type InvariantViolation struct {
	Cell     Cell
	Existing Reservation
	Incoming Reservation
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("reservation: overlapping windows on cell %s: vehicle %d [%.2f,%.2f) vs vehicle %d [%.2f,%.2f)",
		e.Cell,
		e.Existing.VehicleID, e.Existing.Window.Enter, e.Existing.Window.Exit,
		e.Incoming.VehicleID, e.Incoming.Window.Enter, e.Incoming.Window.Exit)
}
