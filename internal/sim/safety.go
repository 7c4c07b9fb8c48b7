package sim

// Gap is the free distance from a follower's front to its leader's rear.
type Gap struct {
	Leader   uint64
	Distance float64
}

// SafetyResult holds the per-vehicle tier ceilings for one tick.
type SafetyResult struct {
	caps       map[uint64]Tier
	gaps       map[uint64]Gap
	closeCalls []uint64
}

// Limit returns the highest tier the vehicle may hold this tick.
func (r SafetyResult) Limit(id uint64) Tier {
	if t, ok := r.caps[id]; ok {
		return t
	}
	return Fast
}

// GapOf returns the gap to the vehicle's leader, if it has one.
func (r SafetyResult) GapOf(id uint64) (Gap, bool) {
	g, ok := r.gaps[id]
	return g, ok
}

// CloseCallVehicles returns the followers whose close-call episode started
// this tick, in id order.
func (r SafetyResult) CloseCallVehicles() []uint64 {
	return r.closeCalls
}

// SafetyMonitor enforces following distance within a lane, independently of
// the reservation grid.
type SafetyMonitor struct {
	tiers             TierTable
	safetyDistance    float64
	closeCallDistance float64
}

// NewSafetyMonitor creates a monitor with the given thresholds.
func NewSafetyMonitor(tiers TierTable, safetyDistance, closeCallDistance float64) *SafetyMonitor {
	return &SafetyMonitor{
		tiers:             tiers,
		safetyDistance:    safetyDistance,
		closeCallDistance: closeCallDistance,
	}
}

// leader returns the nearest vehicle further along the same lane.
func leader(v *Vehicle, vehicles []*Vehicle) *Vehicle {
	var best *Vehicle
	for _, o := range vehicles {
		if o == v || o.Route != v.Route || o.Arc <= v.Arc {
			continue
		}
		if best == nil || o.Arc < best.Arc {
			best = o
		}
	}
	return best
}

// Evaluate computes every vehicle's tier ceiling. A follower closer than the
// safety distance is capped one tier below its current one; a follower that
// would run into its leader's rear this tick is capped to the fastest tier
// that fits the gap. Close-call episodes start below the close-call distance
// and end once the gap is back above the safety distance.
func (s *SafetyMonitor) Evaluate(vehicles []*Vehicle) SafetyResult {
	res := SafetyResult{
		caps: make(map[uint64]Tier, len(vehicles)),
		gaps: make(map[uint64]Gap, len(vehicles)),
	}

	for _, v := range vehicles {
		lead := leader(v, vehicles)
		if lead == nil {
			v.closeCall = false
			continue
		}

		gap := Gap{Leader: lead.ID, Distance: lead.Rear() - v.Arc}
		res.gaps[v.ID] = gap

		limit := Fast
		if gap.Distance < s.safetyDistance {
			limit = v.Tier.Lower()
		}
		if s.tiers.Displacement(limit) > gap.Distance {
			// Emergency: never close more than the remaining gap.
			limit = s.tiers.FittingTier(limit, gap.Distance)
		}
		res.caps[v.ID] = limit

		switch {
		case gap.Distance < s.closeCallDistance && !v.closeCall:
			v.closeCall = true
			res.closeCalls = append(res.closeCalls, v.ID)
		case gap.Distance >= s.safetyDistance:
			v.closeCall = false
		}
	}
	return res
}
