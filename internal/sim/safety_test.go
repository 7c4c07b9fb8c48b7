package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSafety() *SafetyMonitor {
	return NewSafetyMonitor(testTiers, 50, 20)
}

func TestSafetyLimits(t *testing.T) {
	tests := []struct {
		name      string
		leaderArc float64 // follower front at 100, vehicle length 70
		want      Tier
	}{
		{"clear lane", 230, Fast},
		{"inside safety distance", 210, Medium},
		{"close call", 185, Medium},
		{"emergency", 174, Slow},
		{"touching", 170, Stopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t)
			leader := f.place(t, 1, South, Straight, tt.leaderArc, Fast)
			follower := f.place(t, 2, South, Straight, 100, Fast)

			res := newTestSafety().Evaluate([]*Vehicle{leader, follower})
			assert.Equal(t, tt.want, res.Limit(2))
			assert.Equal(t, Fast, res.Limit(1), "the leader has nobody ahead")

			gap, ok := res.GapOf(2)
			require.True(t, ok)
			assert.Equal(t, uint64(1), gap.Leader)
			assert.InDelta(t, tt.leaderArc-70-100, gap.Distance, 1e-9)
		})
	}
}

func TestSafetyIgnoresOtherLanes(t *testing.T) {
	f := newManagerFixture(t)
	a := f.place(t, 1, South, Straight, 150, Fast)
	b := f.place(t, 2, South, Left, 100, Fast)

	res := newTestSafety().Evaluate([]*Vehicle{a, b})
	assert.Equal(t, Fast, res.Limit(2))
	_, ok := res.GapOf(2)
	assert.False(t, ok)
}

func TestSafetyPicksNearestLeader(t *testing.T) {
	f := newManagerFixture(t)
	far := f.place(t, 1, South, Straight, 400, Fast)
	near := f.place(t, 2, South, Straight, 200, Fast)
	follower := f.place(t, 3, South, Straight, 100, Fast)

	res := newTestSafety().Evaluate([]*Vehicle{far, near, follower})
	gap, ok := res.GapOf(3)
	require.True(t, ok)
	assert.Equal(t, uint64(2), gap.Leader)
}

func TestCloseCallEpisodes(t *testing.T) {
	f := newManagerFixture(t)
	s := newTestSafety()
	leader := f.place(t, 1, South, Straight, 185, Fast)
	follower := f.place(t, 2, South, Straight, 100, Medium)
	vehicles := []*Vehicle{leader, follower}

	assert.Equal(t, []uint64{2}, s.Evaluate(vehicles).CloseCallVehicles())

	// Same episode while the gap stays under the safety distance.
	assert.Empty(t, s.Evaluate(vehicles).CloseCallVehicles())
	leader.Arc = 200
	assert.Empty(t, s.Evaluate(vehicles).CloseCallVehicles())
	leader.Arc = 180
	assert.Empty(t, s.Evaluate(vehicles).CloseCallVehicles())

	// Recovering past the safety distance ends it.
	leader.Arc = 225
	assert.Empty(t, s.Evaluate(vehicles).CloseCallVehicles())
	leader.Arc = 180
	assert.Equal(t, []uint64{2}, s.Evaluate(vehicles).CloseCallVehicles())
}

func TestSafetyNeverClosesMoreThanGap(t *testing.T) {
	f := newManagerFixture(t)
	s := newTestSafety()
	for gap := 0.0; gap < 60; gap += 0.5 {
		leader := f.place(t, 1, East, Straight, 170+gap, Stopped)
		follower := f.place(t, 2, East, Straight, 100, Fast)
		limit := s.Evaluate([]*Vehicle{leader, follower}).Limit(2)
		assert.LessOrEqual(t, testTiers.Displacement(limit), gap, "gap %.1f", gap)
	}
}
