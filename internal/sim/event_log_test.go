package sim

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogRequiresStart(t *testing.T) {
	el := NewEventLog()
	assert.False(t, el.EmitSimple(EventTypeSpawn, 1, 1, nil))
	assert.Equal(t, uint64(0), el.GetTotalCount())
}

func TestEventLogWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	el := NewEventLog()
	require.NoError(t, el.Start(path))

	for i := uint64(1); i <= 5; i++ {
		require.True(t, el.EmitSimple(EventTypeGrant, i, i, GrantPayload{Tier: Fast, Cells: 150, Tries: 1}))
	}
	el.Stop()
	el.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 5)

	var ev struct {
		Type     string       `json:"type"`
		Sequence uint64       `json:"sequence"`
		Payload  GrantPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(lines[4], &ev))
	assert.Equal(t, "grant", ev.Type)
	assert.Equal(t, uint64(5), ev.Sequence)
	assert.Equal(t, 150, ev.Payload.Cells)

	stats := el.GetStats()
	assert.Equal(t, uint64(5), stats["total"])
	assert.Equal(t, uint64(5), stats["written"])
	assert.Equal(t, uint64(0), stats["pending"])
}

func TestEventLogPerVehicleLimit(t *testing.T) {
	el := NewEventLog()
	require.NoError(t, el.Start(""))
	defer el.Stop()

	accepted := 0
	for i := 0; i < 50; i++ {
		if el.EmitSimple(EventTypeCloseCall, 1, 9, nil) {
			accepted++
		}
	}
	assert.Less(t, accepted, 50)
	assert.Greater(t, el.GetDroppedCount(), uint64(0))

	// Other vehicles and engine-wide events are unaffected.
	assert.True(t, el.EmitSimple(EventTypeSpawn, 1, 10, nil))
	assert.True(t, el.EmitSimple(EventTypeInvariantViolation, 1, 0, nil))
}

func TestEventLogDropsOldestWhenFull(t *testing.T) {
	el := NewEventLog()
	require.NoError(t, el.Start(""))
	defer el.Stop()

	// Distinct vehicles keep the per-vehicle limiter out of the way.
	for i := uint64(1); i <= EventBufferSize+10; i++ {
		el.Emit(NewEvent(EventTypeSpawn, 0, i, nil))
	}
	stats := el.GetStats()
	assert.LessOrEqual(t, stats["pending"].(uint64), uint64(EventBufferSize))
}

func TestCleanupVehicleLimiters(t *testing.T) {
	el := NewEventLog()
	el.vehicleLimiter(1)
	el.vehicleLimiter(2)

	el.cleanupVehicleLimiters(time.Now().Add(time.Minute))
	_, ok := el.vehicleLimiters.Load(uint64(1))
	assert.False(t, ok)
}
