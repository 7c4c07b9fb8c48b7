package sim

import (
	"sync"
	"time"

	"smart-road/internal/sim/reservation"
)

// VehicleView is an immutable copy of vehicle state for outer surfaces.
// Uses value types only so readers never alias engine memory.
type VehicleView struct {
	ID        uint64    `json:"id"`
	Direction Direction `json:"direction"`
	Turn      Turn      `json:"turn"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Heading   float64   `json:"heading"`
	Arc       float64   `json:"arc"`
	Tier      Tier      `json:"tier"`
	Velocity  float64   `json:"velocity"` // px per tick
	Status    Status    `json:"status"`
	Granted   bool      `json:"granted"`
	HeldCells int       `json:"heldCells"`
}

// Snapshot is a complete immutable simulation state for rendering and the API.
type Snapshot struct {
	Sequence  uint64    `json:"sequence"`  // Monotonic sequence for ordering
	Timestamp time.Time `json:"timestamp"` // When snapshot was created
	Tick      uint64    `json:"tick"`      // Simulation tick this represents

	Vehicles     []VehicleView             `json:"vehicles"`
	Reservations []reservation.Reservation `json:"reservations"`
	Stats        Stats                     `json:"stats"`
	Grid         reservation.GridStats     `json:"grid"`
}

// clone deep-copies the snapshot so the caller owns every slice.
func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.Vehicles = append([]VehicleView(nil), s.Vehicles...)
	out.Reservations = append([]reservation.Reservation(nil), s.Reservations...)
	return &out
}

// SnapshotPool keeps three snapshots so the tick can fill one while readers
// copy the last published one.
type SnapshotPool struct {
	mu        sync.RWMutex
	snapshots [3]Snapshot
	writeIdx  int
	readIdx   int
	published bool
	sequence  uint64
}

// NewSnapshotPool creates a pool with pre-allocated vehicle slices.
func NewSnapshotPool(capacity int) *SnapshotPool {
	pool := &SnapshotPool{}
	for i := range pool.snapshots {
		pool.snapshots[i].Vehicles = make([]VehicleView, 0, capacity)
	}
	return pool
}

// AcquireWrite returns the next write slot, never the published one.
// Slices are reset with their capacity kept. Producer only.
func (p *SnapshotPool) AcquireWrite() *Snapshot {
	p.mu.RLock()
	read := p.readIdx
	p.mu.RUnlock()

	idx := (p.writeIdx + 1) % len(p.snapshots)
	if idx == read {
		idx = (idx + 1) % len(p.snapshots)
	}
	p.writeIdx = idx

	snap := &p.snapshots[idx]
	snap.Vehicles = snap.Vehicles[:0]
	snap.Reservations = snap.Reservations[:0]
	p.sequence++
	snap.Sequence = p.sequence
	snap.Timestamp = time.Now()
	return snap
}

// PublishWrite makes the last acquired slot the one readers see.
func (p *SnapshotPool) PublishWrite() {
	p.mu.Lock()
	p.readIdx = p.writeIdx
	p.published = true
	p.mu.Unlock()
}

// AcquireRead returns a copy of the latest published snapshot, or nil if
// nothing has been published yet.
func (p *SnapshotPool) AcquireRead() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.published {
		return nil
	}
	return p.snapshots[p.readIdx].clone()
}
