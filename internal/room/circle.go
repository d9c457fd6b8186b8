package room

import (
	"math"
	"math/rand"

	"github.com/google/uuid"

	"circled/internal/protocol"
	"circled/internal/tuning"
)

// Circle is one population member. Only the radius changes after creation;
// position and velocity are cosmetic seeds consumed by clients.
type Circle struct {
	ID     string
	X, Y   float64
	VX, VY float64
	Radius float64

	maxRadius float64

	// watched marks circles created by a capacity spawn. Only watched
	// circles are removed when their radius reaches zero; the bootstrap
	// circle never is.
	watched bool
}

func newCircle(rng *rand.Rand, t tuning.Tuning) *Circle {
	span := t.VelocityMax - t.VelocityMin
	return &Circle{
		ID:        uuid.NewString(),
		VX:        t.VelocityMin + rng.Float64()*span,
		VY:        t.VelocityMin + rng.Float64()*span,
		Radius:    t.SpawnRadius,
		maxRadius: t.MaxRadius,
	}
}

// IncreaseRadius grows the radius by delta, silently clamped to the max.
func (c *Circle) IncreaseRadius(delta float64) {
	c.Radius = math.Min(c.Radius+delta, c.maxRadius)
}

// DecreaseRadius shrinks the radius by delta, silently clamped to zero.
func (c *Circle) DecreaseRadius(delta float64) {
	c.Radius = math.Max(c.Radius-delta, 0)
}

// Snapshot returns the wire representation.
func (c *Circle) Snapshot() protocol.Circle {
	return protocol.Circle{
		X:      c.X,
		Y:      c.Y,
		Radius: c.Radius,
		VX:     c.VX,
		VY:     c.VY,
		ID:     c.ID,
	}
}
