package room

import "circled/internal/protocol"

// Population is the ordered circle store for one room. Creation order is
// preserved: new circles append, a despawn splices a single element out, and
// the last element is the active circle. Owned by the room goroutine.
type Population struct {
	circles []*Circle
}

func (p *Population) Len() int { return len(p.circles) }

func (p *Population) Append(c *Circle) {
	p.circles = append(p.circles, c)
}

// Active returns the most recently created circle, nil when empty.
func (p *Population) Active() *Circle {
	if len(p.circles) == 0 {
		return nil
	}
	return p.circles[len(p.circles)-1]
}

// RemoveByID splices out the circle with the given id, preserving the order
// of the rest. The id is resolved against the current contents, so removals
// queued earlier stay valid regardless of what was spliced in between.
func (p *Population) RemoveByID(id string) (*Circle, bool) {
	for i, c := range p.circles {
		if c.ID == id {
			p.circles = append(p.circles[:i], p.circles[i+1:]...)
			return c, true
		}
	}
	return nil, false
}

// Snapshot returns the wire representation of every circle in order.
func (p *Population) Snapshot() []protocol.Circle {
	out := make([]protocol.Circle, 0, len(p.circles))
	for _, c := range p.circles {
		out = append(out, c.Snapshot())
	}
	return out
}
