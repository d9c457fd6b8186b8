package protocol

import "encoding/json"

// Circle is the wire snapshot of one circle, sent verbatim in every
// envelope. x/y and vx/vy are seeds for the client-side drift animation and
// never change after creation; radius is the only field the server mutates.
type Circle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	ID     string  `json:"id"`
}

// StateMsg is the full-population snapshot sent to a single connection on
// join and close. Clients treat it as a full replace of their circle list.
type StateMsg struct {
	Kind    string   `json:"kind"`
	Circles []Circle `json:"circles"`
}

// CircleMsg carries one circle for spawn/despawn/update broadcasts.
// Clients upsert by id on spawn/update and remove by id on despawn.
type CircleMsg struct {
	Kind   string `json:"kind"`
	Circle Circle `json:"circle"`
}

// EncodeState marshals a state envelope. An empty population encodes as
// "circles":[] rather than null.
func EncodeState(circles []Circle) ([]byte, error) {
	if circles == nil {
		circles = []Circle{}
	}
	return json.Marshal(StateMsg{Kind: KindState, Circles: circles})
}

// EncodeCircle marshals a spawn/despawn/update envelope.
func EncodeCircle(kind string, c Circle) ([]byte, error) {
	return json.Marshal(CircleMsg{Kind: kind, Circle: c})
}
