package protocol

import "encoding/json"

// Message kinds.
const (
	KindState   = "state"
	KindSpawn   = "spawn"
	KindDespawn = "despawn"
	KindUpdate  = "update"
)

// BaseMessage lets us route unknown JSON messages by kind.
type BaseMessage struct {
	Kind string `json:"kind"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
