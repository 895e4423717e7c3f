package models

import "encoding/json"

// Wire event names. Both directions use the same envelope.
const (
	EventRegister = "register"
	EventDM       = "dm"
)

// Envelope is the framing for every websocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func NewEnvelope(event string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}
