package types

// Event is a structured record of a state change, emitted after a successful
// settlement or configuration update.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
