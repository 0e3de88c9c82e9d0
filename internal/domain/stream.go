package domain

import "time"

// ProducerInfo is the public meta of a published stream.
type ProducerInfo struct {
	ID       string    `json:"producerId"`
	ClientID ClientID  `json:"clientId"`
	Kind     string    `json:"kind"`
	Slot     Slot      `json:"slot"`
	Since    time.Time `json:"since"`
}
