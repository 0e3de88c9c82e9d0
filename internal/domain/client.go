// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxClientIDLen = 64
	MaxSlotLen     = 36
)

var (
	ErrSlotTooLong = errors.New("slot too long")
	ErrSlotInvalid = errors.New("slot has invalid characters")
)

// ClientID identifies one signaling connection. It is assigned by the
// transport layer and never reused.
type ClientID string

func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// Direction is which track of a session a transport belongs to.
type Direction string

const (
	DirectionProducer Direction = "producer"
	DirectionConsumer Direction = "consumer"
)

// Slot is a client-chosen stream purpose ("default", "screen", ...).
// Each session holds at most one transport per direction and slot.
type Slot string

const DefaultSlot Slot = "default"

// ParseSlot validates a slot coming off the wire. Empty means DefaultSlot.
func ParseSlot(s string) (Slot, error) {
	if s == "" {
		return DefaultSlot, nil
	}
	if len(s) > MaxSlotLen {
		return "", ErrSlotTooLong
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", ErrSlotInvalid
		}
	}
	return Slot(s), nil
}
