package vmswap

import "errors"

var (
	// ErrNoFreeSlot means every swap slot is occupied: a resource
	// exhaustion condition, fatal per the design's error taxonomy.
	ErrNoFreeSlot = errors.New("vmswap: no free swap slot")

	// ErrSlotFree marks In/Free of a slot that is not occupied.
	ErrSlotFree = errors.New("vmswap: slot is not occupied")

	// ErrSlotOutOfRange marks a slot index outside [0, slot_count).
	ErrSlotOutOfRange = errors.New("vmswap: slot index out of range")
)
