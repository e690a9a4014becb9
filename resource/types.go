package resource

// Handle is an opaque reference to a resource in a table.
// The low 24 bits select the slot (1-based), the high 8 bits carry the slot
// generation. Handle 0 is reserved and always invalid.
type Handle uint32

const (
	slotBits = 24
	slotMask = 1<<slotBits - 1
	maxSlots = slotMask
)

func makeHandle(slot int, gen uint8) Handle {
	return Handle(uint32(gen)<<slotBits | uint32(slot+1))
}

// slot returns the 0-based slot index, or -1 for the zero handle.
func (h Handle) slot() int {
	return int(uint32(h)&slotMask) - 1
}

func (h Handle) generation() uint8 {
	return uint8(uint32(h) >> slotBits)
}

// TypeID tags the kind of value stored behind a handle.
type TypeID uint32

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
	EventReferenced
	EventUnreferenced
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	case EventReferenced:
		return "referenced"
	case EventUnreferenced:
		return "unreferenced"
	}
	return "unknown"
}

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	TypeID TypeID
	Type   EventType
	Refs   int32
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Dropper is optionally implemented by resource values that need cleanup.
type Dropper interface {
	Drop()
}
