// Package resource provides handle tables for values that cross the script or
// foreign boundary as plain integers.
//
// Two users share the same table implementation: opaque script handles for
// foreign values (reference counted, named in scripts), and pinned tokens that
// a foreign runtime hands back to the host in callbacks such as the exit
// handler.
//
// # Handle Table
//
//	table := resource.NewTable()
//
//	// Insert a value, get a handle
//	handle := table.Insert(typeID, myValue)
//
//	// Retrieve value by handle
//	value, ok := table.Get(handle)
//
//	// Reference counting: the value goes away with its last reference
//	table.AddRef(handle)
//	removed, _ := table.Release(handle)
//
// # Stale Handles
//
// Every slot carries a generation that is bumped on reuse, so a handle kept
// past its removal never resolves to a newer value. This is what makes a
// forged or stale token harmless.
//
// # Exactly-once Release
//
// RemoveIf removes a handle only while it still maps to the expected value.
// When two paths race to free the same token (explicit unregistration and a
// foreign-triggered shutdown), exactly one of them observes true.
//
// # Observers
//
// Register observers to track lifecycle events:
//
//	table.Subscribe(myObserver) // OnResourceEvent(resource.Event)
//
// # Memory Management
//
// Values are not garbage collected by the table. Owners must call Remove,
// Release or Close. Values implementing Dropper are notified on removal.
package resource
