// Package diag defines the priority classes attached to trace events emitted
// by the execution core. Events are plain zap entries; a tracing sink can
// filter on the "priority" field.
package diag

import "go.uber.org/zap"

// Priority classifies a trace event.
type Priority string

const (
	PriorityMarshal  Priority = "marshal"  // argument and result conversion
	PriorityNative   Priority = "native"   // foreign library resolve and bind
	PriorityCleanup  Priority = "cleanup"  // purge, release and dispose
	PriorityCallback Priority = "callback" // adapter cache and invocation
	PriorityContext  Priority = "context"  // execution context lookups
	PriorityThread   Priority = "thread"   // thread affinity
	PriorityScript   Priority = "script"   // script failures surfaced by policy
)

// Field returns the zap field carrying p.
func (p Priority) Field() zap.Field {
	return zap.String("priority", string(p))
}
