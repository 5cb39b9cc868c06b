package childio

import "github.com/google/uuid"

// newOpaqueID generates an EventId, unique within a run, using the same
// generator the fan-out operator uses for RunId (runtime/fanout.go).
func newOpaqueID() string {
	return uuid.New().String()
}
