package interfaces

import "livesession/pkg/types"

// Broadcaster delivers events to every current subscriber of a scope
// FUNCTIONAL DISCOVERY: Broadcast is fire-and-forget. The returned event
// carries the assigned id and sequence; an error means it was never queued
type Broadcaster interface {
	Broadcast(scope types.Scope, eventType string, payload interface{}, exclude ...string) (*types.Event, error)
}
