// Package pipeline wires a source connector, the schema mapper and the
// destination loader into one end-to-end migration run.
package pipeline

// State is the orchestrator's phase. Transitions run strictly forward;
// Failed is reachable from every state on a fatal error.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateIntrospectingSchema
	StateMappingSchema
	StateCreatingConstraints
	StateLoadingEntities
	StateLoadingRelationships
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateIntrospectingSchema:
		return "introspecting_schema"
	case StateMappingSchema:
		return "mapping_schema"
	case StateCreatingConstraints:
		return "creating_constraints"
	case StateLoadingEntities:
		return "loading_entities"
	case StateLoadingRelationships:
		return "loading_relationships"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
