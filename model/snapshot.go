package model

// Phase is the run-level state of the simulation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseArmed
	PhaseRunning
	PhaseIntercepting
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseRunning:
		return "running"
	case PhaseIntercepting:
		return "intercepting"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// EntityView is everything a renderer needs to redraw one icon.
type EntityView struct {
	ID                     string   `json:"id" msgpack:"id"`
	Role                   string   `json:"role" msgpack:"role"`
	Position               Position `json:"position" msgpack:"position"`
	Heading                float64  `json:"heading" msgpack:"heading"`
	State                  string   `json:"state" msgpack:"state"`
	DistanceToTargetMeters float64  `json:"distance_to_target_m" msgpack:"distance_to_target_m"`
	RemainingMeters        float64  `json:"remaining_m" msgpack:"remaining_m"`
	HasHit                 bool     `json:"has_hit" msgpack:"has_hit"`
}

// Snapshot is the per-tick view emitted to renderers. Entities are ordered
// target first, then interceptors in configuration order.
type Snapshot struct {
	RunID     string       `json:"run_id" msgpack:"run_id"`
	Tick      int          `json:"tick" msgpack:"tick"`
	Phase     string       `json:"phase" msgpack:"phase"`
	HitCount  int          `json:"hit_count" msgpack:"hit_count"`
	ZoneArmed bool         `json:"zone_armed" msgpack:"zone_armed"`
	Entities  []EntityView `json:"entities" msgpack:"entities"`
}

// Entity returns the view with the given id.
func (s Snapshot) Entity(id string) (EntityView, bool) {
	for _, e := range s.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return EntityView{}, false
}
