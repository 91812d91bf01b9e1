package model

// Role distinguishes the single target from the interceptors chasing it.
type Role int

const (
	RoleTarget Role = iota
	RoleInterceptor
)

func (r Role) String() string {
	switch r {
	case RoleTarget:
		return "target"
	case RoleInterceptor:
		return "interceptor"
	default:
		return "unknown"
	}
}

// EntityState is the motion mode of an entity.
type EntityState int

const (
	// StateCircling orbits an anchor point, waiting for launch.
	StateCircling EntityState = iota
	// StateTransiting steps along a precomputed path.
	StateTransiting
	// StateHit marks an interceptor that has registered its hit. It keeps
	// moving along its path.
	StateHit
)

func (s EntityState) String() string {
	switch s {
	case StateCircling:
		return "circling"
	case StateTransiting:
		return "transiting"
	case StateHit:
		return "hit"
	default:
		return "unknown"
	}
}

// Anchor is the fixed point an interceptor orbits before launch.
type Anchor struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Position Position `json:"position"`
	// External anchors are flown by a remote telemetry source rather than
	// the local orbit/path models.
	External bool `json:"external,omitempty"`
}

// MovingEntity is the simulated state of one plane or drone.
type MovingEntity struct {
	ID    string
	Role  Role
	State EntityState

	Path      Path
	StepIndex int

	SpeedMetersPerSecond float64
	Heading              float64
	Position             Position

	HasHit bool

	// Anchor is set for interceptors only.
	Anchor Anchor
}

// External reports whether the entity is driven by remote telemetry.
func (e *MovingEntity) External() bool {
	return e != nil && e.Anchor.External
}

// Terminal reports whether the entity has consumed its whole path. Circling
// entities are never terminal.
func (e *MovingEntity) Terminal() bool {
	if e == nil || e.State == StateCircling {
		return false
	}
	return e.StepIndex >= e.Path.LastIndex()
}

// Clone returns a copy of e. Path values are immutable, so sharing them is
// safe.
func (e *MovingEntity) Clone() *MovingEntity {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}
