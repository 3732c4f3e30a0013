package auth

// State is the lifecycle state of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAwaitingRegionSelection
	StateUnauthenticated
	StateAuthenticated
	StateLoggingOut
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAwaitingRegionSelection:
		return "awaiting_region_selection"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateLoggingOut:
		return "logging_out"
	default:
		return "unknown"
	}
}

// Activity is what an authenticated session is currently doing.
type Activity int

const (
	ActivityStable Activity = iota
	ActivityRefreshingToken
	ActivitySteppingUp
	ActivitySwitchingTenant
)

func (a Activity) String() string {
	switch a {
	case ActivityStable:
		return "stable"
	case ActivityRefreshingToken:
		return "refreshing_token"
	case ActivitySteppingUp:
		return "stepping_up"
	case ActivitySwitchingTenant:
		return "switching_tenant"
	default:
		return "unknown"
	}
}

// Status is a point in time view of the Manager.
type Status struct {
	State    State
	Activity Activity
	Region   string
}
