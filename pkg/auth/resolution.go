package auth

// State is the terminal outcome of one route-guard resolution. A resolution
// starts in an implicit checking phase and settles in exactly one of these;
// each navigation performs a fresh resolution.
type State int

const (
	// StateAuthorized means a validated identity satisfies the route's roles.
	StateAuthorized State = iota
	// StateUnauthenticated means there is no usable session; the client
	// should present the login page.
	StateUnauthenticated
	// StateForbidden means the principal is authenticated but its role does
	// not satisfy the route. Distinguished from StateUnauthenticated so the
	// client shows "no access" rather than a login form.
	StateForbidden
)

func (s State) String() string {
	switch s {
	case StateAuthorized:
		return "authorized"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Redirect names the page a non-authorized resolution should land on.
type Redirect string

const (
	RedirectNone         Redirect = ""
	RedirectLogin        Redirect = "login"
	RedirectUnauthorized Redirect = "unauthorized"
)

// Resolution is the route guard's answer: the settled state, the resolved
// identity when one exists, and where to send the user otherwise.
type Resolution struct {
	State    State
	Identity *Identity
	Redirect Redirect
}

func authorized(id Identity) Resolution {
	return Resolution{State: StateAuthorized, Identity: &id}
}

func unauthenticated() Resolution {
	return Resolution{State: StateUnauthenticated, Redirect: RedirectLogin}
}

func forbidden(id Identity) Resolution {
	return Resolution{State: StateForbidden, Identity: &id, Redirect: RedirectUnauthorized}
}

// roleAllowed reports whether a role satisfies a route's requirement. An
// empty requirement admits any authenticated principal.
func roleAllowed(role Role, required []Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if r == role {
			return true
		}
	}
	return false
}
