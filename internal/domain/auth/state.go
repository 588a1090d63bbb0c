package auth

// State is the authorization state of the running process.
type State int

const (
	StateUnauthenticated State = iota
	StateLoading
	StateAuthorized
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoading:
		return "loading"
	case StateAuthorized:
		return "authorized"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state label in JSON payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
