package silencer

import "errors"

// errNoSessionManager is returned when the default render endpoint can't be reached
var errNoSessionManager = errors.New("no audio session manager for the default render endpoint")

// SessionFinder represents an entity that can reach the audio sessions of the default render endpoint.
// Implementations must not cache the session collection between calls: it is acquired fresh
// on every EachSession call and released before it returns.
type SessionFinder interface {

	// EachSession calls f once for every live session. The sessions handed to f are only valid
	// for the duration of the call. Failing to reach a single session is not an error, failing
	// to reach the collection is.
	EachSession(f func(session Session)) error

	Release() error
}
