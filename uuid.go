package s4pp

import "github.com/google/uuid"

// NewSessionID allocates a correlation identifier for logging and audit
// events only; it never appears on the wire and is not part of any
// protocol state the peer can observe.
func NewSessionID() string {
	return uuid.NewString()
}
