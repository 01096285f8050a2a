package port

import "github.com/auraline/readings/internal/core/domain"

// Client is one party's live connection. Implementations must be safe for
// concurrent Send calls: billing pushes race with relayed traffic.
type Client interface {
	Identity() domain.Identity
	Send(ev domain.Envelope) error
	Close() error
}
