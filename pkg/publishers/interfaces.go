package publishers

import "context"

// Publisher delivers verdict events to one downstream sink. Sinks holding
// client connections also implement Close, which Fanout.Close calls.
type Publisher interface {
	ID() string
	Type() string
	Publish(ctx context.Context, evt Event) error
}
