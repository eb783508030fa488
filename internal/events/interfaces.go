package events

import (
	"context"

	"github.com/shield-moderation/shield-go/internal/domain"
)

// Handler processes one event. A nil return acknowledges the event at the source;
// an error leaves it for redelivery.
type Handler func(ctx context.Context, evt domain.Event) error

// Source delivers guild events from an upstream transport until ctx is cancelled
// or the source is exhausted.
type Source interface {
	ID() string
	Type() string
	Run(ctx context.Context, handle Handler) error
}

// Logger defines the logging surface sources rely on.
type Logger interface {
	InfoObj(msg, key string, obj interface{})
	DebugObj(msg, key string, obj interface{})
	WarnObj(msg, key string, obj interface{})
	ErrorObj(msg, key string, obj interface{})
}

type noopLogger struct{}

func (noopLogger) InfoObj(string, string, interface{})  {}
func (noopLogger) DebugObj(string, string, interface{}) {}
func (noopLogger) WarnObj(string, string, interface{})  {}
func (noopLogger) ErrorObj(string, string, interface{}) {}

func ensureLogger(log Logger) Logger {
	if log == nil {
		return noopLogger{}
	}
	return log
}
