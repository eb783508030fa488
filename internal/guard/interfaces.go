package guard

import (
	"context"

	"github.com/shield-moderation/shield-go/pkg/publishers"
	"github.com/shield-moderation/shield-go/pkg/shield"
)

// ShieldAPI is the subset of *shield.Client the guard calls.
type ShieldAPI interface {
	CheckUser(ctx context.Context, userID string) (*shield.UserCheck, error)
	ReportAction(ctx context.Context, report shield.ActionReport) (*shield.ReportResult, error)
}

// VerdictPublisher publishes verdicts downstream and reports how many sinks accepted them.
type VerdictPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Logger defines the logging surface the guard relies on.
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
