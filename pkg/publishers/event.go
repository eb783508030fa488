package publishers

import (
	"time"

	"github.com/shield-moderation/shield-go/pkg/shield"
)

// Event kinds published downstream.
const (
	KindUserChecked    = "user_checked"
	KindActionReported = "action_reported"
)

// Event is the verdict payload published downstream after a Shield call.
type Event struct {
	Kind      string                `json:"kind"`
	EventID   string                `json:"event_id"`
	GuildID   string                `json:"guild_id"`
	UserID    string                `json:"user_id"`
	Decision  string                `json:"decision,omitempty"`
	Note      string                `json:"note,omitempty"`
	Check     *shield.UserCheck     `json:"check,omitempty"`
	Report    *shield.ReportResult  `json:"report,omitempty"`
	RateLimit *shield.RateLimitInfo `json:"rate_limit,omitempty"`
	EmittedAt time.Time             `json:"emitted_at"`
}

// NewCheckEvent builds a user_checked verdict for userID. The backend's userId is
// only used when userID is empty.
func NewCheckEvent(eventID, guildID, userID string, check *shield.UserCheck, decision, note string) Event {
	evt := Event{
		Kind:      KindUserChecked,
		EventID:   eventID,
		GuildID:   guildID,
		UserID:    userID,
		Decision:  decision,
		Note:      note,
		Check:     check,
		EmittedAt: time.Now().UTC(),
	}
	if check != nil {
		if evt.UserID == "" {
			evt.UserID = check.UserID
		}
		evt.RateLimit = check.RateLimit
	}
	return evt
}

// NewReportEvent builds an action_reported verdict.
func NewReportEvent(eventID string, report shield.ActionReport, result *shield.ReportResult) Event {
	evt := Event{
		Kind:      KindActionReported,
		EventID:   eventID,
		GuildID:   report.GuildID,
		UserID:    report.UserID,
		Decision:  string(report.ActionType),
		Report:    result,
		EmittedAt: time.Now().UTC(),
	}
	if result != nil {
		evt.RateLimit = result.RateLimit
	}
	return evt
}

// attributes are the routing attributes attached to queue/topic messages.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"kind":     e.Kind,
		"guild_id": e.GuildID,
		"decision": e.Decision,
	}
}
