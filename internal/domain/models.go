package domain

import "time"

// EventType names a guild event delivered by the bot gateway.
type EventType string

const (
	EventMemberJoin      EventType = "member_join"
	EventMemberBan       EventType = "member_ban"
	EventMemberUnban     EventType = "member_unban"
	EventMemberKick      EventType = "member_kick"
	EventMemberTimeout   EventType = "member_timeout"
	EventMemberUntimeout EventType = "member_untimeout"
	EventMemberMute      EventType = "member_mute"
	EventMemberUnmute    EventType = "member_unmute"
	EventMemberWarn      EventType = "member_warn"
	EventWarningRemoved  EventType = "warning_removed"
	// EventMemberUpdate carries timeout transitions in TimeoutUntil/PreviousTimeoutUntil.
	EventMemberUpdate EventType = "member_update"
)

// Event is a moderation-relevant notification from a guild.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	GuildID        string    `json:"guild_id"`
	UserID         string    `json:"user_id"`
	ModeratorID    string    `json:"moderator_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	AccountCreated time.Time `json:"account_created,omitzero"`
	OccurredAt     time.Time `json:"occurred_at"`

	TimeoutUntil         *time.Time `json:"timeout_until,omitempty"`
	PreviousTimeoutUntil *time.Time `json:"previous_timeout_until,omitempty"`
}

// AccountAge returns how old the account was when the event occurred.
func (e Event) AccountAge() (time.Duration, bool) {
	if e.AccountCreated.IsZero() {
		return 0, false
	}
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	return at.Sub(e.AccountCreated), true
}
