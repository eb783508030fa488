package shield

import (
	"bytes"
	"encoding/json"
)

// RiskLevel is the backend's coarse risk bucket for a user.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskNone:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// AtLeast reports whether r is as severe as other. Unknown levels rank below none.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	rr, ok := riskRank[r]
	if !ok {
		return false
	}
	return rr >= riskRank[other]
}

// ActionType is a moderation action the network accepts reports for.
type ActionType string

const (
	ActionBan           ActionType = "ban"
	ActionKick          ActionType = "kick"
	ActionTimeout       ActionType = "timeout"
	ActionMute          ActionType = "mute"
	ActionWarn          ActionType = "warn"
	ActionUnban         ActionType = "unban"
	ActionUntimeout     ActionType = "untimeout"
	ActionUnmute        ActionType = "unmute"
	ActionRemoveWarning ActionType = "remove_warning"
)

// ActionTypes lists every accepted action type in canonical order.
var ActionTypes = []ActionType{
	ActionBan, ActionKick, ActionTimeout, ActionMute, ActionWarn,
	ActionUnban, ActionUntimeout, ActionUnmute, ActionRemoveWarning,
}

// Valid reports whether a is one of ActionTypes.
func (a ActionType) Valid() bool {
	for _, t := range ActionTypes {
		if a == t {
			return true
		}
	}
	return false
}

// Recommendation is the backend's suggested response to a checked user.
type Recommendation struct {
	Action     string  `json:"action"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// UserCheck is the risk profile returned by CheckUser.
type UserCheck struct {
	UserID         string         `json:"userId"`
	Flagged        bool           `json:"flagged"`
	TrustScore     int            `json:"trustScore"`
	RiskLevel      RiskLevel      `json:"riskLevel"`
	ActionCount    int            `json:"actionCount"`
	Categories     []string       `json:"categories"`
	Recommendation Recommendation `json:"recommendation"`

	// RateLimit is taken from the response headers of this call.
	RateLimit *RateLimitInfo `json:"-"`
}

// ActionReport describes a moderation action taken in a guild.
// AccountCreated is optional and, when set, must be an RFC 3339 timestamp.
type ActionReport struct {
	UserID         string     `json:"userId" validate:"required"`
	GuildID        string     `json:"guildId" validate:"required"`
	ActionType     ActionType `json:"actionType" validate:"required,actiontype"`
	Reason         string     `json:"reason" validate:"required"`
	ModeratorID    string     `json:"moderatorId" validate:"required"`
	AccountCreated string     `json:"accountCreated,omitempty" validate:"omitempty,rfc3339"`
}

// ReportedUser is the backend's view of the reported user after the action was recorded.
type ReportedUser struct {
	UserID      string    `json:"userId"`
	TrustScore  int       `json:"trustScore"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	ActionCount int       `json:"actionCount"`
	Flagged     bool      `json:"flagged"`
}

// ReportedAction is the backend's classification of a reported action.
type ReportedAction struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Severity   string  `json:"severity"`
}

// ReportDetail is the nested payload of a report-action response.
type ReportDetail struct {
	Success bool           `json:"success"`
	User    ReportedUser   `json:"user"`
	Action  ReportedAction `json:"action"`
}

// ReportResult is the full report-action response including the top-level acknowledgment.
type ReportResult struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Data      ReportDetail   `json:"data"`
	RateLimit *RateLimitInfo `json:"rateLimit,omitempty"`
}

// NetworkStats are the aggregate counters of the cross-server network.
type NetworkStats struct {
	ParticipatingServers int64 `json:"participatingServers"`
	TotalUsers           int64 `json:"totalUsers"`
	UsersChecked         int64 `json:"usersChecked"`
	ThreatsDetected      int64 `json:"threatsDetected"`
	ActionsContributed   int64 `json:"actionsContributed"`
}

// envelope is the common shape of every Shield response body.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// failed reports an explicit success:false.
func (e *envelope) failed() bool {
	return e.Success != nil && !*e.Success
}

// UnmarshalJSON accepts any valid JSON. Fields of an unexpected type are
// ignored so that a well-formed body never turns into a parse error.
func (e *envelope) UnmarshalJSON(b []byte) error {
	*e = envelope{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		// arrays, strings and numbers carry no envelope fields
		return nil
	}
	switch string(bytes.TrimSpace(fields["success"])) {
	case "true":
		ok := true
		e.Success = &ok
	case "false":
		ok := false
		e.Success = &ok
	}
	e.Message = stringField(fields["message"])
	e.Error = stringField(fields["error"])
	e.Data = fields["data"]
	return nil
}

func stringField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
