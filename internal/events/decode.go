package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shield-moderation/shield-go/internal/domain"
)

// decodeEvent parses a JSON event. fallbackID, typically the broker message id, is
// used when the payload carries no id; an empty fallbackID leaves the ID empty.
func decodeEvent(raw []byte, fallbackID string) (domain.Event, error) {
	var evt domain.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return domain.Event{}, fmt.Errorf("decode event: %w", err)
	}
	evt.ID = strings.TrimSpace(evt.ID)
	if evt.ID == "" {
		evt.ID = fallbackID
	}
	evt.Type = domain.EventType(strings.ToLower(strings.TrimSpace(string(evt.Type))))
	if evt.Type == "" {
		return domain.Event{}, fmt.Errorf("event %q has no type", evt.ID)
	}
	if strings.TrimSpace(evt.UserID) == "" {
		return domain.Event{}, fmt.Errorf("event %q has no user_id", evt.ID)
	}
	return evt, nil
}
