package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shield-moderation/shield-go/internal/domain"
	"github.com/shield-moderation/shield-go/internal/metrics"
	"github.com/shield-moderation/shield-go/internal/storage"
	"github.com/shield-moderation/shield-go/pkg/publishers"
	"github.com/shield-moderation/shield-go/pkg/shield"
)

// Verdict decisions for checked users. Auto-actions use the backend's recommended action instead.
const (
	DecisionAllow  = "allow"
	DecisionReview = "review"
)

// newAccountAge is the account age below which a verdict notes the account as new.
const newAccountAge = 7 * 24 * time.Hour

const (
	opCheckUser    = "check_user"
	opReportAction = "report_action"
)

var actionByEvent = map[domain.EventType]shield.ActionType{
	domain.EventMemberBan:       shield.ActionBan,
	domain.EventMemberUnban:     shield.ActionUnban,
	domain.EventMemberKick:      shield.ActionKick,
	domain.EventMemberTimeout:   shield.ActionTimeout,
	domain.EventMemberUntimeout: shield.ActionUntimeout,
	domain.EventMemberMute:      shield.ActionMute,
	domain.EventMemberUnmute:    shield.ActionUnmute,
	domain.EventMemberWarn:      shield.ActionWarn,
	domain.EventWarningRemoved:  shield.ActionRemoveWarning,
}

// Options tune the guard's decisions and collaborators. Zero values are usable.
type Options struct {
	Retry RetryPolicy

	// AutoAction lets verdicts carry the backend's recommended action for users at or above MinRisk.
	AutoAction bool
	MinRisk    shield.RiskLevel

	Store   storage.Store
	Metrics *metrics.Metrics
	Log     Logger
}

// Service turns guild events into Shield calls and publishes the resulting verdicts.
type Service struct {
	api        ShieldAPI
	publisher  VerdictPublisher
	store      storage.Store
	metrics    *metrics.Metrics
	log        Logger
	retry      RetryPolicy
	autoAction bool
	minRisk    shield.RiskLevel
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time
}

// NewService wires the guard with a Shield client and a verdict publisher.
func NewService(api ShieldAPI, pub VerdictPublisher, opts Options) *Service {
	s := &Service{
		api:        api,
		publisher:  pub,
		store:      opts.Store,
		metrics:    opts.Metrics,
		log:        opts.Log,
		retry:      opts.Retry.normalize(),
		autoAction: opts.AutoAction,
		minRisk:    opts.MinRisk,
		sleep:      sleepCtx,
		now:        time.Now,
	}
	if s.log == nil {
		s.log = noopLogger{}
	}
	if s.store == nil {
		s.store, _ = storage.NewStore("none", "", storage.Options{})
	}
	if s.minRisk == "" {
		s.minRisk = shield.RiskHigh
	}
	return s
}

// Handle processes one event. It returns an error only for transient failures,
// so that at-least-once sources redeliver the event. Permanent failures are logged and dropped.
func (s *Service) Handle(ctx context.Context, evt domain.Event) error {
	if s == nil || s.api == nil {
		return fmt.Errorf("guard service is not initialized")
	}
	typ := string(evt.Type)

	var err error
	switch {
	case evt.Type == domain.EventMemberJoin:
		err = s.checkMember(ctx, evt)
	default:
		action, ok := s.actionFor(evt)
		if !ok {
			s.log.WarnObj("skipping unsupported event", "guard_skip", map[string]any{
				"event_id": evt.ID,
				"type":     typ,
			})
			return nil
		}
		err = s.reportAction(ctx, evt, action)
	}

	if err == nil {
		s.metrics.EventProcessed(typ)
		return nil
	}
	s.metrics.EventFailed(typ)
	fields := map[string]any{
		"event_id": evt.ID,
		"type":     typ,
		"guild_id": evt.GuildID,
		"user_id":  evt.UserID,
		"error":    err.Error(),
	}
	if permanent(err) {
		s.log.ErrorObj("dropping event after permanent failure", "guard_error", fields)
		return nil
	}
	s.log.ErrorObj("event failed; leaving for redelivery", "guard_error", fields)
	return err
}

func (s *Service) checkMember(ctx context.Context, evt domain.Event) error {
	var check *shield.UserCheck
	err := s.withRetry(ctx, opCheckUser, func(ctx context.Context) (*shield.RateLimitInfo, error) {
		var err error
		check, err = s.api.CheckUser(ctx, evt.UserID)
		if err != nil {
			return nil, err
		}
		return check.RateLimit, nil
	})
	if err != nil {
		return err
	}
	s.metrics.UserChecked(check.RiskLevel)

	decision := s.decide(check)
	verdict := publishers.NewCheckEvent(evt.ID, evt.GuildID, evt.UserID, check, decision, s.accountNote(evt))

	s.log.InfoObj("member checked", "guard_check", map[string]any{
		"event_id":   evt.ID,
		"guild_id":   evt.GuildID,
		"user_id":    evt.UserID,
		"flagged":    check.Flagged,
		"risk_level": check.RiskLevel,
		"decision":   decision,
	})
	s.publish(ctx, verdict)
	return nil
}

// decide maps a risk profile onto a verdict decision.
func (s *Service) decide(check *shield.UserCheck) string {
	risky := check.RiskLevel.AtLeast(s.minRisk)
	if s.autoAction && risky && check.Recommendation.Action != "" {
		return strings.ToLower(check.Recommendation.Action)
	}
	if check.Flagged || risky {
		return DecisionReview
	}
	return DecisionAllow
}

func (s *Service) accountNote(evt domain.Event) string {
	age, ok := evt.AccountAge()
	if !ok || age >= newAccountAge {
		return ""
	}
	days := int(age / (24 * time.Hour))
	if days < 1 {
		return "account created less than a day ago"
	}
	if days == 1 {
		return "account created 1 day ago"
	}
	return fmt.Sprintf("account created %d days ago", days)
}

// actionFor maps an event onto the action to report.
func (s *Service) actionFor(evt domain.Event) (shield.ActionType, bool) {
	if evt.Type == domain.EventMemberUpdate {
		return s.timeoutTransition(evt)
	}
	action, ok := actionByEvent[evt.Type]
	return action, ok
}

// timeoutTransition detects a timeout being applied or lifted in a member update.
func (s *Service) timeoutTransition(evt domain.Event) (shield.ActionType, bool) {
	at := evt.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	active := func(t *time.Time) bool { return t != nil && t.After(at) }

	switch {
	case active(evt.TimeoutUntil) && !active(evt.PreviousTimeoutUntil):
		return shield.ActionTimeout, true
	case !active(evt.TimeoutUntil) && active(evt.PreviousTimeoutUntil):
		return shield.ActionUntimeout, true
	}
	return "", false
}

func (s *Service) reportAction(ctx context.Context, evt domain.Event, action shield.ActionType) error {
	key := dedupKey(evt, action)
	seen, err := s.store.SeenEvent(key)
	if err != nil {
		return fmt.Errorf("check reported event %s: %w", key, err)
	}
	if seen {
		s.metrics.DuplicateSkipped()
		s.log.DebugObj("action already reported", "guard_duplicate", map[string]any{
			"event_id": evt.ID,
			"key":      key,
		})
		return nil
	}

	report := shield.ActionReport{
		UserID:      evt.UserID,
		GuildID:     evt.GuildID,
		ActionType:  action,
		Reason:      evt.Reason,
		ModeratorID: evt.ModeratorID,
	}
	if !evt.AccountCreated.IsZero() {
		report.AccountCreated = evt.AccountCreated.UTC().Format(time.RFC3339)
	}

	var result *shield.ReportResult
	err = s.withRetry(ctx, opReportAction, func(ctx context.Context) (*shield.RateLimitInfo, error) {
		var err error
		result, err = s.api.ReportAction(ctx, report)
		if err != nil {
			return nil, err
		}
		return result.RateLimit, nil
	})
	if err != nil {
		return err
	}
	s.metrics.ActionReported(action)

	if err := s.store.MarkEvent(key); err != nil {
		s.log.WarnObj("failed to record reported event", "guard_store_error", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}

	s.log.InfoObj("action reported", "guard_report", map[string]any{
		"event_id":   evt.ID,
		"guild_id":   evt.GuildID,
		"user_id":    evt.UserID,
		"action":     action,
		"trust":      result.Data.User.TrustScore,
		"risk_level": result.Data.User.RiskLevel,
	})
	s.publish(ctx, publishers.NewReportEvent(evt.ID, report, result))
	return nil
}

// permanent reports Shield failures that no redelivery can fix.
func permanent(err error) bool {
	var se *shield.Error
	return errors.As(err, &se) && !Retryable(err)
}

// dedupKey prefers the source event id and falls back to the event's identity.
func dedupKey(evt domain.Event, action shield.ActionType) string {
	if evt.ID != "" {
		return evt.ID
	}
	var at int64
	if !evt.OccurredAt.IsZero() {
		at = evt.OccurredAt.Unix()
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d", evt.GuildID, evt.UserID, action, evt.ModeratorID, at)
}

// publish delivers a verdict. Delivery failures are logged, never redelivered.
func (s *Service) publish(ctx context.Context, verdict publishers.Event) {
	if s.publisher == nil {
		return
	}
	delivered, err := s.publisher.Publish(ctx, verdict)
	if err != nil {
		s.metrics.PublishFailed()
		s.log.ErrorObj("verdict publish failed", "guard_publish_error", map[string]any{
			"event_id":  verdict.EventID,
			"kind":      verdict.Kind,
			"delivered": delivered,
			"error":     err.Error(),
		})
	}
}
