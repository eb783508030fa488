package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shield-moderation/shield-go/internal/domain"
	"github.com/shield-moderation/shield-go/internal/metrics"
	"github.com/shield-moderation/shield-go/internal/storage"
	"github.com/shield-moderation/shield-go/pkg/publishers"
	"github.com/shield-moderation/shield-go/pkg/shield"
)

const checkBody = `{"success":true,"data":{"userId":"u1","flagged":true,"trustScore":12,"riskLevel":"high","actionCount":4,"categories":["spam"],"recommendation":{"action":"BAN","reason":"spam ring","confidence":0.9}}}`

const reportBody = `{"success":true,"message":"recorded","data":{"success":true,"user":{"userId":"u1","trustScore":10,"riskLevel":"high","actionCount":5,"flagged":true},"action":{"category":"spam","confidence":0.8,"severity":"high"}}}`

// recordingPublisher stores published verdicts and can inject errors.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishers.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, evt publishers.Event) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	if r.err != nil {
		return 0, r.err
	}
	return 1, nil
}

func (r *recordingPublisher) published() []publishers.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publishers.Event(nil), r.events...)
}

type fixture struct {
	svc    *Service
	pub    *recordingPublisher
	calls  *atomic.Int32
	delays []time.Duration
	bodies chan []byte
}

func newFixture(t *testing.T, handler http.HandlerFunc, opts Options) *fixture {
	t.Helper()
	calls := &atomic.Int32{}
	bodies := make(chan []byte, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := shield.New("test-key", shield.Options{APIURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("shield.New: %v", err)
	}

	f := &fixture{pub: &recordingPublisher{}, calls: calls, bodies: bodies}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	f.svc = NewService(client, f.pub, opts)
	f.svc.sleep = func(_ context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return nil
	}
	return f
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestHandleMemberJoinPublishesReviewVerdict(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, checkBody), Options{})

	now := time.Date(2025, 11, 19, 12, 0, 0, 0, time.UTC)
	err := f.svc.Handle(context.Background(), domain.Event{
		ID:             "evt-1",
		Type:           domain.EventMemberJoin,
		GuildID:        "g1",
		UserID:         "u1",
		AccountCreated: now.Add(-36 * time.Hour),
		OccurredAt:     now,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got := f.pub.published()
	if len(got) != 1 {
		t.Fatalf("expected 1 verdict, got %d", len(got))
	}
	v := got[0]
	if v.Kind != publishers.KindUserChecked || v.Decision != DecisionReview {
		t.Fatalf("unexpected verdict: %#v", v)
	}
	if v.Check == nil || v.Check.RiskLevel != shield.RiskHigh {
		t.Fatalf("verdict missing check: %#v", v.Check)
	}
	if v.Note != "account created 1 day ago" {
		t.Fatalf("note = %q", v.Note)
	}
}

func TestCheckVerdictCarriesItsOwnCallDetails(t *testing.T) {
	var n atomic.Int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(50-n.Add(1)))
		respond(http.StatusOK, `{"success":true,"data":{"flagged":false,"trustScore":80,"riskLevel":"low","actionCount":0,"categories":[],"recommendation":{"action":"none","reason":"","confidence":0.1}}}`)(w, r)
	}, Options{})

	for _, user := range []string{"u7", "u8"} {
		if err := f.svc.Handle(context.Background(), domain.Event{ID: "e-" + user, Type: domain.EventMemberJoin, GuildID: "g1", UserID: user}); err != nil {
			t.Fatalf("Handle %s: %v", user, err)
		}
	}

	got := f.pub.published()
	if len(got) != 2 {
		t.Fatalf("expected 2 verdicts, got %d", len(got))
	}
	for i, want := range []struct {
		user      string
		remaining int
	}{{"u7", 49}, {"u8", 48}} {
		v := got[i]
		if v.UserID != want.user {
			t.Fatalf("verdict %d user = %q, want %q", i, v.UserID, want.user)
		}
		if v.RateLimit == nil || *v.RateLimit.Remaining != want.remaining {
			t.Fatalf("verdict %d rate limit = %#v, want remaining %d", i, v.RateLimit, want.remaining)
		}
	}
}

func TestHandleMemberJoinAutoAction(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, checkBody), Options{AutoAction: true, MinRisk: shield.RiskMedium})

	if err := f.svc.Handle(context.Background(), domain.Event{ID: "e", Type: domain.EventMemberJoin, GuildID: "g1", UserID: "u1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := f.pub.published()[0].Decision; got != "ban" {
		t.Fatalf("decision = %q, want ban", got)
	}
}

func TestDecide(t *testing.T) {
	svc := NewService(nil, nil, Options{})
	cases := []struct {
		name  string
		check shield.UserCheck
		want  string
	}{
		{"clean", shield.UserCheck{RiskLevel: shield.RiskLow}, DecisionAllow},
		{"flagged low risk", shield.UserCheck{Flagged: true, RiskLevel: shield.RiskLow}, DecisionReview},
		{"high risk without auto action", shield.UserCheck{RiskLevel: shield.RiskCritical, Recommendation: shield.Recommendation{Action: "ban"}}, DecisionReview},
		{"unknown level", shield.UserCheck{RiskLevel: "weird"}, DecisionAllow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := svc.decide(&tc.check); got != tc.want {
				t.Fatalf("decide = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHandleBanReportsOnceWithDedup(t *testing.T) {
	store, err := storage.NewStore("bbolt", filepath.Join(t.TempDir(), "reports.db"), storage.Options{EventTTL: time.Hour, CleanupInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	f := newFixture(t, respond(http.StatusOK, reportBody), Options{Store: store})
	evt := domain.Event{
		ID:             "audit-42",
		Type:           domain.EventMemberBan,
		GuildID:        "g1",
		UserID:         "u1",
		ModeratorID:    "m1",
		Reason:         "spam",
		AccountCreated: time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600)),
	}

	for i := 0; i < 2; i++ {
		if err := f.svc.Handle(context.Background(), evt); err != nil {
			t.Fatalf("Handle #%d: %v", i, err)
		}
	}

	if n := f.calls.Load(); n != 1 {
		t.Fatalf("expected one report request, got %d", n)
	}
	var sent map[string]string
	if err := json.Unmarshal(<-f.bodies, &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if sent["actionType"] != "ban" || sent["accountCreated"] != "2025-01-02T02:04:05Z" {
		t.Fatalf("unexpected report body: %v", sent)
	}

	got := f.pub.published()
	if len(got) != 1 || got[0].Kind != publishers.KindActionReported || got[0].Decision != "ban" {
		t.Fatalf("unexpected verdicts: %#v", got)
	}
	if got[0].Report == nil || got[0].Report.Data.User.TrustScore != 10 {
		t.Fatalf("verdict missing report: %#v", got[0].Report)
	}
}

func TestHandleDedupsIDlessEventsOnIdentity(t *testing.T) {
	store, err := storage.NewStore("bbolt", filepath.Join(t.TempDir(), "reports.db"), storage.Options{EventTTL: time.Hour, CleanupInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	f := newFixture(t, respond(http.StatusOK, reportBody), Options{Store: store})
	at := time.Date(2025, 11, 19, 12, 0, 0, 0, time.UTC)
	ban := domain.Event{Type: domain.EventMemberBan, GuildID: "g1", UserID: "alice", ModeratorID: "m1", Reason: "spam", OccurredAt: at}
	kick := domain.Event{Type: domain.EventMemberKick, GuildID: "g9", UserID: "bob", ModeratorID: "m2", Reason: "raid", OccurredAt: at}

	for _, evt := range []domain.Event{ban, kick, ban} {
		if err := f.svc.Handle(context.Background(), evt); err != nil {
			t.Fatalf("Handle %s: %v", evt.UserID, err)
		}
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("expected distinct id-less events reported once each, got %d requests", n)
	}
	if got := len(f.pub.published()); got != 2 {
		t.Fatalf("expected 2 verdicts, got %d", got)
	}
}

func TestDedupKey(t *testing.T) {
	at := time.Unix(1763566621, 0)
	if got := dedupKey(domain.Event{ID: "audit-1", GuildID: "g"}, shield.ActionBan); got != "audit-1" {
		t.Fatalf("dedupKey with id = %q", got)
	}
	got := dedupKey(domain.Event{GuildID: "g", UserID: "u", ModeratorID: "m", OccurredAt: at}, shield.ActionKick)
	if got != "g:u:kick:m:1763566621" {
		t.Fatalf("dedupKey = %q", got)
	}
	if got := dedupKey(domain.Event{GuildID: "g", UserID: "u"}, shield.ActionKick); got != "g:u:kick::0" {
		t.Fatalf("dedupKey without timestamp = %q", got)
	}
}

func TestHandleRetriesRateLimitWithRetryAfter(t *testing.T) {
	var n atomic.Int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			respond(http.StatusTooManyRequests, `{"success":false,"error":"slow down"}`)(w, r)
			return
		}
		respond(http.StatusOK, reportBody)(w, r)
	}, Options{Retry: RetryPolicy{MaxAttempts: 3, BaseBackoff: 10 * time.Millisecond, MaxBackoff: 10 * time.Second}})

	err := f.svc.Handle(context.Background(), domain.Event{ID: "e", Type: domain.EventMemberKick, GuildID: "g", UserID: "u", ModeratorID: "m", Reason: "r"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f.calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", f.calls.Load())
	}
	if len(f.delays) != 1 || f.delays[0] != 7*time.Second {
		t.Fatalf("expected Retry-After delay of 7s, got %v", f.delays)
	}
}

func TestHandleLeavesLongRetryAfterForRedelivery(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "86400")
		respond(http.StatusTooManyRequests, `{"success":false,"error":"daily quota exhausted"}`)(w, r)
	}, Options{Retry: RetryPolicy{MaxAttempts: 3, BaseBackoff: 10 * time.Millisecond, MaxBackoff: time.Second}})

	err := f.svc.Handle(context.Background(), domain.Event{ID: "e", Type: domain.EventMemberKick, GuildID: "g", UserID: "u", ModeratorID: "m", Reason: "r"})
	if !shield.IsRateLimited(err) {
		t.Fatalf("expected rate-limit error returned for redelivery, got %v", err)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", f.calls.Load())
	}
	if len(f.delays) != 0 {
		t.Fatalf("must not sleep on a Retry-After above MaxBackoff, slept %v", f.delays)
	}
}

func TestHandleReturnsErrorAfterExhaustingRetries(t *testing.T) {
	f := newFixture(t, respond(http.StatusBadGateway, `{"success":false,"error":"upstream"}`),
		Options{Retry: RetryPolicy{MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 150 * time.Millisecond}})

	err := f.svc.Handle(context.Background(), domain.Event{ID: "e", Type: domain.EventMemberJoin, UserID: "u1"})
	if err == nil {
		t.Fatalf("expected transient error to be returned for redelivery")
	}
	if shield.StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("status = %d", shield.StatusCode(err))
	}
	if f.calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls.Load())
	}
	want := []time.Duration{100 * time.Millisecond, 150 * time.Millisecond}
	if len(f.delays) != 2 || f.delays[0] != want[0] || f.delays[1] != want[1] {
		t.Fatalf("delays = %v, want %v", f.delays, want)
	}
	if len(f.pub.published()) != 0 {
		t.Fatalf("no verdict should be published on failure")
	}
}

func TestHandleDropsPermanentFailures(t *testing.T) {
	f := newFixture(t, respond(http.StatusForbidden, `{"success":false,"error":"invalid key"}`), Options{})

	if err := f.svc.Handle(context.Background(), domain.Event{ID: "e", Type: domain.EventMemberJoin, UserID: "u1"}); err != nil {
		t.Fatalf("permanent failures should be dropped, got %v", err)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("403 must not be retried, got %d calls", f.calls.Load())
	}
}

func TestHandleDropsInvalidReportWithoutRequest(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, reportBody), Options{})

	// No moderator id: rejected by client-side validation.
	if err := f.svc.Handle(context.Background(), domain.Event{ID: "e", Type: domain.EventMemberWarn, GuildID: "g", UserID: "u", Reason: "r"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("invalid report must not reach the network")
	}
}

func TestHandleSkipsUnknownEvents(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, reportBody), Options{})
	if err := f.svc.Handle(context.Background(), domain.Event{ID: "e", Type: "member_sneeze", UserID: "u"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("unknown events must not call shield")
	}
}

func TestHandlePublishFailureIsNotRedelivered(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, checkBody), Options{})
	f.pub.err = errors.New("sink down")
	if err := f.svc.Handle(context.Background(), domain.Event{ID: "e", Type: domain.EventMemberJoin, UserID: "u1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestTimeoutTransition(t *testing.T) {
	svc := NewService(nil, nil, Options{})
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	future := at.Add(time.Hour)
	past := at.Add(-time.Hour)

	cases := []struct {
		name     string
		until    *time.Time
		previous *time.Time
		want     shield.ActionType
		ok       bool
	}{
		{"timeout applied", &future, nil, shield.ActionTimeout, true},
		{"timeout lifted", nil, &future, shield.ActionUntimeout, true},
		{"expired timeout cleared", nil, &past, "", false},
		{"timeout extended", &future, &future, "", false},
		{"no timeout", nil, nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := svc.actionFor(domain.Event{Type: domain.EventMemberUpdate, OccurredAt: at, TimeoutUntil: tc.until, PreviousTimeoutUntil: tc.previous})
			if got != tc.want || ok != tc.ok {
				t.Fatalf("actionFor = %q,%v want %q,%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
