package events

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/shield-moderation/shield-go/internal/domain"
)

func TestDecodeEvent(t *testing.T) {
	evt, err := decodeEvent([]byte(`{"type":" Member_Ban ","guild_id":"g","user_id":"u","moderator_id":"m","reason":"spam"}`), "fallback")
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if evt.ID != "fallback" || evt.Type != domain.EventMemberBan || evt.ModeratorID != "m" {
		t.Fatalf("unexpected event %#v", evt)
	}

	evt, err = decodeEvent([]byte(`{"type":"member_kick","guild_id":"g","user_id":"u"}`), "")
	if err != nil || evt.ID != "" {
		t.Fatalf("expected empty id without fallback, got %q err=%v", evt.ID, err)
	}

	for _, raw := range []string{`nope`, `{"user_id":"u"}`, `{"type":"member_join"}`} {
		if _, err := decodeEvent([]byte(raw), "x"); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	raw := `
sources:
  - id: queue
    type: sqs
    sqs:
      uri: https://sqs.us-east-1.amazonaws.com/123/guild-events
      region: us-east-1
      max_messages: 50
  - id: replay
    type: file
    enabled: false
    file:
      path: ./events.jsonl
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(reg.All()) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(reg.All()))
	}
	enabled := reg.Enabled()
	if len(enabled) != 1 || enabled[0].ID != "queue" {
		t.Fatalf("expected only queue enabled, got %#v", enabled)
	}
	sqsCfg := enabled[0].SQS
	if sqsCfg.Region != "us-east-1" || sqsCfg.MaxMessages != sqsDefaultMaxMessages || sqsCfg.WaitSeconds != sqsDefaultWaitSeconds {
		t.Fatalf("unexpected sqs config %#v", sqsCfg)
	}
}

func TestValidateSourceConfig(t *testing.T) {
	cases := []SourceConfig{
		{Type: TypeFile, File: &FileSourceConfig{Path: "x"}},
		{ID: "a"},
		{ID: "a", Type: "kafka"},
		{ID: "a", Type: TypeSQS, SQS: &SQSSourceConfig{QueueURL: "q"}},
		{ID: "a", Type: TypePubSub, PubSub: &PubSubSourceConfig{ProjectID: "p"}},
		{ID: "a", Type: TypeFile},
	}
	for i, cfg := range cases {
		if err := validateSourceConfig(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

type fakeSQS struct {
	mu       sync.Mutex
	batches  [][]types.Message
	deleted  []string
	cancel   context.CancelFunc
	received int
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.received >= len(f.batches) {
		f.cancel()
		return nil, ctx.Err()
	}
	out := &sqs.ReceiveMessageOutput{Messages: f.batches[f.received]}
	f.received++
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSSourceDeletesOnlyHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeSQS{
		cancel: cancel,
		batches: [][]types.Message{{
			{MessageId: aws.String("m1"), ReceiptHandle: aws.String("r1"), Body: aws.String(`{"type":"member_join","guild_id":"g","user_id":"ok"}`)},
			{MessageId: aws.String("m2"), ReceiptHandle: aws.String("r2"), Body: aws.String(`{"type":"member_join","guild_id":"g","user_id":"fail"}`)},
			{MessageId: aws.String("m3"), ReceiptHandle: aws.String("r3"), Body: aws.String(`garbage`)},
		}},
	}
	src := &sqsSource{id: "q", queueURL: "https://queue", client: fake, log: noopLogger{}}

	var handled []string
	err := src.Run(ctx, func(_ context.Context, evt domain.Event) error {
		handled = append(handled, evt.ID)
		if evt.UserID == "fail" {
			return errors.New("shield unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(handled, ",") != "m1,m2" {
		t.Fatalf("handled = %v", handled)
	}
	if strings.Join(fake.deleted, ",") != "r1" {
		t.Fatalf("deleted = %v", fake.deleted)
	}
}

func TestFileSourceReplaysLines(t *testing.T) {
	content := strings.Join([]string{
		`# recorded gateway events`,
		`{"id":"e1","type":"member_join","guild_id":"g","user_id":"u1"}`,
		``,
		`not json`,
		`{"type":"member_kick","guild_id":"g","user_id":"u2","moderator_id":"m"}`,
	}, "\n")
	src := &fileSource{
		id:   "replay",
		path: "mem",
		open: func(string) (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
		log:  noopLogger{},
	}

	var ids []string
	if err := src.Run(context.Background(), func(_ context.Context, evt domain.Event) error {
		ids = append(ids, evt.ID)
		return nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(ids, ",") != "e1," {
		t.Fatalf("ids = %v", ids)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src, err := newFileSource(context.Background(), SourceConfig{ID: "f", Type: TypeFile, File: &FileSourceConfig{Path: filepath.Join(t.TempDir(), "missing.jsonl")}}, nil)
	if err != nil {
		t.Fatalf("newFileSource: %v", err)
	}
	if err := src.Run(context.Background(), func(context.Context, domain.Event) error { return nil }); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestPubSubSourceAcksHandledMessages(t *testing.T) {
	server := pstest.NewServer()
	defer server.Close()
	t.Setenv("PUBSUB_EMULATOR_HOST", server.Addr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	admin, err := pubsub.NewClient(ctx, "test-project")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	defer admin.Close()
	topic, err := admin.CreateTopic(ctx, "guild-events")
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	if _, err := admin.CreateSubscription(ctx, "guard", pubsub.SubscriptionConfig{Topic: topic}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if _, err := topic.Publish(ctx, &pubsub.Message{Data: []byte(`{"id":"e1","type":"member_join","guild_id":"g","user_id":"u1"}`)}).Get(ctx); err != nil {
		t.Fatalf("publish: %v", err)
	}
	topic.Stop()

	src, err := newPubSubSource(ctx, SourceConfig{
		ID:     "ps",
		Type:   TypePubSub,
		PubSub: &PubSubSourceConfig{ProjectID: "test-project", Subscription: "guard"},
	}, nil)
	if err != nil {
		t.Fatalf("newPubSubSource: %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	var got domain.Event
	err = src.Run(runCtx, func(_ context.Context, evt domain.Event) error {
		got = evt
		stop()
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.ID != "e1" || got.UserID != "u1" {
		t.Fatalf("unexpected event %#v", got)
	}
}
