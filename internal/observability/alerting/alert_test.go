package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "StakePilot-Chain/internal/errors"
)

type stubDingTalkSender struct {
	payloads []string
	err      error
}

func (s *stubDingTalkSender) Send(_ context.Context, content string) error {
	s.payloads = append(s.payloads, content)
	return s.err
}

type stubSlackSender struct {
	channel string
	content string
}

func (s *stubSlackSender) Send(_ context.Context, channel, content string) error {
	s.channel = channel
	s.content = content
	return nil
}

func TestFanoutNotifiesAllChannels(t *testing.T) {
	ding := &stubDingTalkSender{}
	slack := &stubSlackSender{}
	dispatcher := NewFanout(
		&DingTalkNotifier{Sender: ding},
		&SlackNotifier{Sender: slack, ChannelID: "C123"},
	)

	event := Event{
		Code:       xerrors.CodeSubmissionFailure,
		Message:    "交易 tx-1 提交失败",
		Severity:   xerrors.SeverityCritical,
		RunID:      "run-1",
		TxID:       "tx-1",
		OccurredAt: time.Now(),
	}
	if err := dispatcher.Notify(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ding.payloads) != 1 {
		t.Fatalf("expected one dingtalk payload, got %d", len(ding.payloads))
	}
	if slack.channel != "C123" || slack.content == "" {
		t.Fatalf("slack notifier not invoked: %q %q", slack.channel, slack.content)
	}
}

func TestFanoutCollectsNotifierErrors(t *testing.T) {
	sendErr := errors.New("webhook down")
	dispatcher := NewFanout(&DingTalkNotifier{Sender: &stubDingTalkSender{err: sendErr}})

	err := dispatcher.Notify(context.Background(), Event{Code: xerrors.CodeStatusUnknown})
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected wrapped sender error, got %v", err)
	}
}

func TestUnconfiguredNotifierIsNoop(t *testing.T) {
	dispatcher := NewFanout(&SlackNotifier{})
	if err := dispatcher.Notify(context.Background(), Event{Code: xerrors.CodeTimeout}); err != nil {
		t.Fatalf("unconfigured notifier must not fail the dispatch: %v", err)
	}
}
