package dispatch

import (
	"context"
	"testing"
	"time"

	"outreachd/internal/account"
	"outreachd/internal/eventbus"
	"outreachd/internal/transport"
	logx "outreachd/pkg/logx"
)

func TestInboundPollerPublishesReplies(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	received := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := &fakeTransport{inbound: map[string][]transport.Inbound{
		"acct-a": {{Recipient: "alice", Body: "sounds good", ReceivedAt: received}},
	}}
	pool := newTestPool(t, fastLimits(), nil, account.Config{Name: "acct-a", Secret: "s"})

	p := NewInbound(InboundConfig{
		Enabled:      true,
		Interval:     2 * time.Millisecond,
		FetchTimeout: time.Second,
	}, pool, tr, logx.Nop(), bus)

	p.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.Stop(ctx)
	})

	select {
	case e := <-events:
		if e.Topic != eventbus.TopicReply {
			t.Fatalf("topic = %s, want %s", e.Topic, eventbus.TopicReply)
		}
		r, ok := e.Data.(ReplyEvent)
		if !ok {
			t.Fatalf("data type %T", e.Data)
		}
		if r.Account != "acct-a" || r.From != "alice" || r.Body != "sounds good" || !r.ReceivedAt.Equal(received) {
			t.Fatalf("reply = %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reply event")
	}
}

func TestInboundPollerDisabled(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	pool := newTestPool(t, fastLimits(), nil, account.Config{Name: "a", Secret: "s"})
	p := NewInbound(InboundConfig{Enabled: false}, pool, tr, logx.Nop(), nil)

	p.Start(context.Background())
	// Stop on a never-started poller is a no-op.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Stop(ctx)
}
