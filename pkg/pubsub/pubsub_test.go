package pubsub

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mirkobrombin/go-walrus/internal/redistest"
	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/mirkobrombin/go-walrus/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

func collect(out chan<- Message) Handler {
	return func(_ context.Context, msg Message) error {
		out <- msg
		return nil
	}
}

func next(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(wait):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestNew_Validation(t *testing.T) {
	_, rdb := redistest.New(t)
	h := func(context.Context, Message) error { return nil }

	_, err := New(rdb, nil, []string{"a"}, nil)
	assert.True(t, errs.IsUsage(err))

	_, err = New(rdb, h, nil, nil)
	assert.True(t, errs.IsUsage(err))

	_, err = New(nil, h, []string{"a"}, nil)
	assert.True(t, errs.IsUsage(err))

	l, err := New(rdb, h, nil, []string{"a.*"})
	require.NoError(t, err)
	assert.NoError(t, l.Stop(), "stopping an idle listener is a no-op")
}

func TestListener_DeliversInOrder(t *testing.T) {
	_, rdb := redistest.New(t)
	ctx := context.Background()
	got := make(chan Message, 16)

	l, err := New(rdb, collect(got), []string{"news"}, []string{"alerts.*"})
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))
	t.Cleanup(func() { _ = l.Stop() })

	assert.Equal(t, Message{Kind: KindSubscribe, Channel: "news", Count: 1}, next(t, got))
	confirm := next(t, got)
	assert.Equal(t, KindPSubscribe, confirm.Kind)
	assert.Equal(t, "alerts.*", confirm.Channel)

	require.NoError(t, rdb.Publish(ctx, "news", "first").Err())
	require.NoError(t, rdb.Publish(ctx, "alerts.disk", "full").Err())
	require.NoError(t, rdb.Publish(ctx, "news", "second").Err())
	require.NoError(t, rdb.Publish(ctx, "ignored", "x").Err())

	assert.Equal(t, Message{Kind: KindMessage, Channel: "news", Payload: "first"}, next(t, got))
	assert.Equal(t, Message{Kind: KindPMessage, Pattern: "alerts.*", Channel: "alerts.disk", Payload: "full"}, next(t, got))
	assert.Equal(t, Message{Kind: KindMessage, Channel: "news", Payload: "second"}, next(t, got))

	require.NoError(t, l.Stop())
	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.NoError(t, l.Err())
}

func TestListener_StopFromHandler(t *testing.T) {
	_, rdb := redistest.New(t)
	ctx := context.Background()
	subscribed := make(chan struct{})

	var payloads []string
	l, err := New(rdb, func(_ context.Context, msg Message) error {
		switch msg.Kind {
		case KindSubscribe:
			close(subscribed)
		case KindMessage:
			payloads = append(payloads, msg.Payload)
			if msg.Payload == "quit" {
				return ErrStop
			}
		}
		return nil
	}, []string{"ctl"}, nil)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(ctx) }()

	select {
	case <-subscribed:
	case <-time.After(wait):
		t.Fatal("subscription not confirmed")
	}
	require.NoError(t, rdb.Publish(ctx, "ctl", "hello").Err())
	require.NoError(t, rdb.Publish(ctx, "ctl", "quit").Err())

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("Run did not return after ErrStop")
	}
	assert.Equal(t, []string{"hello", "quit"}, payloads)

	assert.ErrorIs(t, l.Run(ctx), ErrAlreadyStarted)
	assert.ErrorIs(t, l.Start(ctx), ErrAlreadyStarted)
}

func TestListener_HandlerFailure(t *testing.T) {
	_, rdb := redistest.New(t)
	ctx := context.Background()
	boom := errors.New("boom")
	subscribed := make(chan struct{})

	l, err := New(rdb, func(_ context.Context, msg Message) error {
		if msg.Kind == KindSubscribe {
			close(subscribed)
			return nil
		}
		return boom
	}, []string{"c"}, nil)
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))

	<-subscribed
	require.NoError(t, rdb.Publish(ctx, "c", "x").Err())

	select {
	case <-l.Done():
	case <-time.After(wait):
		t.Fatal("listener kept running after a handler failure")
	}
	assert.ErrorIs(t, l.Err(), boom)
	assert.ErrorIs(t, l.Stop(), boom)
}

func TestListener_ContextCancel(t *testing.T) {
	_, rdb := redistest.New(t)
	ctx, cancel := context.WithCancel(context.Background())

	l, err := New(rdb, func(context.Context, Message) error { return nil }, []string{"c"}, nil)
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))

	cancel()
	select {
	case <-l.Done():
	case <-time.After(wait):
		t.Fatal("listener ignored cancellation")
	}
	assert.NoError(t, l.Err())
}

func TestListener_SubscribeFailure(t *testing.T) {
	_, rdb := redistest.New(t)
	require.NoError(t, rdb.Close())

	l, err := New(rdb, func(context.Context, Message) error { return nil }, []string{"c"}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Start(context.Background()), redis.ErrClosed)
	<-l.Done()
}

func TestListener_CountsMessages(t *testing.T) {
	_, rdb := redistest.New(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	got := make(chan Message, 4)

	l, err := New(rdb, collect(got), []string{"c"}, nil, WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))
	t.Cleanup(func() { _ = l.Stop() })

	next(t, got)
	require.NoError(t, rdb.Publish(ctx, "c", "x").Err())
	next(t, got)

	expected := `
# HELP walrus_pubsub_messages_total Total number of messages delivered to listener handlers
# TYPE walrus_pubsub_messages_total counter
walrus_pubsub_messages_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "walrus_pubsub_messages_total"))
}
