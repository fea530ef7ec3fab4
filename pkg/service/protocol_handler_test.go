package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mytimer/mytimer-go/pkg/buffer"
	"github.com/mytimer/mytimer-go/pkg/expiry"
	"github.com/mytimer/mytimer-go/pkg/metrics"
	"github.com/mytimer/mytimer-go/pkg/notify"
	"github.com/mytimer/mytimer-go/pkg/registry"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// testUnit is the protocol second used by tests that let timers fire.
const testUnit = 20 * time.Millisecond

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakePeer records frames sent to the client.
type fakePeer struct {
	id     string
	pid    int
	hasPID bool
	ctx    context.Context
	cancel context.CancelFunc
	sent   chan []byte
}

func newFakePeer(id string) *fakePeer {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakePeer{id: id, ctx: ctx, cancel: cancel, sent: make(chan []byte, 16)}
}

func (p *fakePeer) ConnID() string           { return p.id }
func (p *fakePeer) PeerPID() (int, bool)     { return p.pid, p.hasPID }
func (p *fakePeer) Context() context.Context { return p.ctx }

func (p *fakePeer) Send(data []byte) error {
	select {
	case <-p.ctx.Done():
		return errors.New("peer closed")
	default:
	}
	p.sent <- data
	return nil
}

func (p *fakePeer) nextNotification(t *testing.T) *wire.Notification {
	t.Helper()
	select {
	case data := <-p.sent:
		notif, err := wire.DecodeNotification(data)
		require.NoError(t, err)
		return notif
	case <-time.After(2 * time.Second):
		t.Fatal("no notification sent")
		return nil
	}
}

func (p *fakePeer) assertNothingSent(t *testing.T) {
	t.Helper()
	select {
	case data := <-p.sent:
		t.Fatalf("unexpected frame %x", data)
	case <-time.After(5 * testUnit):
	}
}

type handlerFixture struct {
	handler  *ProtocolHandler
	registry *registry.Registry
	channel  *notify.Channel
	metrics  *metrics.Metrics
}

func newHandlerFixture(t *testing.T, capacity int) *handlerFixture {
	t.Helper()

	m := metrics.New()
	engine := expiry.NewEngine()
	channel := notify.NewChannel()
	reg := registry.New(engine, &meteredNotifier{channel: channel, metrics: m}, registry.Config{
		Capacity: capacity,
		Second:   testUnit,
		Logger:   discardLogger(),
		Metrics:  m,
	})
	engine.OnFire(reg.Fire)

	h := NewProtocolHandler(buffer.New(0), reg, channel)
	h.SetMetrics(m)

	t.Cleanup(func() { teardown(engine, reg, channel) })
	return &handlerFixture{handler: h, registry: reg, channel: channel, metrics: m}
}

func writeRequest(t *testing.T, id uint32, cmd string) *wire.Request {
	t.Helper()
	req, err := wire.NewRequest(id, wire.OpWrite, &wire.WritePayload{
		Command:   []byte(cmd),
		OwnerName: "ktimer",
		OwnerID:   77,
	})
	require.NoError(t, err)
	return req
}

func writeResult(t *testing.T, resp *wire.Response) wire.WriteResult {
	t.Helper()
	require.NoError(t, resp.Err())
	var res wire.WriteResult
	require.NoError(t, resp.DecodePayload(&res))
	return res
}

func TestHandleWriteCommands(t *testing.T) {
	f := newHandlerFixture(t, 1)
	sess := NewSession(newFakePeer("c1"), f.channel)

	res := writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 1, "-s 10 tea")))
	assert.Equal(t, wire.WriteCreated, res.Outcome)
	assert.Equal(t, uint32(1), res.LiveTimers)

	res = writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 2, "-s 5 tea")))
	assert.Equal(t, wire.WriteUpdated, res.Outcome)

	resp := f.handler.HandleRequest(sess, writeRequest(t, 3, "-s 5 coffee"))
	assert.Equal(t, uint32(3), resp.MessageID)
	assert.Equal(t, wire.StatusCapacityExceeded, resp.Status)

	res = writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 4, "-m 3")))
	assert.Equal(t, wire.WriteApplied, res.Outcome)
	assert.Equal(t, uint32(3), res.Count)
	assert.Equal(t, 3, f.registry.Capacity())

	resp = f.handler.HandleRequest(sess, writeRequest(t, 5, "-m 0"))
	assert.Equal(t, wire.StatusCapacityShrinkRejected, resp.Status)
	assert.Equal(t, 3, f.registry.Capacity())

	res = writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 6, "-r")))
	assert.Equal(t, wire.WriteCancelled, res.Outcome)
	assert.Equal(t, uint32(1), res.Count)
	assert.Equal(t, 0, f.registry.Count())

	res = writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 7, "hello")))
	assert.Equal(t, wire.WriteIgnored, res.Outcome)

	expected := `
# HELP mytimer_commands_total Control commands dispatched by kind.
# TYPE mytimer_commands_total counter
mytimer_commands_total{kind="CANCEL_ALL"} 1
mytimer_commands_total{kind="REGISTER"} 3
mytimer_commands_total{kind="SET_CAPACITY"} 2
mytimer_commands_total{kind="UNKNOWN"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected),
		"mytimer_commands_total"))
}

func TestHandleWriteRecordsOwner(t *testing.T) {
	f := newHandlerFixture(t, 1)
	sess := NewSession(newFakePeer("c1"), f.channel)

	writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 1, "-s 10 tea")))

	info, ok := f.registry.Lookup("tea")
	require.True(t, ok)
	assert.Equal(t, 77, info.OwnerID)
	assert.Equal(t, "ktimer", info.OwnerName)
}

func TestHandleWriteKernelPIDWins(t *testing.T) {
	f := newHandlerFixture(t, 1)
	peer := newFakePeer("c1")
	peer.pid, peer.hasPID = 4242, true
	sess := NewSession(peer, f.channel)

	writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 1, "-s 10 tea")))

	info, ok := f.registry.Lookup("tea")
	require.True(t, ok)
	assert.Equal(t, 4242, info.OwnerID)
}

func TestHandleWriteTooLarge(t *testing.T) {
	f := newHandlerFixture(t, 1)
	sess := NewSession(newFakePeer("c1"), f.channel)

	cmd := "-s 1 " + strings.Repeat("x", buffer.DefaultCapacity)
	resp := f.handler.HandleRequest(sess, writeRequest(t, 9, cmd))

	assert.Equal(t, wire.StatusTooLarge, resp.Status)
	var se *wire.StatusError
	require.ErrorAs(t, resp.Err(), &se)
	assert.Contains(t, se.Message, buffer.ErrTooLarge.Error())
	assert.Equal(t, 0, f.registry.Count())

	expected := `
# HELP mytimer_oversize_commands_total Commands rejected for exceeding the control buffer.
# TYPE mytimer_oversize_commands_total counter
mytimer_oversize_commands_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected),
		"mytimer_oversize_commands_total"))
}

func TestHandleWriteInvalidPayload(t *testing.T) {
	f := newHandlerFixture(t, 1)
	sess := NewSession(newFakePeer("c1"), f.channel)

	resp := f.handler.HandleRequest(sess, &wire.Request{MessageID: 1, Operation: wire.OpWrite})
	assert.Equal(t, wire.StatusInvalidRequest, resp.Status)

	resp = f.handler.HandleRequest(sess, &wire.Request{MessageID: 2, Operation: wire.OpWrite, Payload: []byte{0x01}})
	assert.Equal(t, wire.StatusInvalidRequest, resp.Status)
}

func TestHandleUnsupportedOperation(t *testing.T) {
	f := newHandlerFixture(t, 1)
	sess := NewSession(newFakePeer("c1"), f.channel)

	resp := f.handler.HandleRequest(sess, &wire.Request{MessageID: 1, Operation: wire.Operation(99)})
	assert.Equal(t, wire.StatusInvalidRequest, resp.Status)
}

func TestHandleRead(t *testing.T) {
	f := newHandlerFixture(t, 2)
	sess := NewSession(newFakePeer("c1"), f.channel)

	writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 1, "-s 100 tea")))
	writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 2, "-s 200 coffee <hot>")))

	req, _ := wire.NewRequest(3, wire.OpRead, nil)
	resp := f.handler.HandleRequest(sess, req)
	require.NoError(t, resp.Err())

	var res wire.ReadResult
	require.NoError(t, resp.DecodePayload(&res))
	assert.Equal(t, uint32(2), res.Capacity)
	require.Len(t, res.Timers, 2)
	assert.Equal(t, "tea", res.Timers[0].Message)
	assert.Equal(t, "coffee <hot>", res.Timers[1].Message)
	assert.Equal(t, "ktimer", res.Timers[1].OwnerName)
	assert.InDelta(t, 200, float64(res.Timers[1].Seconds), 1)

	// The text form carries the same snapshot
	report, err := registry.ParseReport(res.Text)
	require.NoError(t, err)
	pairs := report.Pairs()
	require.Len(t, pairs, 2)
	for i, p := range pairs {
		assert.Equal(t, res.Timers[i].Message, p.Message)
		assert.Equal(t, res.Timers[i].Seconds, p.Seconds)
	}
}

func TestHandleSubscribeForwardsFirings(t *testing.T) {
	f := newHandlerFixture(t, 1)
	peer := newFakePeer("c1")
	sess := NewSession(peer, f.channel)
	t.Cleanup(sess.Close)

	req, _ := wire.NewRequest(1, wire.OpSubscribe, nil)
	resp := f.handler.HandleRequest(sess, req)
	require.NoError(t, resp.Err())
	var sub wire.SubscribeResult
	require.NoError(t, resp.DecodePayload(&sub))
	assert.NotZero(t, sub.WaiterID)
	assert.True(t, sess.Subscribed())
	assert.Equal(t, 1, f.channel.Count())

	// Subscribing twice keeps the same waiter
	resp = f.handler.HandleRequest(sess, req)
	var again wire.SubscribeResult
	require.NoError(t, resp.DecodePayload(&again))
	assert.Equal(t, sub.WaiterID, again.WaiterID)
	assert.Equal(t, 1, f.channel.Count())

	writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 2, "-s 1 tea")))

	notif := peer.nextNotification(t)
	assert.Equal(t, wire.EventFired, notif.Kind)
	assert.Equal(t, "tea", notif.Message)
	assert.NotZero(t, notif.Timestamp)

	// The timer is gone by the time the client is woken
	_, ok := f.registry.Lookup("tea")
	assert.False(t, ok)
}

func TestHandleInvalidUTF8MessageStaysReadable(t *testing.T) {
	f := newHandlerFixture(t, 2)
	peer := newFakePeer("c1")
	sess := NewSession(peer, f.channel)
	t.Cleanup(sess.Close)

	req, _ := wire.NewRequest(1, wire.OpSubscribe, nil)
	require.NoError(t, f.handler.HandleRequest(sess, req).Err())

	res := writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 2, "-s 1 caf\xe9")))
	assert.Equal(t, wire.WriteCreated, res.Outcome)

	// Every client decodes the snapshot off the wire
	req, _ = wire.NewRequest(3, wire.OpRead, nil)
	data, err := wire.EncodeResponse(f.handler.HandleRequest(sess, req))
	require.NoError(t, err)
	resp, err := wire.DecodeResponse(data)
	require.NoError(t, err)
	var read wire.ReadResult
	require.NoError(t, resp.DecodePayload(&read))
	require.Len(t, read.Timers, 1)
	assert.Equal(t, "caf\uFFFD", read.Timers[0].Message)
	assert.Contains(t, read.Text, "caf\uFFFD")

	notif := peer.nextNotification(t)
	assert.Equal(t, wire.EventFired, notif.Kind)
	assert.Equal(t, "caf\uFFFD", notif.Message)
}

func TestHandleSubscribeOwnerReceivesCancel(t *testing.T) {
	f := newHandlerFixture(t, 2)

	ownerPeer := newFakePeer("owner")
	owner := NewSession(ownerPeer, f.channel)
	otherPeer := newFakePeer("other")
	other := NewSession(otherPeer, f.channel)
	t.Cleanup(owner.Close)
	t.Cleanup(other.Close)

	sub, _ := wire.NewRequest(1, wire.OpSubscribe, &wire.SubscribePayload{OwnerID: 77})
	require.NoError(t, f.handler.HandleRequest(owner, sub).Err())
	sub, _ = wire.NewRequest(1, wire.OpSubscribe, &wire.SubscribePayload{OwnerID: 88})
	require.NoError(t, f.handler.HandleRequest(other, sub).Err())

	writeResult(t, f.handler.HandleRequest(owner, writeRequest(t, 2, "-s 100 tea")))
	writeResult(t, f.handler.HandleRequest(other, writeRequest(t, 3, "-r")))

	notif := ownerPeer.nextNotification(t)
	assert.Equal(t, wire.EventCancelled, notif.Kind)
	assert.Equal(t, "tea", notif.Message)
	otherPeer.assertNothingSent(t)
}

func TestHandleUnsubscribe(t *testing.T) {
	f := newHandlerFixture(t, 1)
	peer := newFakePeer("c1")
	sess := NewSession(peer, f.channel)

	sub, _ := wire.NewRequest(1, wire.OpSubscribe, nil)
	require.NoError(t, f.handler.HandleRequest(sess, sub).Err())

	unsub, _ := wire.NewRequest(2, wire.OpUnsubscribe, nil)
	require.NoError(t, f.handler.HandleRequest(sess, unsub).Err())
	assert.False(t, sess.Subscribed())
	assert.Equal(t, 0, f.channel.Count())

	// Unsubscribing again still succeeds
	require.NoError(t, f.handler.HandleRequest(sess, unsub).Err())

	writeResult(t, f.handler.HandleRequest(sess, writeRequest(t, 3, "-s 0 tea")))
	peer.assertNothingSent(t)
}

func TestHandleSubscribeExhausted(t *testing.T) {
	f := newHandlerFixture(t, 1)
	small := notify.NewChannelWithConfig(notify.Config{MaxWaiters: 1})
	t.Cleanup(small.Close)
	h := NewProtocolHandler(buffer.New(0), f.registry, small)

	first := NewSession(newFakePeer("a"), small)
	second := NewSession(newFakePeer("b"), small)
	t.Cleanup(first.Close)

	req, _ := wire.NewRequest(1, wire.OpSubscribe, nil)
	require.NoError(t, h.HandleRequest(first, req).Err())
	assert.Equal(t, wire.StatusResourceExhausted, h.HandleRequest(second, req).Status)
}

func TestSessionClosedRefusesSubscribe(t *testing.T) {
	f := newHandlerFixture(t, 1)
	sess := NewSession(newFakePeer("c1"), f.channel)
	sess.Close()

	req, _ := wire.NewRequest(1, wire.OpSubscribe, nil)
	assert.Equal(t, wire.StatusUnavailable, f.handler.HandleRequest(sess, req).Status)
}

func TestHandleWriteAfterClose(t *testing.T) {
	f := newHandlerFixture(t, 1)
	sess := NewSession(newFakePeer("c1"), f.channel)
	f.registry.Close()

	resp := f.handler.HandleRequest(sess, writeRequest(t, 1, "-s 1 tea"))
	assert.Equal(t, wire.StatusUnavailable, resp.Status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want wire.Status
	}{
		{fmt.Errorf("submit: %w", buffer.ErrTooLarge), wire.StatusTooLarge},
		{registry.ErrCapacityExceeded, wire.StatusCapacityExceeded},
		{registry.ErrCapacityShrinkRejected, wire.StatusCapacityShrinkRejected},
		{registry.ErrEmptyMessage, wire.StatusInvalidRequest},
		{notify.ErrResourceExhausted, wire.StatusResourceExhausted},
		{registry.ErrClosed, wire.StatusUnavailable},
		{fmt.Errorf("arm timer: %w", expiry.ErrStopped), wire.StatusUnavailable},
		{notify.ErrClosed, wire.StatusUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
