package mail

import (
	"context"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDispatcher(gateway Gateway, sleeper Sleeper) *Dispatcher {
	transport := NewTransportWithSleeper(gateway, testPolicy(), sleeper, zap.NewNop())
	return NewDispatcherWithSleeper(transport, time.Second, sleeper, zap.NewNop())
}

// routingGateway returns a distinct handle behavior per recipient.
type routingGateway struct {
	failFor map[string]bool
	sent    []Message
}

type routingHandle struct {
	gw *routingGateway
}

func (g *routingGateway) Connect(context.Context) (Handle, error) {
	return &routingHandle{gw: g}, nil
}

func (h *routingHandle) Send(_ context.Context, msg Message) error {
	if h.gw.failFor[msg.To] {
		return syscall.ECONNRESET
	}
	h.gw.sent = append(h.gw.sent, msg)
	return nil
}

func (h *routingHandle) Close() error { return nil }

func TestNewJobDeduplicatesCC(t *testing.T) {
	job := NewJob("a@x.com", []string{"a@x.com", "b@x.com", "b@x.com", "", "c@x.com"}, "s", "b")
	assert.Equal(t, []string{"b@x.com", "c@x.com"}, job.CC)
}

func TestNewJobKeepsCaseSensitiveDistinct(t *testing.T) {
	// equality is an exact string match, no normalization
	job := NewJob("a@x.com", []string{"A@X.COM"}, "s", "b")
	assert.Equal(t, []string{"A@X.COM"}, job.CC)
}

func TestDispatchSkipsCCEqualToPrimary(t *testing.T) {
	gateway := &routingGateway{}
	dispatcher := newTestDispatcher(gateway, &fakeSleeper{})

	job := Job{Primary: "a@x.com", CC: []string{"a@x.com", "b@x.com"}, Subject: "hello", Body: "<p>hi</p>"}
	result := dispatcher.Dispatch(context.Background(), job)

	require.Len(t, gateway.sent, 2)
	assert.Equal(t, "a@x.com", gateway.sent[0].To)
	assert.Equal(t, "b@x.com", gateway.sent[1].To)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Succeeded)
}

func TestDispatchDerivativeCopyAnnotated(t *testing.T) {
	gateway := &routingGateway{}
	dispatcher := newTestDispatcher(gateway, &fakeSleeper{})

	job := NewJob("primary@x.com", []string{"cc@x.com"}, "Ticket update", "<p>body</p>")
	result := dispatcher.Dispatch(context.Background(), job)

	require.Equal(t, 2, result.Total)
	primaryMsg, ccMsg := gateway.sent[0], gateway.sent[1]
	assert.Equal(t, "Ticket update", primaryMsg.Subject)
	assert.Equal(t, "[COPY] Ticket update", ccMsg.Subject)
	assert.Contains(t, ccMsg.Body, "copy of a notification sent to primary@x.com")
	assert.False(t, strings.Contains(primaryMsg.Body, "copy of a notification"))

	require.Len(t, result.Recipients, 2)
	assert.False(t, result.Recipients[0].Copy)
	assert.True(t, result.Recipients[1].Copy)
}

func TestDispatchPrimaryFailureDoesNotCancelCC(t *testing.T) {
	gateway := &routingGateway{failFor: map[string]bool{"primary@x.com": true}}
	dispatcher := newTestDispatcher(gateway, &fakeSleeper{})

	job := NewJob("primary@x.com", []string{"cc@x.com"}, "s", "b")
	result := dispatcher.Dispatch(context.Background(), job)

	assert.True(t, result.Success(), "one reached recipient makes the dispatch minimally useful")
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	assert.False(t, result.Recipients[0].Success)
	assert.Equal(t, FailureReset, result.Recipients[0].Category)
	assert.NotEmpty(t, result.Recipients[0].Detail)
	assert.True(t, result.Recipients[1].Success)
}

func TestDispatchAllRecipientsFail(t *testing.T) {
	gateway := &routingGateway{failFor: map[string]bool{"a@x.com": true, "b@x.com": true}}
	dispatcher := newTestDispatcher(gateway, &fakeSleeper{})

	result := dispatcher.Dispatch(context.Background(), NewJob("a@x.com", []string{"b@x.com"}, "s", "b"))

	assert.False(t, result.Success())
	assert.Equal(t, 2, result.Failed)
}

func TestDispatchInterSendDelayBetweenCCSends(t *testing.T) {
	gateway := &routingGateway{}
	sleeper := &fakeSleeper{}
	dispatcher := newTestDispatcher(gateway, sleeper)

	job := NewJob("a@x.com", []string{"b@x.com", "c@x.com"}, "s", "b")
	dispatcher.Dispatch(context.Background(), job)

	// one pause before each CC send, none before the primary
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.waits)
}

type panickyGateway struct{}

func (panickyGateway) Connect(context.Context) (Handle, error) { panic("gateway wiring broken") }

func TestDispatchAbsorbsPanics(t *testing.T) {
	dispatcher := newTestDispatcher(panickyGateway{}, &fakeSleeper{})

	result := dispatcher.Dispatch(context.Background(), NewJob("a@x.com", nil, "s", "b"))

	assert.False(t, result.Success())
	require.NotEmpty(t, result.Recipients)
	last := result.Recipients[len(result.Recipients)-1]
	assert.Equal(t, FailureOther, last.Category)
	assert.Contains(t, last.Detail, "dispatch aborted")
}
