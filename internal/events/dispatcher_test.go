package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishInvokesOnlyMatchingHandlers(t *testing.T) {
	bus := NewInMemoryDispatcher()
	var created, updated int
	bus.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		created++
		return nil
	})
	bus.Subscribe(EventTicketUpdated, func(context.Context, Event) error {
		updated++
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventTicketCreated}))

	assert.Equal(t, 1, created)
	assert.Equal(t, 0, updated)
}

func TestPublishHandlerErrorDoesNotAbortOthers(t *testing.T) {
	bus := NewInMemoryDispatcher()
	var reached bool
	bus.Subscribe(EventApprovalRequired, func(context.Context, Event) error {
		return errors.New("handler blew up")
	})
	bus.Subscribe(EventApprovalRequired, func(context.Context, Event) error {
		reached = true
		return nil
	})

	err := bus.Publish(context.Background(), Event{Type: EventApprovalRequired})

	assert.NoError(t, err, "listener failures never surface to the publisher")
	assert.True(t, reached)
}

func TestPublishWithNoSubscribersIsNoOp(t *testing.T) {
	bus := NewInMemoryDispatcher()
	assert.NoError(t, bus.Publish(context.Background(), Event{Type: EventTicketUpdated}))
}
