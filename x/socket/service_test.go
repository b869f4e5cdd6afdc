package socket

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affinidi/didcomm-mediator/core"
)

type fakeBackendPublish struct {
	channel string
	payload []byte
}

type fakeBackend struct {
	published []fakeBackendPublish
}

func (f *fakeBackend) Publish(ctx context.Context, channel string, payload []byte) error {
	f.published = append(f.published, fakeBackendPublish{channel: channel, payload: payload})
	return nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, channel string) subscription {
	return &fakeSubscription{ch: make(chan []byte)}
}

type fakeSubscription struct {
	ch chan []byte
}

func (f *fakeSubscription) Channel() <-chan []byte { return f.ch }
func (f *fakeSubscription) Close() error           { close(f.ch); return nil }

func TestPublishDefaultsToLiveDeliveryEnabled(t *testing.T) {
	backend := &fakeBackend{}
	s := newServiceWithBackend(backend)

	s.Publish(context.Background(), "alice-hash", core.Event{DIDHash: "alice-hash", Type: "message", Payload: "hello"})

	require.Len(t, backend.published, 1)
	assert.Equal(t, "live:alice-hash", backend.published[0].channel)

	var frame liveFrame
	require.NoError(t, json.Unmarshal(backend.published[0].payload, &frame))
	assert.Equal(t, "message", frame.Type)
	assert.Equal(t, "hello", frame.Payload)
}

func TestPublishSkippedWhenLiveDeliveryDisabled(t *testing.T) {
	backend := &fakeBackend{}
	s := newServiceWithBackend(backend)
	ctx := context.Background()

	require.NoError(t, s.SetLiveDelivery(ctx, "alice-hash", false))
	s.Publish(ctx, "alice-hash", core.Event{DIDHash: "alice-hash", Type: "message", Payload: "hello"})

	assert.Empty(t, backend.published)
}

func TestSetLiveDeliveryReenable(t *testing.T) {
	backend := &fakeBackend{}
	s := newServiceWithBackend(backend)
	ctx := context.Background()

	require.NoError(t, s.SetLiveDelivery(ctx, "alice-hash", false))
	require.NoError(t, s.SetLiveDelivery(ctx, "alice-hash", true))
	s.Publish(ctx, "alice-hash", core.Event{DIDHash: "alice-hash", Type: "message", Payload: "hello"})

	assert.Len(t, backend.published, 1)
}
