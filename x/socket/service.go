package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/affinidi/didcomm-mediator/core"
)

var (
	pingInterval      = 10 * time.Second
	disconnectTimeout = 30 * time.Second
)

// Service is the live-delivery connection manager behind spec §4.5's
// websocket endpoint and §4.7's live-delivery-change handler. One
// connection per DID hash; events for a DID ride Redis pub/sub to
// whichever mediator instance currently holds that DID's connection
// open, so delivery works identically whether the publisher and the
// open socket are in the same process or not.
type Service interface {
	// Connect takes ownership of conn for didHash and blocks until the
	// connection closes, a write fails, or the pong deadline lapses.
	Connect(ctx context.Context, didHash string, conn *websocket.Conn)

	// Publish implements mailbox.Publisher.
	Publish(ctx context.Context, didHash string, event core.Event)

	// SetLiveDelivery implements dispatch.LiveDeliveryController.
	SetLiveDelivery(ctx context.Context, didHash string, enabled bool) error
}

type service struct {
	backend pubsubBackend

	mu      sync.RWMutex
	enabled map[string]bool
}

func NewService(rdb *redis.Client) Service {
	return &service{
		backend: newRedisBackend(rdb),
		enabled: make(map[string]bool),
	}
}

func newServiceWithBackend(backend pubsubBackend) *service {
	return &service{backend: backend, enabled: make(map[string]bool)}
}

func (s *service) SetLiveDelivery(ctx context.Context, didHash string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[didHash] = enabled
	return nil
}

// liveDeliveryEnabled defaults open: spec §4.7 only ever turns live
// delivery off explicitly via live-delivery-change, a DID that has
// never sent that message gets live delivery by default.
func (s *service) liveDeliveryEnabled(didHash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok := s.enabled[didHash]
	if !ok {
		return true
	}
	return enabled
}

func (s *service) Publish(ctx context.Context, didHash string, event core.Event) {
	if !s.liveDeliveryEnabled(didHash) {
		return
	}

	frame, err := json.Marshal(liveFrame{Type: event.Type, DIDHash: event.DIDHash, Payload: event.Payload})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal live frame", slog.String("error", err.Error()))
		return
	}

	if err := s.backend.Publish(ctx, liveChannel(didHash), frame); err != nil {
		slog.ErrorContext(ctx, "failed to publish live frame", slog.String("error", err.Error()))
	}
}

func liveChannel(didHash string) string {
	return "live:" + didHash
}

// Connect mirrors the ping/pong liveness loop of the teacher's
// x/timeline/keeper.go remote-relay connection: a ticker sends WebSocket
// pings, a pong handler resets the deadline, and either a read error or
// a pong timeout tears the connection down.
func (s *service) Connect(ctx context.Context, didHash string, conn *websocket.Conn) {
	sub := s.backend.Subscribe(ctx, liveChannel(didHash))
	defer sub.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	lastPong := time.Now()
	conn.SetPongHandler(func(string) error {
		lastPong = time.Now()
		return nil
	})

	for {
		select {
		case <-closed:
			return
		case payload, ok := <-sub.Channel():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.WarnContext(ctx, "live delivery write failed", slog.String("error", err.Error()))
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
			if lastPong.Before(time.Now().Add(-disconnectTimeout)) {
				slog.WarnContext(ctx, "live delivery pong timeout", slog.String("didHash", didHash))
				return
			}
		}
	}
}
