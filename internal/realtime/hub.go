// Package realtime carries change events over websockets: Hub streams a
// backend's events to connected clients and Client feeds them into a local
// bus.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultWriteTimeout      = 10 * time.Second
)

var (
	errMissingSource = errors.New("event source is required")
	noOpLogger       = zap.NewNop()
)

// HubConfig configures a Hub.
type HubConfig struct {
	Source            events.Source
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	OriginPatterns    []string
}

// Hub upgrades requests to websockets and writes one envelope per event,
// in publication order, until the peer leaves.
type Hub struct {
	source    events.Source
	logger    *zap.Logger
	heartbeat time.Duration
	timeout   time.Duration
	origins   []string
}

// NewHub validates cfg and returns a hub.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	origins := cfg.OriginPatterns
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Hub{source: cfg.Source, logger: logger, heartbeat: heartbeat, timeout: timeout, origins: origins}, nil
}

// ServeHTTP streams events to one websocket subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("realtime websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Clients never send data frames; CloseRead still answers pings and
	// cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())
	stream, cleanup := h.source.Subscribe(ctx)
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("realtime subscriber connected", zap.String("remote_addr", r.RemoteAddr))
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := h.ping(ctx, conn); err != nil {
				h.logger.Debug("realtime heartbeat failed", zap.Error(err))
				return
			}
		case event, ok := <-stream:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "")
				return
			}
			if err := h.write(ctx, conn, event); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Warn("realtime write failed",
						zap.String("event_id", event.ID),
						zap.Error(err),
					)
				}
				return
			}
		}
	}
}

func (h *Hub) ping(ctx context.Context, conn *websocket.Conn) error {
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return conn.Ping(pingCtx)
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, event events.ChangeEvent) error {
	envelope, err := events.NewEnvelope(event)
	if err != nil {
		h.logger.Error("realtime envelope encoding failed", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, envelope)
}
