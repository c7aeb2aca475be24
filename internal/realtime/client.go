package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
)

var (
	errMissingURL       = errors.New("realtime url is required")
	errMissingCodec     = errors.New("event codec is required")
	errMissingPublisher = errors.New("event publisher is required")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	URL        string
	Token      string
	Codec      *events.Codec
	Publisher  events.Publisher
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client reads envelopes from a Hub, decodes them and publishes the
// resulting events in arrival order.
type Client struct {
	url        string
	token      string
	codec      *events.Codec
	publisher  events.Publisher
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates cfg and returns a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errMissingURL
	}
	if cfg.Codec == nil {
		return nil, errMissingCodec
	}
	if cfg.Publisher == nil {
		return nil, errMissingPublisher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{
		url:        cfg.URL,
		token:      cfg.Token,
		codec:      cfg.Codec,
		publisher:  cfg.Publisher,
		httpClient: cfg.HTTPClient,
		logger:     logger,
	}, nil
}

// Run connects and forwards events until ctx ends or the connection drops.
// Envelopes that fail to decode are logged and skipped. Reconnecting is the
// caller's concern.
func (c *Client) Run(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPClient: c.httpClient, HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("realtime dial: %w", err)
	}
	defer conn.CloseNow()
	c.logger.Info("realtime connected", zap.String("url", c.url))

	for {
		var envelope events.Envelope
		if err := wsjson.Read(ctx, conn, &envelope); err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("realtime read: %w", err)
		}

		event, err := c.codec.Decode(envelope)
		if err != nil {
			c.logger.Warn("realtime envelope skipped",
				zap.String("event_id", envelope.ID),
				zap.String("entity_type", string(envelope.Type)),
				zap.Error(err),
			)
			continue
		}
		c.publisher.Publish(event)
	}
}
