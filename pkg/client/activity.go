package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fruitsalade/navigator/pkg/protocol"
)

// ActivityFeed streams collaborator activity snapshots over a websocket at
// /api/v1/workspace/activities. Each message replaces the previous snapshot.
type ActivityFeed struct {
	client       *Client
	dialer       *websocket.Dialer
	reconnectMin time.Duration
	reconnectMax time.Duration
}

// Activities returns an activity feed sharing c's server and token.
func (c *Client) Activities() *ActivityFeed {
	return &ActivityFeed{
		client:       c,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnectMin: time.Second,
		reconnectMax: 30 * time.Second,
	}
}

func (f *ActivityFeed) url() string {
	u := f.client.baseURL + "/api/v1/workspace/activities"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Subscribe returns a channel of snapshots. The feed reconnects with
// backoff until ctx is done, then closes the channel.
func (f *ActivityFeed) Subscribe(ctx context.Context) <-chan []protocol.ElementActivities {
	out := make(chan []protocol.ElementActivities, 8)
	go func() {
		defer close(out)
		delay := f.reconnectMin
		for ctx.Err() == nil {
			connected, err := f.run(ctx, out)
			if ctx.Err() != nil {
				return
			}
			if connected {
				delay = f.reconnectMin
			}
			f.client.logger.Warn("activity feed disconnected",
				zap.Error(err),
				zap.Duration("reconnect_in", delay),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > f.reconnectMax {
				delay = f.reconnectMax
			}
		}
	}()
	return out
}

// run reads snapshots from one connection until it fails.
func (f *ActivityFeed) run(ctx context.Context, out chan<- []protocol.ElementActivities) (bool, error) {
	header := http.Header{}
	if t := f.client.token(); t != "" {
		header.Set("Authorization", "Bearer "+t)
	}
	conn, _, err := f.dialer.DialContext(ctx, f.url(), header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	f.client.logger.Info("activity feed connected", zap.String("url", f.url()))
	for {
		var snapshot []protocol.ElementActivities
		if err := conn.ReadJSON(&snapshot); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, fmt.Errorf("closed by server: %w", err)
			}
			return true, fmt.Errorf("read: %w", err)
		}
		select {
		case out <- snapshot:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
