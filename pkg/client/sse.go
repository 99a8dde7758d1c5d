package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/navigator/pkg/protocol"
)

// EventMarkers is the SSE event type carrying marker totals.
const EventMarkers = "markers"

// SSEEvent is one Server-Sent Event from the workspace event stream.
type SSEEvent struct {
	Type string
	Data json.RawMessage
}

// EventStream follows /api/v1/workspace/events, reconnecting with backoff.
type EventStream struct {
	client       *Client
	httpClient   *http.Client
	reconnectMin time.Duration
	reconnectMax time.Duration
}

// Events returns an event stream sharing c's server and token.
func (c *Client) Events() *EventStream {
	return &EventStream{
		client:       c,
		httpClient:   &http.Client{Timeout: 0},
		reconnectMin: time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// Subscribe connects to the event endpoint and returns a channel of events.
// Connection errors are reported on the error channel without ending the
// subscription; both channels close when ctx is done.
func (s *EventStream) Subscribe(ctx context.Context) (<-chan SSEEvent, <-chan error) {
	events := make(chan SSEEvent, 100)
	errs := make(chan error, 1)
	go s.subscribeLoop(ctx, events, errs)
	return events, errs
}

// Markers subscribes and decodes the "markers" events, dropping the rest.
func (s *EventStream) Markers(ctx context.Context) <-chan protocol.MarkersResponse {
	out := make(chan protocol.MarkersResponse, 16)
	events, errs := s.Subscribe(ctx)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Type != EventMarkers {
					continue
				}
				var m protocol.MarkersResponse
				if err := json.Unmarshal(ev.Data, &m); err != nil {
					s.client.logger.Warn("malformed markers event", zap.Error(err))
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			case _, ok := <-errs:
				if !ok {
					errs = nil
				}
			}
		}
	}()
	return out
}

func (s *EventStream) subscribeLoop(ctx context.Context, events chan<- SSEEvent, errs chan<- error) {
	defer close(events)
	defer close(errs)

	delay := s.reconnectMin
	for ctx.Err() == nil {
		err := s.connect(ctx, events)
		if ctx.Err() != nil {
			return
		}
		s.client.logger.Warn("event stream disconnected",
			zap.Error(err),
			zap.Duration("reconnect_in", delay),
		)
		select {
		case errs <- err:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.reconnectMax {
			delay = s.reconnectMax
		}
	}
}

func (s *EventStream) connect(ctx context.Context, events chan<- SSEEvent) error {
	url := s.client.baseURL + "/api/v1/workspace/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	s.client.applyAuth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	s.client.logger.Info("event stream connected", zap.String("url", url))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	var eventType string
	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(data) > 0 {
				ev := SSEEvent{Type: eventType, Data: json.RawMessage(strings.Join(data, "\n"))}
				select {
				case events <- ev:
				case <-ctx.Done():
					return nil
				}
			}
			eventType = ""
			data = data[:0]
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed")
}
