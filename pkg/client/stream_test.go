package client

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fruitsalade/navigator/pkg/protocol"
)

func TestMarkerStream(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/workspace/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: activity\ndata: {}\n\n")
		fmt.Fprint(w, "event: markers\ndata: {\"/a.tcl\": {\"errors\": 3}}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	select {
	case m := <-c.Events().Markers(ctx):
		if m["/a.tcl"].Errors != 3 {
			t.Errorf("unexpected markers: %+v", m)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for markers")
	}
}

func TestActivityFeed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/workspace/activities" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteJSON([]protocol.ElementActivities{{
			Element:    "/a.tcl",
			Activities: []protocol.UserActivity{{User: "alice", Type: "editing"}},
		}})
		conn.ReadMessage()
	}))
	defer ts.Close()
	c.SetAuthToken("tok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	select {
	case snap := <-c.Activities().Subscribe(ctx):
		if len(snap) != 1 || snap[0].Element != "/a.tcl" || snap[0].Activities[0].User != "alice" {
			t.Errorf("unexpected snapshot: %+v", snap)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for activities")
	}
}

func TestActivityFeedURL(t *testing.T) {
	for in, want := range map[string]string{
		"http://host:8080": "ws://host:8080/api/v1/workspace/activities",
		"https://host":     "wss://host/api/v1/workspace/activities",
	} {
		f := New(Config{BaseURL: in}).Activities()
		if got := f.url(); got != want {
			t.Errorf("url(%s) = %s, want %s", in, got, want)
		}
	}
}
