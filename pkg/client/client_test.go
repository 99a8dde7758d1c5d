package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/fruitsalade/navigator/pkg/models"
	"github.com/fruitsalade/navigator/pkg/protocol"
	"github.com/fruitsalade/navigator/pkg/retry"
)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL: ts.URL,
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestPull_Success(t *testing.T) {
	var got protocol.PullRequest
	var reqID string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/workspace/pull" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		reqID = r.Header.Get(RequestIDHeader)
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, protocol.PullResponse{
			DiffExists:        true,
			HeadCommit:        "c0ffee",
			ChangedResources:  []string{"/a.tcl"},
			BackedUpResources: []protocol.BackupEntry{{Resource: "/d.tcl", BackupResource: "/d.tcl.1"}},
		})
	}))
	defer ts.Close()

	resp, err := c.Pull(context.Background(), protocol.PullRequest{
		Resources:      []string{"/a.tcl", "/"},
		DirtyResources: []string{"/d.tcl"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.DiffExists || resp.HeadCommit != "c0ffee" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(resp.BackedUpResources) != 1 || resp.BackedUpResources[0].BackupResource != "/d.tcl.1" {
		t.Errorf("unexpected backups: %+v", resp.BackedUpResources)
	}
	if len(got.Resources) != 2 || got.Resources[0] != "/a.tcl" || got.DirtyResources[0] != "/d.tcl" {
		t.Errorf("unexpected request body: %+v", got)
	}
	if len(reqID) != 36 {
		t.Errorf("expected a uuid request id, got %q", reqID)
	}
}

func TestAction_RepullNotRetried(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		writeJSON(w, http.StatusConflict, protocol.ErrorResponse{Error: protocol.ReasonRepull})
	}))
	defer ts.Close()

	_, err := c.Rename(context.Background(), "/a.tcl", "/b.tcl")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	ae, ok := protocol.AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if !ae.IsRepull() {
		t.Errorf("expected repull, got %+v", ae)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("expected 1 attempt for 409, got %d", n)
	}
}

func TestAction_ConflictMessage(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/workspace/delete" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusConflict, protocol.ErrorResponse{Error: "LOCKED", Message: "locked by bob"})
	}))
	defer ts.Close()

	_, err := c.Delete(context.Background(), "/a.tcl")
	ae, ok := protocol.AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if ae.Message != "locked by bob" || ae.Reason != "LOCKED" || ae.IsRepull() {
		t.Errorf("unexpected error: %+v", ae)
	}
}

func TestServerErrorRetried(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, protocol.ActionResponse{Path: "/new"})
	}))
	defer ts.Close()

	resp, err := c.Create(context.Background(), "/new", models.TypeFolder)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Path != "/new" {
		t.Errorf("expected /new, got %s", resp.Path)
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
	if !c.IsOnline() {
		t.Error("expected client to be online after success")
	}
}

func TestServerErrorExhausted(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: "internal", Message: "disk full"})
	}))
	defer ts.Close()

	_, err := c.Copy(context.Background(), "/a", "/b")
	ae, ok := protocol.AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if ae.Status != http.StatusInternalServerError || ae.Message != "disk full" {
		t.Errorf("unexpected error: %+v", ae)
	}
	if retry.IsRetryable(err) {
		t.Error("retry marker should be stripped")
	}
	if c.IsOnline() {
		t.Error("expected client to be offline")
	}
}

func TestFetchElements_Gzip(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			t.Errorf("expected gzip accept encoding")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		json.NewEncoder(gw).Encode(protocol.ElementsResponse{Root: &models.Element{
			Name: "", Path: "/", Type: models.TypeFolder,
			Children: []*models.Element{{Name: "a.tcl", Path: "/a.tcl", Type: models.TypeFile}},
		}})
		gw.Close()
	}))
	defer ts.Close()

	root, err := c.FetchElements(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(root.Children) != 1 || root.Children[0].Path != "/a.tcl" {
		t.Errorf("unexpected root: %+v", root)
	}
}

func TestFetchMarkers(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, protocol.MarkersResponse{"/a.tcl": {Errors: 2, Infos: 1}})
	}))
	defer ts.Close()

	m, err := c.FetchMarkers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["/a.tcl"].Errors != 2 || m["/a.tcl"].Infos != 1 {
		t.Errorf("unexpected markers: %+v", m)
	}
}

func TestAuthHeader(t *testing.T) {
	var got string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, protocol.MarkersResponse{})
	}))
	defer ts.Close()

	c.SetAuthToken("tok")
	if _, err := c.FetchMarkers(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Bearer tok" {
		t.Errorf("expected bearer header, got %q", got)
	}
}
