// Package workspace drives workspace actions through the pull/action
// protocol and keeps the navigator tree in step with the server.
package workspace

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fruitsalade/navigator/internal/events"
	"github.com/fruitsalade/navigator/internal/journal"
	"github.com/fruitsalade/navigator/pkg/models"
	"github.com/fruitsalade/navigator/pkg/protocol"
	"github.com/fruitsalade/navigator/pkg/pullaction"
	"github.com/fruitsalade/navigator/pkg/tree"
)

// Transport is the server API a workspace needs. *client.Client implements it.
type Transport interface {
	pullaction.Transport
	Rename(ctx context.Context, path, newPath string) (*protocol.ActionResponse, error)
	Copy(ctx context.Context, path, newPath string) (*protocol.ActionResponse, error)
	Delete(ctx context.Context, path string) (*protocol.ActionResponse, error)
	Create(ctx context.Context, path string, typ models.ElementType) (*protocol.ActionResponse, error)
	FetchElements(ctx context.Context) (*models.Element, error)
	FetchMarkers(ctx context.Context) (protocol.MarkersResponse, error)
}

// Recorder stores finished actions.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithJournal records every finished action in r.
func WithJournal(r Recorder) Option {
	return func(w *Workspace) { w.journal = r }
}

// WithLogger sets the workspace logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// WithMetrics supplies a protocol observer per action name.
func WithMetrics(observer func(action string) pullaction.Observer) Option {
	return func(w *Workspace) { w.observer = observer }
}

// WithDirty supplies the locally modified paths sent with every pull.
func WithDirty(dirty func() []string) Option {
	return func(w *Workspace) { w.dirty = dirty }
}

// WithEvents publishes tree changes to b.
func WithEvents(b *events.Broadcaster) Option {
	return func(w *Workspace) { w.events = b }
}

// WithDialer overrides how the transport handle is acquired, e.g. to check
// reachability or refresh a token first.
func WithDialer(dial func(ctx context.Context) (Transport, error)) Option {
	return func(w *Workspace) { w.dial = dial }
}

// WithTreeOptions sets the options used when Load rebuilds the tree.
func WithTreeOptions(opts ...tree.Option) Option {
	return func(w *Workspace) { w.treeOpts = opts }
}

// Workspace owns the tree and serializes every change applied to it.
type Workspace struct {
	transport Transport
	dial      func(ctx context.Context) (Transport, error)
	connect   singleflight.Group

	mu   sync.Mutex
	tree *tree.Tree

	treeOpts []tree.Option
	journal  Recorder
	observer func(action string) pullaction.Observer
	dirty    func() []string
	events   *events.Broadcaster
	logger   *zap.Logger
}

// New creates a workspace over t. A nil tree starts empty until Load.
func New(transport Transport, t *tree.Tree, opts ...Option) *Workspace {
	w := &Workspace{
		transport: transport,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if t == nil {
		t = tree.New(nil, w.treeOpts...)
	}
	w.tree = t
	if w.dial == nil {
		w.dial = func(context.Context) (Transport, error) { return w.transport, nil }
	}
	return w
}

// View runs fn with exclusive access to the tree.
func (w *Workspace) View(fn func(t *tree.Tree)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(w.tree)
}

// dialer acquires the transport once for all protocols started concurrently.
func (w *Workspace) dialer(ctx context.Context) (Transport, error) {
	v, err, _ := w.connect.Do("transport", func() (any, error) {
		return w.dial(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Transport), nil
}

// Load fetches the element graph and the marker totals and replaces the
// tree. Activities already registered are kept.
func (w *Workspace) Load(ctx context.Context) error {
	var root *models.Element
	var markers protocol.MarkersResponse

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		root, err = w.transport.FetchElements(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		markers, err = w.transport.FetchMarkers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}

	t := tree.New(root, w.treeOpts...)
	w.mu.Lock()
	t.ReplaceActivities(w.tree.AllActivities())
	w.tree = t
	missing := t.ApplyMarkers(convertMarkers(markers))
	w.mu.Unlock()

	w.logger.Info("workspace loaded",
		zap.Int("markers", len(markers)),
		zap.Int("unknown_markers", len(missing)),
	)
	w.publish(events.Event{Type: events.EventLoaded, Path: tree.RootPath})
	return nil
}

func convertMarkers(m protocol.MarkersResponse) map[string]tree.Counter {
	out := make(map[string]tree.Counter, len(m))
	for p, c := range m {
		out[p] = tree.CounterFrom(c)
	}
	return out
}

// ApplyMarkers assigns the given file counters and returns how many were
// applied and which paths are unknown to the tree.
func (w *Workspace) ApplyMarkers(m protocol.MarkersResponse) (int, []string) {
	w.mu.Lock()
	missing := w.tree.ApplyMarkers(convertMarkers(m))
	w.mu.Unlock()

	applied := len(m) - len(missing)
	w.publish(events.Event{
		Type:    events.EventMarkers,
		Detail:  fmt.Sprintf("%d applied", applied),
		Count:   applied,
		Unknown: len(missing),
	})
	return applied, missing
}

// ApplyActivities replaces the activity registry with a server snapshot
// and returns the number of elements with activity.
func (w *Workspace) ApplyActivities(items []protocol.ElementActivities) int {
	c := tree.FromElementActivities(items)
	w.mu.Lock()
	w.tree.ReplaceActivities(c)
	w.mu.Unlock()

	w.publish(events.Event{Type: events.EventActivities, Detail: fmt.Sprintf("%d elements", c.Len()), Count: c.Len()})
	return c.Len()
}

// Follow applies marker and activity updates until ctx is done or both
// channels are closed.
func (w *Workspace) Follow(ctx context.Context, markers <-chan protocol.MarkersResponse, activities <-chan []protocol.ElementActivities) error {
	for markers != nil || activities != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-markers:
			if !ok {
				markers = nil
				continue
			}
			if _, missing := w.ApplyMarkers(m); len(missing) > 0 {
				w.logger.Debug("markers for unknown paths", zap.Strings("paths", missing))
			}
		case a, ok := <-activities:
			if !ok {
				activities = nil
				continue
			}
			w.ApplyActivities(a)
		}
	}
	return nil
}

func (w *Workspace) publish(e events.Event) {
	if w.events != nil {
		w.events.Publish(e)
	}
}
