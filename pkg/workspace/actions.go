package workspace

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/navigator/internal/events"
	"github.com/fruitsalade/navigator/internal/journal"
	"github.com/fruitsalade/navigator/pkg/models"
	"github.com/fruitsalade/navigator/pkg/protocol"
	"github.com/fruitsalade/navigator/pkg/pullaction"
	"github.com/fruitsalade/navigator/pkg/tree"
)

// ErrNotFound is returned when an action names a path the tree does not know.
var ErrNotFound = errors.New("workspace: path not found")

// Report is the outcome of one action.
type Report struct {
	Action string
	Paths  []string
	State  pullaction.State
	// Err is nil on success, a *pullaction.ConflictError on conflict and the
	// failure cause otherwise.
	Err               error
	ChangedResources  []string
	BackedUpResources []protocol.BackupEntry
	Retries           int
	// ApplyErr is set when the server accepted the action but the local
	// tree could not follow; a Load resynchronizes it.
	ApplyErr error
}

// Succeeded reports whether the server accepted the action.
func (r Report) Succeeded() bool {
	return r.State == pullaction.StateSucceeded
}

// Conflict returns the conflict of a conflicted action.
func (r Report) Conflict() (*pullaction.ConflictError, bool) {
	if r.State != pullaction.StateConflicted {
		return nil, false
	}
	return pullaction.AsConflict(r.Err)
}

type actionFunc = pullaction.Action[Transport, *protocol.ActionResponse]

// Rename renames the element at path to newName in its folder.
func (w *Workspace) Rename(ctx context.Context, path, newName string) (Report, error) {
	if err := w.require(path); err != nil {
		return Report{}, err
	}
	parent := tree.ParentPath(path)
	newPath := tree.BuildChildPath(parent, newName)

	return w.run(ctx, "rename", []string{path, newPath},
		pullaction.Interest{Critical: []string{path, newPath}, NonCritical: []string{parent}},
		func(ctx context.Context, h Transport) (*protocol.ActionResponse, error) {
			return h.Rename(ctx, path, newPath)
		},
		func(t *tree.Tree, _ *protocol.ActionResponse) error {
			n, ok := t.Find(path)
			if !ok {
				return fmt.Errorf("%s: %w", path, ErrNotFound)
			}
			return t.Rename(n, newName)
		})
}

// Copy copies the element at src into the folder dstDir.
func (w *Workspace) Copy(ctx context.Context, src, dstDir string) (Report, error) {
	if err := w.require(src); err != nil {
		return Report{}, err
	}
	if err := w.require(dstDir); err != nil {
		return Report{}, err
	}
	newPath := tree.BuildChildPath(dstDir, tree.BaseName(src))
	nonCritical := []string{tree.ParentPath(src)}
	if dstDir != nonCritical[0] {
		nonCritical = append(nonCritical, dstDir)
	}

	return w.run(ctx, "copy", []string{src, newPath},
		pullaction.Interest{Critical: []string{src, newPath}, NonCritical: nonCritical},
		func(ctx context.Context, h Transport) (*protocol.ActionResponse, error) {
			return h.Copy(ctx, src, newPath)
		},
		func(t *tree.Tree, resp *protocol.ActionResponse) error {
			dst, ok := t.Find(dstDir)
			if !ok {
				return fmt.Errorf("%s: %w", dstDir, ErrNotFound)
			}
			e := resp.Element
			if e == nil {
				n, ok := t.Find(src)
				if !ok {
					return fmt.Errorf("%s: %w", src, ErrNotFound)
				}
				e = n.Element()
			}
			e.Name = tree.BaseName(newPath)
			_, err := t.Insert(dst, e)
			return err
		})
}

// Delete removes the element at path.
func (w *Workspace) Delete(ctx context.Context, path string) (Report, error) {
	if err := w.require(path); err != nil {
		return Report{}, err
	}
	parent := tree.ParentPath(path)

	return w.run(ctx, "delete", []string{path},
		pullaction.Interest{Critical: []string{path}, NonCritical: []string{parent}},
		func(ctx context.Context, h Transport) (*protocol.ActionResponse, error) {
			return h.Delete(ctx, path)
		},
		func(t *tree.Tree, _ *protocol.ActionResponse) error {
			n, ok := t.Find(path)
			if !ok {
				return nil
			}
			return t.Remove(n)
		})
}

// Create creates a file or folder called name in parentPath.
func (w *Workspace) Create(ctx context.Context, parentPath, name string, typ models.ElementType) (Report, error) {
	if err := w.require(parentPath); err != nil {
		return Report{}, err
	}
	newPath := tree.BuildChildPath(parentPath, name)

	return w.run(ctx, "create", []string{newPath},
		pullaction.Interest{Critical: []string{newPath}, NonCritical: []string{parentPath}},
		func(ctx context.Context, h Transport) (*protocol.ActionResponse, error) {
			return h.Create(ctx, newPath, typ)
		},
		func(t *tree.Tree, resp *protocol.ActionResponse) error {
			parent, ok := t.Find(parentPath)
			if !ok {
				return fmt.Errorf("%s: %w", parentPath, ErrNotFound)
			}
			e := resp.Element
			if e == nil {
				e = &models.Element{Name: name, Type: typ}
			}
			e.Name = name
			_, err := t.Insert(parent, e)
			return err
		})
}

func (w *Workspace) require(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.tree.Find(path); !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return nil
}

// run executes action through a fresh protocol until it reaches a terminal
// state, then applies the mutation to the tree on success. The returned
// error is only set for misuse of the protocol; outcomes are in the Report.
func (w *Workspace) run(ctx context.Context, name string, paths []string, interest pullaction.Interest,
	action actionFunc, apply func(*tree.Tree, *protocol.ActionResponse) error) (Report, error) {

	if w.dirty != nil {
		interest.Dirty = w.dirty()
	}
	log := w.logger.With(zap.String("action", name), zap.Strings("paths", paths))

	opts := []pullaction.Option{pullaction.WithLogger(log)}
	if w.observer != nil {
		opts = append(opts, pullaction.WithObserver(w.observer(name)))
	}
	p := pullaction.New[Transport, *protocol.ActionResponse](w.dialer, action, interest, opts...)

	for p.ExecutionPossible() {
		if err := p.Execute(ctx); err != nil {
			return Report{}, fmt.Errorf("%s: %w", name, err)
		}
	}

	res, _ := p.Result()
	report := Report{
		Action:            name,
		Paths:             paths,
		State:             res.State,
		Err:               res.Err,
		ChangedResources:  p.ChangedResources(),
		BackedUpResources: p.BackedUpResources(),
		Retries:           p.ExecutedRetries(),
	}

	if report.Succeeded() {
		resp := res.Value
		if resp == nil {
			resp = &protocol.ActionResponse{}
		}
		w.mu.Lock()
		report.ApplyErr = apply(w.tree, resp)
		w.mu.Unlock()
		if report.ApplyErr != nil {
			log.Warn("tree out of sync after action", zap.Error(report.ApplyErr))
		}
		w.publish(events.Event{Type: events.EventAction, Path: paths[0], Detail: name})
	}

	w.record(ctx, report, log)
	return report, nil
}

func (w *Workspace) record(ctx context.Context, r Report, log *zap.Logger) {
	if w.journal == nil {
		return
	}
	e := journal.Entry{
		Action:   r.Action,
		Paths:    r.Paths,
		State:    r.State.String(),
		Retries:  r.Retries,
		Changed:  len(r.ChangedResources),
		BackedUp: len(r.BackedUpResources),
	}
	if r.Err != nil {
		e.Message = r.Err.Error()
	}
	if _, err := w.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		log.Warn("journal record failed", zap.Error(err))
	}
}
