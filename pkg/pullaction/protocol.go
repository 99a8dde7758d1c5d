// Package pullaction runs a mutating workspace action behind a mandatory
// pull, so that the action only succeeds when it was applied against an
// up-to-date view of the files it touches.
//
// A Protocol is driven by calling Execute until ExecutionPossible reports
// false. Each Execute performs one pull and, unless the pull already
// decided the outcome, one attempt of the action.
package pullaction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/navigator/pkg/protocol"
)

// Transport is the handle a protocol pulls through. Actions receive the
// same handle.
type Transport interface {
	Pull(ctx context.Context, req protocol.PullRequest) (*protocol.PullResponse, error)
}

// Dialer acquires the transport handle. It is called at most once per protocol.
type Dialer[H Transport] func(ctx context.Context) (H, error)

// Action is the caller's mutating operation.
type Action[H Transport, T any] func(ctx context.Context, h H) (T, error)

// Interest names the paths a protocol watches during pulls.
type Interest struct {
	// Critical paths invalidate the action when they change upstream.
	Critical []string
	// NonCritical paths are only reported when they change.
	NonCritical []string
	// Dirty paths are backed up by the server if they changed upstream.
	Dirty []string
}

// Result is the terminal value of a protocol: the action's value on
// success, a *ConflictError on conflict, any other error on failure.
type Result[T any] struct {
	State State
	Value T
	Err   error
}

// Conflict returns the conflict carried by a conflicted result.
func (r Result[T]) Conflict() (*ConflictError, bool) {
	if r.State != StateConflicted {
		return nil, false
	}
	return AsConflict(r.Err)
}

// Observer receives protocol events, typically to record metrics.
type Observer interface {
	ObservePull(resp *protocol.PullResponse, err error)
	ObserveRepull()
	ObserveResult(state State, rounds int)
}

// Option configures a Protocol.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	observer Observer
}

// WithLogger sets the protocol's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver registers an observer for pulls and results.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// Protocol executes one action sequence. It is not reusable across
// independent actions and not safe for concurrent use.
type Protocol[H Transport, T any] struct {
	dial     Dialer[H]
	action   Action[H, T]
	interest Interest
	opts     options

	handle    H
	connected bool
	inFlight  bool

	state                         State
	result                        *Result[T]
	executedRetries               int
	consecutiveRetriesWithoutDiff int
	changed                       pathSet
	backups                       BackupEntrySet
}

// New creates a protocol for action, pulling through the handle obtained from dial.
func New[H Transport, T any](dial Dialer[H], action Action[H, T], interest Interest, opts ...Option) *Protocol[H, T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Protocol[H, T]{
		dial:                          dial,
		action:                        action,
		interest:                      interest,
		opts:                          o,
		state:                         StateIdle,
		executedRetries:               -1,
		consecutiveRetriesWithoutDiff: -1,
	}
}

// ExecutionPossible reports whether Execute may be called again.
func (p *Protocol[H, T]) ExecutionPossible() bool {
	return p.result == nil
}

// State returns the current lifecycle state.
func (p *Protocol[H, T]) State() State {
	return p.state
}

// Result returns the terminal result once one is set.
func (p *Protocol[H, T]) Result() (Result[T], bool) {
	if p.result == nil {
		return Result[T]{}, false
	}
	return *p.result, true
}

// ExecutedRetries returns the number of rounds after the first; -1 before
// the first Execute.
func (p *Protocol[H, T]) ExecutedRetries() int {
	return p.executedRetries
}

// ConsecutiveRetriesWithoutDiff returns how many trailing pulls reported no diff.
func (p *Protocol[H, T]) ConsecutiveRetriesWithoutDiff() int {
	return p.consecutiveRetriesWithoutDiff
}

// ChangedResources returns every changed path reported by the pulls so far.
func (p *Protocol[H, T]) ChangedResources() []string {
	out := make([]string, len(p.changed.items))
	copy(out, p.changed.items)
	return out
}

// BackedUpResources returns every backup reported by the pulls so far.
func (p *Protocol[H, T]) BackedUpResources() []protocol.BackupEntry {
	return p.backups.Entries()
}

// Execute performs one pull followed, if the pull allows it, by one
// attempt of the action. Outcomes are recorded in Result; the returned
// error is only set when Execute was misused.
func (p *Protocol[H, T]) Execute(ctx context.Context) error {
	if !p.ExecutionPossible() {
		return ErrExecutionNotPossible
	}
	if p.inFlight {
		return ErrReentrantExecute
	}
	p.inFlight = true
	defer func() { p.inFlight = false }()

	if err := p.advance(evStart); err != nil {
		return err
	}

	h, err := p.transport(ctx)
	if err != nil {
		return p.finish(evActionFailed, fmt.Errorf("acquire transport: %w", err))
	}

	p.executedRetries++
	log := p.opts.logger.With(zap.Int("round", p.executedRetries))

	resp, err := h.Pull(ctx, p.pullRequest())
	if p.opts.observer != nil {
		p.opts.observer.ObservePull(resp, err)
	}
	if err != nil {
		return p.finish(evPullFailed, err)
	}
	if resp == nil || resp.Failure {
		return p.finish(evPullFailed, ErrPullFailure)
	}

	p.changed.addAll(resp.ChangedResources)
	p.backups.AddAll(resp.BackedUpResources)
	if resp.DiffExists {
		p.consecutiveRetriesWithoutDiff = 0
	} else {
		p.consecutiveRetriesWithoutDiff++
	}
	log.Debug("pull completed",
		zap.Bool("diff", resp.DiffExists),
		zap.String("head", resp.HeadCommit),
		zap.Int("changed", len(resp.ChangedResources)),
		zap.Int("backed_up", len(resp.BackedUpResources)),
	)

	if path, ok := touchesCritical(p.changed.items, p.interest.Critical); ok {
		log.Info("critical path changed upstream", zap.String("path", path))
		return p.finish(evCriticalChange, &ConflictError{Message: CriticalChangeMessage})
	}

	value, err := p.action(ctx, h)
	if err == nil {
		if adv := p.advance(evActionSucceeded); adv != nil {
			return adv
		}
		p.result = &Result[T]{State: p.state, Value: value}
		log.Info("action succeeded")
		p.observeResult()
		return nil
	}

	switch Classify(err) {
	case KindRepull:
		if p.opts.observer != nil {
			p.opts.observer.ObserveRepull()
		}
		ev := repullEvent(p.consecutiveRetriesWithoutDiff)
		if ev == evRepullExhausted {
			return p.finish(ev, fmt.Errorf("action failed after %d consecutive retries: %w",
				p.consecutiveRetriesWithoutDiff, ErrRepullLimit))
		}
		log.Debug("server requested repull", zap.Int("without_diff", p.consecutiveRetriesWithoutDiff))
		return p.advance(ev)
	case KindConflict:
		return p.finish(evActionConflict, &ConflictError{Message: conflictMessage(err), Err: err})
	default:
		return p.finish(evActionFailed, err)
	}
}

func (p *Protocol[H, T]) transport(ctx context.Context) (H, error) {
	if p.connected {
		return p.handle, nil
	}
	h, err := p.dial(ctx)
	if err != nil {
		return h, err
	}
	p.handle = h
	p.connected = true
	return h, nil
}

func (p *Protocol[H, T]) pullRequest() protocol.PullRequest {
	resources := make([]string, 0, len(p.interest.Critical)+len(p.interest.NonCritical))
	resources = append(resources, p.interest.Critical...)
	resources = append(resources, p.interest.NonCritical...)
	dirty := make([]string, len(p.interest.Dirty))
	copy(dirty, p.interest.Dirty)
	return protocol.PullRequest{Resources: resources, DirtyResources: dirty}
}

func (p *Protocol[H, T]) advance(ev event) error {
	next, err := transition(p.state, ev)
	if err != nil {
		return err
	}
	p.state = next
	return nil
}

// finish moves to the terminal state for ev and records err as the result.
func (p *Protocol[H, T]) finish(ev event, err error) error {
	if adv := p.advance(ev); adv != nil {
		return adv
	}
	p.result = &Result[T]{State: p.state, Err: err}
	p.opts.logger.Info("action finished",
		zap.Stringer("state", p.state),
		zap.Int("retries", p.executedRetries),
		zap.Error(err),
	)
	p.observeResult()
	return nil
}

func (p *Protocol[H, T]) observeResult() {
	if p.opts.observer != nil {
		p.opts.observer.ObserveResult(p.state, p.executedRetries+1)
	}
}
