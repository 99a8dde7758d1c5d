package pullaction

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/navigator/pkg/protocol"
)

// fakeTransport replays scripted pull responses and records requests.
type fakeTransport struct {
	responses []*protocol.PullResponse
	pullErr   error
	requests  []protocol.PullRequest
}

func (f *fakeTransport) Pull(_ context.Context, req protocol.PullRequest) (*protocol.PullResponse, error) {
	f.requests = append(f.requests, req)
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if len(f.requests) > len(f.responses) {
		return &protocol.PullResponse{}, nil
	}
	return f.responses[len(f.requests)-1], nil
}

func dialer(f *fakeTransport, dials *int) Dialer[*fakeTransport] {
	return func(context.Context) (*fakeTransport, error) {
		*dials++
		return f, nil
	}
}

func repullErr() error {
	return &protocol.APIError{Status: http.StatusConflict, Reason: protocol.ReasonRepull}
}

type recordingObserver struct {
	pulls, repulls int
	states         []State
	rounds         []int
}

func (o *recordingObserver) ObservePull(*protocol.PullResponse, error) { o.pulls++ }
func (o *recordingObserver) ObserveRepull()                            { o.repulls++ }
func (o *recordingObserver) ObserveResult(s State, rounds int) {
	o.states = append(o.states, s)
	o.rounds = append(o.rounds, rounds)
}

func TestRepullWithoutDiffFails(t *testing.T) {
	diffs := []bool{false, true, false, true, false, false}
	f := &fakeTransport{}
	for _, d := range diffs {
		f.responses = append(f.responses, &protocol.PullResponse{DiffExists: d})
	}
	dials := 0
	p := New(dialer(f, &dials), func(context.Context, *fakeTransport) (string, error) {
		return "", repullErr()
	}, Interest{Critical: []string{"/a"}})

	assert.Equal(t, -1, p.ExecutedRetries())
	assert.Equal(t, -1, p.ConsecutiveRetriesWithoutDiff())

	wantNoDiff := []int{0, 0, 1, 0, 1, 2}
	for i := range diffs {
		require.True(t, p.ExecutionPossible(), "round %d", i)
		require.NoError(t, p.Execute(context.Background()))
		assert.Equal(t, i, p.ExecutedRetries())
		assert.Equal(t, wantNoDiff[i], p.ConsecutiveRetriesWithoutDiff(), "round %d", i)
	}

	assert.False(t, p.ExecutionPossible())
	res, ok := p.Result()
	require.True(t, ok)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, ErrRepullLimit)
	assert.Contains(t, res.Err.Error(), "consecutive retr")
	assert.Equal(t, 1, dials, "the handle is acquired once")
}

func TestCriticalChangeConflicts(t *testing.T) {
	f := &fakeTransport{responses: []*protocol.PullResponse{
		{DiffExists: true, ChangedResources: []string{"/proj/other.tcl"}},
		{DiffExists: true, ChangedResources: []string{"/proj/main.tcl"}},
	}}
	dials, calls := 0, 0
	p := New(dialer(f, &dials), func(context.Context, *fakeTransport) (int, error) {
		calls++
		return 0, repullErr()
	}, Interest{Critical: []string{"/proj/main.tcl"}, NonCritical: []string{"/proj"}})

	require.NoError(t, p.Execute(context.Background()))
	assert.True(t, p.ExecutionPossible())
	require.NoError(t, p.Execute(context.Background()))

	res, ok := p.Result()
	require.True(t, ok)
	assert.Equal(t, StateConflicted, res.State)
	ce, ok := res.Conflict()
	require.True(t, ok)
	assert.Contains(t, ce.Message, "touching")
	assert.Equal(t, 1, calls, "the action is skipped once a critical path changed")
	assert.Equal(t, []string{"/proj/other.tcl", "/proj/main.tcl"}, p.ChangedResources())
}

func TestSucceedsAfterRepulls(t *testing.T) {
	backup := protocol.BackupEntry{Resource: "/d.tcl", BackupResource: "/d.tcl.bak"}
	f := &fakeTransport{responses: []*protocol.PullResponse{
		{DiffExists: true, ChangedResources: []string{"/x"}, BackedUpResources: []protocol.BackupEntry{backup}},
		{DiffExists: true, ChangedResources: []string{"/x", "/y"}, BackedUpResources: []protocol.BackupEntry{backup}},
		{DiffExists: false, ChangedResources: []string{"/y"}},
	}}
	dials, calls := 0, 0
	obs := &recordingObserver{}
	p := New(dialer(f, &dials), func(_ context.Context, h *fakeTransport) (string, error) {
		calls++
		assert.Same(t, f, h)
		if calls < 3 {
			return "", repullErr()
		}
		return "done", nil
	}, Interest{
		Critical:    []string{"/a.tcl"},
		NonCritical: []string{"/"},
		Dirty:       []string{"/d.tcl"},
	}, WithObserver(obs))

	for p.ExecutionPossible() {
		require.NoError(t, p.Execute(context.Background()))
	}

	res, _ := p.Result()
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, "done", res.Value)
	assert.NoError(t, res.Err)
	assert.Equal(t, 2, p.ExecutedRetries())
	assert.Equal(t, []string{"/x", "/y"}, p.ChangedResources())
	assert.Equal(t, []protocol.BackupEntry{backup}, p.BackedUpResources())

	require.Len(t, f.requests, 3)
	assert.Equal(t, []string{"/a.tcl", "/"}, f.requests[0].Resources)
	assert.Equal(t, []string{"/d.tcl"}, f.requests[0].DirtyResources)

	assert.Equal(t, 3, obs.pulls)
	assert.Equal(t, 2, obs.repulls)
	assert.Equal(t, []State{StateSucceeded}, obs.states)
	assert.Equal(t, []int{3}, obs.rounds)
}

func TestExecuteAfterTerminal(t *testing.T) {
	f := &fakeTransport{}
	dials := 0
	p := New(dialer(f, &dials), func(context.Context, *fakeTransport) (bool, error) {
		return true, nil
	}, Interest{})

	require.NoError(t, p.Execute(context.Background()))
	assert.Equal(t, StateSucceeded, p.State())
	assert.ErrorIs(t, p.Execute(context.Background()), ErrExecutionNotPossible)
	assert.Len(t, f.requests, 1)
}

func TestReentrantExecute(t *testing.T) {
	f := &fakeTransport{}
	dials := 0
	var p *Protocol[*fakeTransport, int]
	var inner error
	p = New(dialer(f, &dials), func(ctx context.Context, _ *fakeTransport) (int, error) {
		inner = p.Execute(ctx)
		return 1, nil
	}, Interest{})

	require.NoError(t, p.Execute(context.Background()))
	assert.ErrorIs(t, inner, ErrReentrantExecute)
	assert.Equal(t, StateSucceeded, p.State())
}

func TestPullFailure(t *testing.T) {
	f := &fakeTransport{responses: []*protocol.PullResponse{{Failure: true}}}
	dials, calls := 0, 0
	p := New(dialer(f, &dials), func(context.Context, *fakeTransport) (int, error) {
		calls++
		return 0, nil
	}, Interest{})

	require.NoError(t, p.Execute(context.Background()))
	res, _ := p.Result()
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, ErrPullFailure)
	assert.Equal(t, "pull failure", res.Err.Error())
	assert.Zero(t, calls)
}

func TestPullWithoutResponse(t *testing.T) {
	f := &fakeTransport{responses: []*protocol.PullResponse{nil}}
	dials, calls := 0, 0
	o := &recordingObserver{}
	p := New(dialer(f, &dials), func(context.Context, *fakeTransport) (int, error) {
		calls++
		return 0, nil
	}, Interest{}, WithObserver(o))

	require.NoError(t, p.Execute(context.Background()))
	res, _ := p.Result()
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, ErrPullFailure)
	assert.Zero(t, calls)
	assert.Equal(t, 1, o.pulls)
	assert.False(t, p.ExecutionPossible())
}

func TestPullTransportError(t *testing.T) {
	boom := errors.New("connection refused")
	f := &fakeTransport{pullErr: boom}
	dials := 0
	p := New(dialer(f, &dials), func(context.Context, *fakeTransport) (int, error) {
		return 0, nil
	}, Interest{})

	require.NoError(t, p.Execute(context.Background()))
	res, _ := p.Result()
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, boom)
}

func TestDialFailure(t *testing.T) {
	boom := errors.New("no route")
	p := New(func(context.Context) (*fakeTransport, error) {
		return nil, boom
	}, func(context.Context, *fakeTransport) (int, error) {
		return 0, nil
	}, Interest{})

	require.NoError(t, p.Execute(context.Background()))
	res, _ := p.Result()
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, -1, p.ExecutedRetries())
}

func TestConflictMessageVerbatim(t *testing.T) {
	f := &fakeTransport{}
	dials := 0
	p := New(dialer(f, &dials), func(context.Context, *fakeTransport) (int, error) {
		return 0, &protocol.APIError{Status: http.StatusConflict, Reason: "LOCKED", Message: "foo.tcl is locked by bob"}
	}, Interest{})

	require.NoError(t, p.Execute(context.Background()))
	res, _ := p.Result()
	require.Equal(t, StateConflicted, res.State)
	ce, ok := res.Conflict()
	require.True(t, ok)
	assert.Equal(t, "foo.tcl is locked by bob", ce.Message)
	ae, ok := protocol.AsAPIError(res.Err)
	require.True(t, ok)
	assert.Equal(t, "LOCKED", ae.Reason)
}

func TestActionError(t *testing.T) {
	f := &fakeTransport{}
	dials := 0
	p := New(dialer(f, &dials), func(context.Context, *fakeTransport) (int, error) {
		return 0, &protocol.APIError{Status: http.StatusInternalServerError, Message: "disk full"}
	}, Interest{})

	require.NoError(t, p.Execute(context.Background()))
	res, _ := p.Result()
	assert.Equal(t, StateFailed, res.State)
	_, isConflict := res.Conflict()
	assert.False(t, isConflict)
	assert.Contains(t, res.Err.Error(), "disk full")
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from State
		ev   event
		want State
		err  bool
	}{
		{StateIdle, evStart, StateRunning, false},
		{StateIdle, evActionSucceeded, StateIdle, true},
		{StateRunning, evStart, StateRunning, false},
		{StateRunning, evRepull, StateRunning, false},
		{StateRunning, evActionSucceeded, StateSucceeded, false},
		{StateRunning, evCriticalChange, StateConflicted, false},
		{StateRunning, evActionConflict, StateConflicted, false},
		{StateRunning, evPullFailed, StateFailed, false},
		{StateRunning, evRepullExhausted, StateFailed, false},
		{StateRunning, evActionFailed, StateFailed, false},
		{StateSucceeded, evStart, StateSucceeded, true},
		{StateConflicted, evRepull, StateConflicted, true},
		{StateFailed, evStart, StateFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			got, err := transition(tt.from, tt.ev)
			assert.Equal(t, tt.want, got)
			if tt.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRepullEvent(t *testing.T) {
	assert.Equal(t, evRepull, repullEvent(0))
	assert.Equal(t, evRepull, repullEvent(1))
	assert.Equal(t, evRepullExhausted, repullEvent(2))
}

func TestTouchesCriticalIsPrefixMatch(t *testing.T) {
	path, ok := touchesCritical([]string{"/x", "abcdef"}, []string{"abc"})
	assert.True(t, ok)
	assert.Equal(t, "abcdef", path)

	_, ok = touchesCritical([]string{"/x"}, []string{"abc"})
	assert.False(t, ok)

	_, ok = touchesCritical(nil, []string{"abc"})
	assert.False(t, ok)
}

func TestBackupEntrySet(t *testing.T) {
	var s BackupEntrySet
	a := protocol.BackupEntry{Resource: "/a", BackupResource: "/a.1"}
	b := protocol.BackupEntry{Resource: "/a", BackupResource: "/a.2"}
	assert.True(t, s.Add(a))
	assert.False(t, s.Add(a))
	assert.Equal(t, 1, s.AddAll([]protocol.BackupEntry{a, b, b}))
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(b))
	assert.Equal(t, []protocol.BackupEntry{a, b}, s.Entries())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindRepull, Classify(repullErr()))
	assert.Equal(t, KindConflict, Classify(&protocol.APIError{Status: http.StatusConflict}))
	assert.Equal(t, KindError, Classify(&protocol.APIError{Status: http.StatusNotFound}))
	assert.Equal(t, KindError, Classify(errors.New("plain")))
}
