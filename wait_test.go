package evset

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitEmptySet(t *testing.T) {
	es := New()

	inProgress, opFailed, err := es.Wait(WaitForever)
	require.NoError(t, err)
	assert.Zero(t, inProgress)
	assert.False(t, opFailed)
}

func TestWaitPollObservesFinishedWork(t *testing.T) {
	es := New()

	done := succeededReq()
	running := pendingReq()
	_, err := es.Insert(done, NewOpInfo("object.write", "WriteAsync", ""))
	require.NoError(t, err)
	_, err = es.Insert(running, NewOpInfo("object.read", "ReadAsync", ""))
	require.NoError(t, err)

	inProgress, opFailed, err := es.Wait(WaitNone)
	require.NoError(t, err)
	assert.Equal(t, 1, inProgress)
	assert.False(t, opFailed)

	// Poll mode observes without blocking: both ops polled, neither
	// waited on.
	assert.Equal(t, 1, done.polled())
	assert.Equal(t, 1, running.polled())
	assert.Empty(t, done.waited())
	assert.Empty(t, running.waited())
	assert.Equal(t, 1, es.Count())
}

func TestWaitNegativeTimeoutPolls(t *testing.T) {
	es := New()

	running := pendingReq()
	_, err := es.Insert(running, NewOpInfo("object.write", "WriteAsync", ""))
	require.NoError(t, err)

	start := time.Now()
	inProgress, _, err := es.Wait(-time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, inProgress)
	assert.Equal(t, 1, running.polled())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitForeverDrainsSet(t *testing.T) {
	es := New()

	first := workingReq(20*time.Millisecond, StateSucceeded, nil)
	second := workingReq(10*time.Millisecond, StateSucceeded, nil)
	_, err := es.Insert(first, NewOpInfo("object.write", "WriteAsync", ""))
	require.NoError(t, err)
	_, err = es.Insert(second, NewOpInfo("object.write", "WriteAsync", ""))
	require.NoError(t, err)

	inProgress, opFailed, err := es.Wait(WaitForever)
	require.NoError(t, err)
	assert.Zero(t, inProgress)
	assert.False(t, opFailed)
	assert.Zero(t, es.Count())

	// The full budget passes through undiminished: no elapsed time is
	// charged against WaitForever.
	require.Len(t, first.waited(), 1)
	require.Len(t, second.waited(), 1)
	assert.Equal(t, WaitForever, first.waited()[0])
	assert.Equal(t, WaitForever, second.waited()[0])
}

func TestWaitBudgetSharedAcrossOps(t *testing.T) {
	es := New()

	slow := workingReq(time.Second, StateSucceeded, nil)
	running := pendingReq()
	_, err := es.Insert(slow, NewOpInfo("object.write", "WriteAsync", ""))
	require.NoError(t, err)
	_, err = es.Insert(running, NewOpInfo("object.read", "ReadAsync", ""))
	require.NoError(t, err)

	const timeout = 50 * time.Millisecond
	start := time.Now()
	inProgress, opFailed, err := es.Wait(timeout)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, 2, inProgress)
	assert.False(t, opFailed)

	// The first op consumed the whole budget, so the second was only
	// polled.
	budgets := slow.waited()
	require.Len(t, budgets, 1)
	assert.LessOrEqual(t, budgets[0], timeout)
	assert.Positive(t, budgets[0])
	assert.Equal(t, 1, running.polled())
	assert.Empty(t, running.waited())

	assert.GreaterOrEqual(t, elapsed, budgets[0])
	assert.Less(t, elapsed, time.Second)
}

func TestWaitStopsAtFirstFailure(t *testing.T) {
	es := New()

	first := succeededReq()
	second := failedReq(errors.New("disk full"))
	third := succeededReq()
	_, err := es.Insert(first, NewOpInfo("object.write", "WriteAsync", "key=a"))
	require.NoError(t, err)
	_, err = es.Insert(second, NewOpInfo("object.write", "WriteAsync", "key=b"))
	require.NoError(t, err)
	_, err = es.Insert(third, NewOpInfo("object.write", "WriteAsync", "key=c"))
	require.NoError(t, err)

	inProgress, opFailed, err := es.Wait(WaitNone)
	require.NoError(t, err)
	assert.True(t, opFailed)

	// The failure stops the pass: the third op is not examined and
	// still counts as in progress.
	assert.Equal(t, 1, inProgress)
	assert.Zero(t, third.polled())
	assert.Empty(t, third.waited())
	assert.Equal(t, 1, es.ErrCount())

	// The next wait picks up where the last one stopped. Its own pass
	// sees no failure, so opFailed resets; HasErrors stays latched.
	inProgress, opFailed, err = es.Wait(WaitNone)
	require.NoError(t, err)
	assert.Zero(t, inProgress)
	assert.False(t, opFailed)
	assert.True(t, es.HasErrors())
	assert.Equal(t, 1, third.polled())
}

func TestWaitInfraFailure(t *testing.T) {
	es := New()

	cause := errors.New("connection reset")
	broken := &stubRequest{state: StatePending, infraErr: cause}
	_, err := es.Insert(broken, NewOpInfo("object.write", "WriteAsync", ""))
	require.NoError(t, err)

	inProgress, _, err := es.Wait(WaitNone)
	require.Error(t, err)
	assert.True(t, IsWaitFailed(err))
	assert.ErrorIs(t, err, cause)

	// The op is not condemned: the status check broke, not the
	// operation.
	assert.Equal(t, 1, inProgress)
	assert.Equal(t, 1, es.Count())
	assert.Zero(t, es.ErrCount())
	assert.False(t, es.HasErrors())
	assert.Zero(t, broken.released())
}

func TestWaitSkipsOpsWithPendingDeps(t *testing.T) {
	es := New()

	dep := pendingReq()
	child := succeededReq()
	depOp, err := es.Insert(dep, NewOpInfo("object.write", "WriteAsync", ""))
	require.NoError(t, err)
	_, err = es.Insert(child, NewOpInfo("object.read", "ReadAsync", ""), depOp)
	require.NoError(t, err)

	inProgress, _, err := es.Wait(WaitNone)
	require.NoError(t, err)
	assert.Equal(t, 2, inProgress)
	assert.Zero(t, child.polled(), "gated op must not be touched")

	dep.finish(StateSucceeded, nil)
	inProgress, _, err = es.Wait(WaitNone)
	require.NoError(t, err)
	assert.Zero(t, inProgress)
	assert.Equal(t, 1, child.polled())
}

func TestWaitFailedDepUnblocksChild(t *testing.T) {
	es := New()

	dep := failedReq(errors.New("boom"))
	child := succeededReq()
	depOp, err := es.Insert(dep, NewOpInfo("object.write", "WriteAsync", ""))
	require.NoError(t, err)
	childOp, err := es.Insert(child, NewOpInfo("object.read", "ReadAsync", ""), depOp)
	require.NoError(t, err)

	// First wait observes the dep's failure and stops early.
	inProgress, opFailed, err := es.Wait(WaitNone)
	require.NoError(t, err)
	assert.True(t, opFailed)
	assert.Equal(t, 1, inProgress)

	// A failed dep is terminal, so the child becomes eligible.
	inProgress, _, err = es.Wait(WaitNone)
	require.NoError(t, err)
	assert.Zero(t, inProgress)
	assert.Equal(t, StateSucceeded, childOp.State())
}

func TestWaitDepChainCompletesInOnePass(t *testing.T) {
	es := New()

	dep := workingReq(10*time.Millisecond, StateSucceeded, nil)
	child := succeededReq()
	depOp, err := es.Insert(dep, NewOpInfo("object.write", "WriteAsync", ""))
	require.NoError(t, err)
	_, err = es.Insert(child, NewOpInfo("object.read", "ReadAsync", ""), depOp)
	require.NoError(t, err)

	// Deps always precede dependents in insertion order, so one pass
	// settles the dep before the child is considered.
	inProgress, opFailed, err := es.Wait(WaitForever)
	require.NoError(t, err)
	assert.Zero(t, inProgress)
	assert.False(t, opFailed)
}
