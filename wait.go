package evset

import "time"

// Wait drives the set's active operations toward completion under one
// shared timeout budget.
//
// Operations are visited in insertion order. Each visit spends whatever
// remains of the budget waiting on that operation, so an early operation
// may consume time that later ones never see; once the budget is gone
// the remaining operations are still polled, so every completion that
// has already happened is observed even by Wait(WaitNone). An operation
// whose dependencies are not yet all terminal is skipped entirely, not
// even polled, since its backend work may not have started.
//
// Successful operations leave the set. A failed operation moves its
// diagnostic to the failed queue, latches the sticky error flag, and
// stops the pass early: inProgress then counts every operation still in
// the set, examined or not, and may overstate the work truly still
// running; the next Wait refines it.
//
// Wait returns the number of operations still active, whether an
// operation failed during this call (HasErrors remains the cumulative
// indicator), and an error only when the wait machinery itself breaks
// down (CodeWaitFailed) or the set is closed. A timeout <= 0 polls.
// WaitForever blocks until the set drains or an operation fails.
func (es *EventSet) Wait(timeout time.Duration) (inProgress int, opFailed bool, err error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.closed {
		return 0, false, newError(CodeInvalidHandle, "event set is closed")
	}

	start := time.Now()
	op := es.active.front()
	for op != nil {
		// The link is captured up front: a completed op is unlinked
		// before the loop advances.
		next := op.next

		if !op.depsSettled() {
			op = next
			continue
		}

		budget := WaitNone
		if timeout == WaitForever {
			budget = WaitForever
		} else if timeout > 0 {
			if elapsed := time.Since(start); elapsed < timeout {
				budget = timeout - elapsed
			}
		}

		var state State
		if budget <= 0 {
			state, err = op.req.Poll()
		} else {
			state, err = op.req.Wait(budget)
		}
		if err != nil {
			return es.active.len(), false, wrapError(CodeWaitFailed, err, "waiting for %q (seq %d)", op.info.Op, op.seq)
		}

		switch state {
		case StateSucceeded:
			es.complete(op)
		case StateFailed:
			es.fail(op)
			return es.active.len(), true, nil
		}

		op = next
	}

	return es.active.len(), false, nil
}
