// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package reliability provides reception awareness for ebMS3/AS4 messaging:
bounded retry of outbound messages and duplicate suppression of inbound ones.

# Retry

Tracker holds the per message state machine

	Pending -> Acked
	Pending -> Retrying -> ... -> Acked | Exhausted
	any non-terminal state -> Failed (non-retryable error or cancellation)

Exhausted and Failed are terminal. A message ID that reached either state
is never attempted again, whatever the policy says later.

Scheduler drives a Tracker. The first attempt runs on the caller's
goroutine; retries are dispatched with time.AfterFunc once the retry
interval has passed since the previous attempt.

	sched := reliability.NewScheduler(reliability.NewTracker(), logger)
	defer sched.Stop()

	err := sched.Deliver(ctx, messageID, p.PolicyForLeg(1), send, func(o reliability.Outcome) {
	    if errors.Is(o.Err, reliability.ErrExhausted) {
	        // gave up
	    }
	})

# Duplicate Detection

A Ledger records inbound message IDs keyed by sending party. Claim is an
atomic check-and-insert, so of two concurrent arrivals of one message only
one is processed:

	switch res, err := ledger.Claim(ctx, key, policy.DuplicateWindow); {
	case err != nil:
	case res == reliability.Duplicate:
	    // acknowledge again, do not process
	default:
	    // process, then Commit on success or Release on failure
	}

MemoryLedger serves single instance deployments. RedisLedger shares the
ledger between instances.

# References

  - OASIS AS4 Profile of ebMS 3.0, section 3.2 (Reception Awareness)
*/
package reliability
