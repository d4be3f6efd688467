// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package pmode provides Processing Mode (P-Mode) configuration for ebMS3/AS4.

A P-Mode describes one exchange relationship: the message exchange pattern
and its binding, the parties, per-leg business and security settings,
compression and reception awareness (retry and duplicate detection).

# Validation

Validate reports every problem it finds instead of stopping at the first
one, and never fills in defaults:

	res := pmode.Validate(p)
	if err := res.Err(); err != nil {
	    var inv *pmode.InvalidError
	    errors.As(err, &inv) // inv.Problems lists field and message
	}

Divergent reception awareness blocks on the two legs of a two-leg binding
are reported as a warning; each leg keeps its own policy.

# Reception Awareness

Unset flags take their defaults when a policy is resolved:

	policy := p.PolicyForLeg(1)
	policy.MaxAttempts() // MaxRetries+1, 1 without retry, or Unbounded

# Storage

Store is implemented by MemoryStore, FileStore (a YAML document rewritten
atomically) and CachedStore (a freecache front for slower stores such as
MongoDB). All of them persist the Record form of a PMode.

Resolver is the read path used by the message service handler. It falls
back to the default PMode ID when a message carries no or an unknown
PMode reference, and validates PModes before storing them.

	resolver := pmode.NewResolver(store, logger)
	p, err := resolver.Resolve(ctx, ref) // errors.Is(err, pmode.ErrNotFound)

# References

  - OASIS ebMS 3.0 Core, Appendix D (P-Mode parameters)
  - OASIS AS4 Profile of ebMS 3.0
*/
package pmode
