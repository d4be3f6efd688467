// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mep defines Message Exchange Patterns for ebMS3/AS4 and decides
which message units are legal at a given point of an exchange.

# Patterns and Bindings

A MEP is either one-way or two-way. A binding maps the pattern onto
transport legs:

	Push, Pull, Sync                     one leg
	PushAndPush, PushAndPull, PullAndPush two legs

# Validity

IsValidMessageAt answers "may this kind of message unit occur on this leg of
this exchange":

	ok, err := mep.IsValidMessageAt(mep.OneWay, mep.Pull, mep.KindUserMessage, 1)

A push leg only ever returns a signal (Receipt or Error) to the sender; a
pull leg always carries the pulled UserMessage. One-way exchanges cannot use
Sync or any two-leg binding.

CheckMessageAt wraps the decision into a *ViolationError so callers can
reject the message at protocol level. Violations are never retryable.

# References

  - OASIS ebMS 3.0 Core, section 2.2: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - OASIS AS4 Profile: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
*/
package mep
