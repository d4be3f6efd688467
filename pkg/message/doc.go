// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package message assembles and reads ebMS3 message units.

# Message Types

UserMessage - Business messages containing:
  - MessageInfo: Message ID, timestamp, RefToMessageId
  - PartyInfo: Sender and receiver party identification
  - CollaborationInfo: Agreement, service, action, conversation ID
  - MessageProperties: Custom properties
  - PayloadInfo: One PartInfo per payload part

SignalMessage - Protocol signals:
  - Receipt: Acknowledgment of a received UserMessage
  - Error: Error notifications
  - PullRequest: Request for the next message of a partition channel

# Building Messages

BuildUserMessage assembles a UserMessage from its header blocks. Only the
structure is checked by default; callers enforce their profile with
RequireService, RequireAction and RequireParties:

	um, err := message.BuildUserMessage(info, payload, collab, party, props,
	    message.RequireService(), message.RequireAction())

The fluent builder fills in IDs and default roles:

	um, err := message.NewUserMessage(
	    message.WithFrom("sender", "urn:oasis:names:tc:ebcore:partyid-type:unregistered"),
	    message.WithTo("receiver", "urn:oasis:names:tc:ebcore:partyid-type:unregistered"),
	    message.WithService("http://example.com/service"),
	    message.WithAction("processDocument"),
	    message.WithPayloadInfo(false, descriptors),
	).Build(message.StrictProfile())

# Receipts

BuildReceipt acknowledges a received message. If the received message was
signed and non-repudiation is requested the receipt echoes its ds:Reference
elements; otherwise it embeds a copy of the original UserMessage.

# References

  - OASIS ebMS 3.0 Core: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - AS4 Profile: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
*/
package message
