// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package msh implements the ebMS3/AS4 Message Service Handler.

An Engine ties the other packages together. It resolves the P-Mode of
every message, checks it against the exchange pattern, detects duplicates
through a reliability.Ledger, retries outbound messages with a
reliability.Scheduler and hands accepted messages to a Processor.

# Engine

	resolver := pmode.NewResolver(pmode.NewMemoryStore(), logger)
	engine, err := msh.New(msh.Config{
		PModes:    resolver,
		Processor: myProcessor,
		Logger:    logger,
	})
	defer engine.Close()

WS-Security is delegated to a Crypto implementation. Without one, messages
are sent unsigned and encrypted messages are passed on as received.

# Sending

	d, err := engine.Send(ctx, &msh.Outbound{
		PModeID:  "invoice-exchange",
		Payloads: []msh.Payload{{MIMEType: "application/xml", Data: invoice}},
	})
	res, err := d.Wait(ctx)

The delivery completes as reliability.Acked once a receipt arrives, either
on the HTTP response or later through the callback address. Transport
errors and missing receipts are retried per the leg's reception awareness;
ebMS error signals and pattern violations fail the delivery at once.

Messages on pulled legs are queued with Submit and returned to the next
pull request on their partition channel. Pull sends a pull request and
receives the returned message; its receipt is pushed back to the MSH it
came from.

Finished deliveries stay tracked for Config.Retention, after which the
engine forgets them.

# Receiving

Engine implements transport.Handler:

	server, err := transport.NewHTTPSServer(":8443", tlsConfig, engine)

Rejected messages are answered with an ebMS Error signal and status 400.
Receipts and errors go back on the HTTP response unless the leg asks for
callbacks.

# References

  - OASIS ebMS 3.0 Core: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - AS4 Profile: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
*/
package msh
