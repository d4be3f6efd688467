// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ebms is the root of go-ebms, an ebMS3/AS4 message-exchange engine.

# Overview

The engine sends and receives ebMS3 user messages and signals over the
exchange patterns AS4 defines (one-way and two-way, push, pull and sync).
It handles reception awareness with retries, duplicate elimination, receipts
and error signals, and MIME-packaged attachments with gzip compression.
Signing and encryption are reached through a pluggable crypto contract.

# Package Structure

	github.com/sirosfoundation/go-ebms/pkg/msh         - Engine: inbound and outbound message flow
	github.com/sirosfoundation/go-ebms/pkg/pmode       - Processing Modes, validation, stores and resolver
	github.com/sirosfoundation/go-ebms/pkg/mep         - Message Exchange Patterns and message validity
	github.com/sirosfoundation/go-ebms/pkg/reliability - Retry scheduling and duplicate ledgers
	github.com/sirosfoundation/go-ebms/pkg/message     - ebMS header types, builders, receipts and errors
	github.com/sirosfoundation/go-ebms/pkg/attachment  - Attachments and their temporary resources
	github.com/sirosfoundation/go-ebms/pkg/mime        - MIME multipart/related packaging
	github.com/sirosfoundation/go-ebms/pkg/compression - Payload compression
	github.com/sirosfoundation/go-ebms/pkg/transport   - HTTPS client and server

The ebmsctl command under cmd/ wires these packages from a YAML
configuration file.

# Quick Start

	resolver := pmode.NewResolver(pmode.NewMemoryStore(), logger)
	if _, err := resolver.Put(ctx, pm); err != nil {
	    return err
	}

	engine, err := msh.New(msh.Config{
	    PModes:    resolver,
	    Transport: transport.NewHTTPSClient(transport.DefaultHTTPSConfig()),
	    Logger:    logger,
	})
	if err != nil {
	    return err
	}
	defer engine.Close()

	d, err := engine.Send(ctx, &msh.Outbound{
	    PModeID:  pm.ID,
	    Payloads: []msh.Payload{{MIMEType: "application/xml", Data: order}},
	})
	if err != nil {
	    return err
	}
	res, err := d.Wait(ctx)

The engine is also a transport.Handler, so it can be served directly:

	server := transport.NewHTTPSServer(":8443", serverConfig, engine)

# References

  - OASIS ebXML Messaging Services v3.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - OASIS AS4 Profile of ebMS 3.0 Version 1.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - eDelivery AS4 2.0: https://ec.europa.eu/digital-building-blocks/sites/spaces/DIGITAL/pages/845480153/eDelivery+AS4+-+2.0

# License

BSD-2-Clause License
*/
package ebms
