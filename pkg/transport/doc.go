// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport moves serialized ebMS messages over HTTPS.

HTTPSClient implements the msh.Transport contract and HTTPSServer feeds
request bodies to a Handler, normally an msh.Engine. Both share an
HTTPSConfig; DefaultHTTPSConfig allows TLS 1.2 and 1.3 with the AES-GCM
ECDHE suites of the eDelivery AS4 profile.

	client := transport.NewHTTPSClient(&transport.HTTPSConfig{
		MinTLSVersion: transport.TLS12,
		Certificates:  []tls.Certificate{clientCert},
		RootCAs:       partnerRoots,
	})
	resp, err := client.Send(ctx, endpoint, msg.Reader(), msg.ContentType())

Statuses outside 2xx come back as *StatusError carrying the response body,
since a partner rejecting a message answers with an ebMS error signal.
Retryable is true for 5xx, 408 and 429 only; the reliability scheduler
uses it to decide between another attempt and failure.

	server := transport.NewHTTPSServer(":8443", serverConfig, engine)
	go server.Start()

A handler returning a nil or empty Response yields 202 Accepted. Bodies
larger than MaxBodySize are refused on both sides.
*/
package transport
