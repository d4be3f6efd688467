// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mime packs an ebMS envelope and its attachments into a
multipart/related body and reads such bodies back.

The SOAP envelope is always the root part. Each attachment follows as its
own part with the wire headers of attachment.Attachment:

	Content-Type: multipart/related; type="application/soap+xml";
	    start="9c3f...@ebms"; boundary="----=_Part_..."

	------=_Part_...
	Content-Type: application/soap+xml
	Content-ID: <9c3f...@ebms>

	<S12:Envelope>...</S12:Envelope>
	------=_Part_...
	Content-Type: application/gzip
	Content-ID: <invoice@example.com>
	Content-Transfer-Encoding: binary

	...

A message without attachments is sent as a bare application/soap+xml body.

# Writing

Attachment bytes are streamed from their providers while the body is
written, so a retry needs repeatable attachments:

	msg := mime.NewMessage(envelope, atts)
	resp, err := client.Send(ctx, url, msg.Reader(), msg.ContentType())

# Reading

Parse spools attachments into the given resource manager. Correlate then
applies the PartInfo properties of the UserMessage, which tell the
compression and the original MIME type of each part:

	msg, err := mime.Parse(rm, body, contentType)
	parsed, err := message.ParseEnvelope(msg.Envelope)
	err = msg.Correlate(parsed.Messaging().UserMessage)

Content-IDs match in any notation: "cid:a@b", "<a@b>" and "a@b" name the
same part.
*/
package mime
