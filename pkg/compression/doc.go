// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression provides payload compression for ebMS3/AS4 attachments.

AS4 compresses payloads individually with GZIP and announces the compression
in the PartInfo of the user message (CompressionType part property) while
the original MIME type travels in the MimeType part property.

# Modes

	mode := compression.ModeFromMIMEType("application/gzip") // compression.GZIP
	mode.MIMEType()                                          // "application/gzip"

# Streaming

Large payloads should not be buffered. Wrap writers and readers instead:

	w, err := compression.NewWriter(compression.GZIP, file)
	...
	r, err := compression.NewReader(compression.GZIP, src)

Compress and Decompress cover payloads small enough to hold in memory.

# References

  - OASIS AS4 Compression: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - GZIP RFC 1952: https://datatracker.ietf.org/doc/html/rfc1952
*/
package compression
