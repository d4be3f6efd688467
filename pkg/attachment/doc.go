// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package attachment carries the binary payloads of ebMS3/AS4 user messages.

Payloads can be large, compressed and backed by live network streams, so
every attachment is bound to a ResourceManager that owns the temp files and
open streams created on its behalf:

	rm := attachment.NewResourceManager()
	defer rm.Close()

	att, err := attachment.FromBytes(rm, invoice, "application/xml", compression.GZIP)
	if err != nil {
	    return err
	}
	r, err := att.Open() // gzip bytes; att.OpenUncompressed() for the original

# Providers

An attachment reads its bytes from a Provider. File and memory providers are
repeatable and may be opened any number of times, one after the other.
Stream providers are single-use: the second Open fails with
ErrAlreadyConsumed instead of returning empty data.

# Inbound parts

FromPart keeps parts of up to 64 KiB in memory and spools larger or
unsized parts into a temp file of the manager, so received payloads are
always either cheap to re-read or safely on disk.
*/
package attachment
