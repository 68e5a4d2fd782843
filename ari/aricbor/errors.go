// Package aricbor implements the binary (CBOR) form of an ARI per
// draft-ietf-dtn-ari, encoding and decoding against the package ari
// value model.
/*
 * Copyright (c) 2024-2025, JHUAPL DTNMA Contributors. All rights reserved.
 */
package aricbor

import "fmt"

// DecodeError reports a structural CBOR failure with the byte offset at
// which decoding could not continue.
type DecodeError struct {
	Offset  int
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("aricbor: %s (at offset %d)", e.Message, e.Offset)
}

func errAt(off int, format string, args ...any) error {
	return &DecodeError{Offset: off, Message: fmt.Sprintf(format, args...)}
}
