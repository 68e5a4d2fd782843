// Package aritext implements the text (URI-scheme) form of an ARI: the
// `ari:` grammar described in spec §4.2, encoding and decoding against
// the package ari value model.
/*
 * Copyright (c) 2024-2025, JHUAPL DTNMA Contributors. All rights reserved.
 */
package aritext

import "fmt"

// DecodeError reports a structural failure with the byte offset at which
// the grammar could not continue, per spec §4.2: "the decoder... fails
// with a structured error-message and offset."
type DecodeError struct {
	Offset  int
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("aritext: %s (at offset %d)", e.Message, e.Offset)
}

func errAt(off int, format string, args ...any) error {
	return &DecodeError{Offset: off, Message: fmt.Sprintf(format, args...)}
}
