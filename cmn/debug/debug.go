// Package debug provides cheap runtime assertions, generalized from the
// teacher's cmn/debug package: the invariant checks stay in the binary
// at all times (unlike the teacher's build-tag-gated version) since this
// module has no equivalent of the teacher's per-subsystem verbosity
// dials to gate them on.
/*
 * Copyright (c) 2024-2025, JHUAPL DTNMA Contributors. All rights reserved.
 */
package debug

import "fmt"

// Assert panics with a, formatted like fmt.Sprintln, if cond is false.
func Assert(cond bool, a ...interface{}) {
	if cond {
		return
	}
	if len(a) == 0 {
		panic("assertion failed")
	}
	panic(fmt.Sprintln(a...))
}

// Assertf is Assert with a printf-style message.
func Assertf(cond bool, f string, a ...interface{}) {
	if cond {
		return
	}
	panic(fmt.Sprintf(f, a...))
}

// AssertNoErr panics if err is non-nil, the same guard the teacher
// wraps every "this can only fail if a prior invariant was violated"
// call site with.
func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

// AssertMsg panics with msg if cond is false.
func AssertMsg(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}
