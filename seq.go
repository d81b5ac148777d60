package btcp

import "github.com/lithdew/seq"

// Seq is a 16-bit modular sequence or acknowledgement counter. Equality
// comparisons on Seq are always modular (plain == suffices since both
// operands live in the same 16-bit ring); ordering comparisons must go
// through Less/Greater, which are wrap-aware.
type Seq uint16

// SafeIncr returns n advanced by k, wrapping at 2^16.
func SafeIncr(n Seq, k uint16) Seq {
	return Seq(uint16(n) + k)
}

// Greater reports whether a is "ahead of" b in the modular sequence space,
// i.e. b would need to be incremented some number of times less than half
// the sequence space to reach a.
func Greater(a, b Seq) bool {
	return seq.GT(uint16(a), uint16(b))
}

// Less reports whether a is "behind" b in the modular sequence space. It is
// the strict converse of Greater for distinct values.
func Less(a, b Seq) bool {
	return a != b && seq.GT(uint16(b), uint16(a))
}
