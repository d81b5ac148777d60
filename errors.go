package btcp

import "errors"

// ErrBadState is returned when an operation is invoked in a lifecycle state
// that does not permit it (e.g. Send before Connect, Accept twice).
var ErrBadState = errors.New("btcp: operation invalid in current state")

// ErrOversizedPayload is returned by Pack when a segment's DataLen exceeds
// PayloadSize.
var ErrOversizedPayload = errors.New("btcp: payload exceeds maximum segment size")

// errShortBuffer is returned by Pack/Unpack when the destination or source
// buffer is smaller than segmentSize.
var errShortBuffer = errors.New("btcp: buffer shorter than segment size")

// errWrongFlag is the internal guard returned by buildAck when invoked
// with anything but FlagACK: an acknowledgement helper called with the
// wrong flag indicates a programming error in the caller, not a wire
// problem, so it never reaches application code.
var errWrongFlag = errors.New("btcp: acknowledgement helper invoked with non-ACK flag")
