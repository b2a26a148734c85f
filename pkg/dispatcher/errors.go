package dispatcher

import "errors"

// These mirror the three failure classes spec.md §4.5 lists for the
// dispatcher; they are returned by internal helpers for logging, not
// placed on the wire directly — the wire-visible consequence is always a
// STATUS_* frame sent through FrameSender.
var (
	ErrUnknownCommand     = errors.New("dispatcher: unknown command")
	ErrWrongDirection     = errors.New("dispatcher: command arrived from the wrong side")
	ErrPayloadShapeInvalid = errors.New("dispatcher: payload shape invalid")
)
