package transport

import "errors"

// Typed transport errors (spec.md §7 "Transport").
var (
	ErrWriteShortfall = errors.New("transport: write shortfall")
	ErrWriteTimeout   = errors.New("transport: write timeout")
	ErrRxOverflow     = errors.New("transport: rx overflow")
	ErrTxGated        = errors.New("transport: tx gated by peer XOFF")
)
