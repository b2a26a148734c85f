package wire

import "errors"

// Errors returned by COBS decoding. Defined here (rather than in
// pkg/frame) because they are pure framing errors, independent of any
// higher-level frame semantics.
var (
	// ErrCOBSZeroCode means a code byte inside the COBS body was 0x00,
	// which is never valid mid-body (0x00 only ever terminates a frame).
	ErrCOBSZeroCode = errors.New("wire: cobs code byte is zero")
	// ErrCOBSTruncated means a code byte pointed past the end of the
	// source before a complete block could be consumed.
	ErrCOBSTruncated = errors.New("wire: cobs body truncated")
	// ErrCOBSOverflow means the decoded length would exceed the caller's
	// maximum raw frame size.
	ErrCOBSOverflow = errors.New("wire: cobs decoded length exceeds limit")
)

// COBSEncode implements Consistent Overhead Byte Stuffing. It replaces
// every zero byte in src with a distance-to-next-zero code byte, so the
// result never contains 0x00. The caller is responsible for appending the
// single 0x00 delimiter that terminates a wire frame; COBSEncode returns
// only the stuffed body.
//
// Output length is at most len(src) + len(src)/254 + 1.
func COBSEncode(src []byte) []byte {
	dst := make([]byte, 0, len(src)+len(src)/254+2)

	// codePos is the index in dst reserved for the next code byte; it is
	// backfilled once the run length to the next zero (or end) is known.
	codePos := len(dst)
	dst = append(dst, 0) // placeholder
	run := byte(1)

	flush := func() {
		dst[codePos] = run
		codePos = len(dst)
		dst = append(dst, 0)
		run = 1
	}

	for _, b := range src {
		if b == 0x00 {
			flush()
			continue
		}
		dst = append(dst, b)
		run++
		if run == 0xFF {
			flush()
		}
	}
	dst[codePos] = run

	return dst
}

// COBSDecode is the inverse of COBSEncode: it removes the distance codes
// from a stuffed body and returns the original bytes. maxRawSize bounds
// the reconstructed length; exceeding it returns ErrCOBSOverflow before
// any unbounded allocation happens.
//
// src must be the COBS body only, without the trailing 0x00 delimiter.
func COBSDecode(src []byte, maxRawSize int) ([]byte, error) {
	dst := make([]byte, 0, len(src))

	i := 0
	for i < len(src) {
		code := src[i]
		if code == 0x00 {
			return nil, ErrCOBSZeroCode
		}
		blockLen := int(code) - 1
		start := i + 1
		end := start + blockLen
		if end > len(src) {
			return nil, ErrCOBSTruncated
		}
		if len(dst)+blockLen > maxRawSize {
			return nil, ErrCOBSOverflow
		}
		dst = append(dst, src[start:end]...)
		// A full-length block (code == 0xFF) is not followed by an
		// implicit zero; any other code value is, unless it's the last
		// block in the source.
		if code != 0xFF && end < len(src) {
			if len(dst)+1 > maxRawSize {
				return nil, ErrCOBSOverflow
			}
			dst = append(dst, 0x00)
		}
		i = end
	}

	return dst, nil
}
