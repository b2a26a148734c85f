// Package rle implements the optional heuristic run-length compression
// for outbound payloads described in spec.md §4.6. It is a pure,
// allocation-light byte transform with no framing or link awareness;
// pkg/dispatcher applies it through Wrap/Unwrap to blob fields when the
// configuration enables it, and Wrap uses ShouldCompress to decide per
// payload.
package rle

import "errors"

// EscapeByte marks the start of a run (or an escaped literal 0xFF) in
// the encoded stream.
const EscapeByte = 0xFF

// MinRunLength is the shortest run worth encoding; shorter repeats cost
// more encoded than they save (spec.md §4.6).
const MinRunLength = 4

// MaxRunLength is the longest run a single (escape, count, byte) triple
// can represent; longer runs are split into multiple triples.
const MaxRunLength = 256

// literalEscapeMarker is the count value meaning "the following byte is
// a single literal 0xFF", not the start of a run.
const literalEscapeMarker = 255

// Errors returned by Decode on a malformed or truncated sequence.
var (
	ErrTruncated = errors.New("rle: truncated escape sequence")
	ErrMalformed = errors.New("rle: malformed escape sequence")
)

// Encode compresses data using the run-length scheme above. It always
// succeeds; callers should gate its use on ShouldCompress so they don't
// pay the encode cost (or risk expansion) on data that doesn't benefit.
func Encode(data []byte) []byte {
	out := make([]byte, 0, len(data))

	i := 0
	for i < len(data) {
		b := data[i]
		j := i + 1
		for j < len(data) && data[j] == b {
			j++
		}
		runLen := j - i

		if runLen >= MinRunLength {
			remaining := runLen
			for remaining > 0 {
				chunk := remaining
				if chunk > MaxRunLength {
					chunk = MaxRunLength
				}
				if chunk == 1 {
					// A single leftover byte cannot be a triple (count
					// 255 is the literal-0xFF marker), so emit it as a
					// literal.
					if b == EscapeByte {
						out = append(out, EscapeByte, literalEscapeMarker, EscapeByte)
					} else {
						out = append(out, b)
					}
					break
				}
				out = append(out, EscapeByte, byte(chunk-2), b)
				remaining -= chunk
			}
		} else {
			for k := 0; k < runLen; k++ {
				if b == EscapeByte {
					out = append(out, EscapeByte, literalEscapeMarker, EscapeByte)
				} else {
					out = append(out, b)
				}
			}
		}

		i = j
	}

	return out
}

// Decode reverses Encode. It rejects truncated or malformed escape
// sequences rather than guessing at intent.
func Decode(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))

	i := 0
	for i < len(data) {
		b := data[i]
		if b != EscapeByte {
			out = append(out, b)
			i++
			continue
		}

		if i+2 >= len(data) {
			return nil, ErrTruncated
		}
		count := data[i+1]
		payloadByte := data[i+2]

		if count == literalEscapeMarker {
			if payloadByte != EscapeByte {
				return nil, ErrMalformed
			}
			out = append(out, EscapeByte)
			i += 3
			continue
		}

		runLen := int(count) + 2
		for k := 0; k < runLen; k++ {
			out = append(out, payloadByte)
		}
		i += 3
	}

	return out, nil
}

// ShouldCompress is the cheap heuristic spec.md §4.6 calls for: compress
// only if the longest run is at least MinRunLength and the estimated
// compressed length is actually shorter than the input. It scans once
// without allocating an output buffer.
func ShouldCompress(data []byte) bool {
	longest := 0
	estimated := 0

	i := 0
	for i < len(data) {
		b := data[i]
		j := i + 1
		for j < len(data) && data[j] == b {
			j++
		}
		runLen := j - i
		if runLen > longest {
			longest = runLen
		}

		if runLen >= MinRunLength {
			triples := (runLen + MaxRunLength - 1) / MaxRunLength
			estimated += triples * 3
		} else if b == EscapeByte {
			estimated += runLen * 3
		} else {
			estimated += runLen
		}

		i = j
	}

	if longest < MinRunLength {
		return false
	}
	return estimated < len(data)
}

// tagLiteral and tagRLE are the one-byte payload-envelope prefixes Wrap
// and Unwrap use. spec.md §6 fixes the frame layout with no compression
// bit in the header, so a command whose payload may be RLE-compressed
// carries that fact inside the payload itself; both ends already agree
// out of band (the enable_rle configuration knob) on which commands use
// this envelope.
const (
	tagLiteral = 0x00
	tagRLE     = 0x01
)

// Wrap prepends a one-byte tag to data, compressing it first when
// enabled and ShouldCompress judges it worthwhile. The result is always
// at least one byte, even for an empty input.
func Wrap(enable bool, data []byte) []byte {
	if enable && ShouldCompress(data) {
		enc := Encode(data)
		out := make([]byte, 0, len(enc)+1)
		out = append(out, tagRLE)
		return append(out, enc...)
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, tagLiteral)
	return append(out, data...)
}

// Unwrap reverses Wrap, decompressing when the tag says the payload was
// compressed.
func Unwrap(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrTruncated
	}
	tag, body := data[0], data[1:]
	switch tag {
	case tagLiteral:
		return append([]byte(nil), body...), nil
	case tagRLE:
		return Decode(body)
	default:
		return nil, ErrMalformed
	}
}
