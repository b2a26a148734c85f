package frame

import (
	"github.com/librescoot/mdb-link/internal/wire"
	"github.com/librescoot/mdb-link/pkg/proto"
)

// Outcome classifies what a single Parser.Feed call produced.
type Outcome uint8

const (
	// OutcomeNone means the byte was buffered; no delimiter seen yet.
	OutcomeNone Outcome = iota
	// OutcomeIdle means a 0x00 arrived with an empty accumulator — the
	// idle separator between frames, not an error (spec.md §4.2, §8).
	OutcomeIdle
	// OutcomeFrame means a complete, validated Frame is ready.
	OutcomeFrame
	// OutcomeError means a 0x00 arrived, or the accumulator overflowed,
	// and decoding/validation failed; Parser.Feed's error return
	// describes why.
	OutcomeError
)

// Parser is a streaming, re-entrant consumer of wire bytes. It owns its
// scratch accumulator exclusively (spec.md §3 "Ownership"); after any
// outcome — success or error — it is immediately ready for the next
// byte, per spec.md §4.2's re-entrancy contract.
type Parser struct {
	acc []byte
}

// NewParser returns a Parser with a fresh, empty accumulator.
func NewParser() *Parser {
	return &Parser{acc: make([]byte, 0, proto.COBSBufferSize)}
}

// Feed consumes one byte from the wire. The returned Frame is only
// meaningful when outcome == OutcomeFrame.
func (p *Parser) Feed(b byte) (Frame, Outcome, error) {
	if b != 0x00 {
		if len(p.acc) >= proto.COBSBufferSize {
			p.reset()
			return Frame{}, OutcomeError, ErrOverflow
		}
		p.acc = append(p.acc, b)
		return Frame{}, OutcomeNone, nil
	}

	if len(p.acc) == 0 {
		return Frame{}, OutcomeIdle, nil
	}

	body := make([]byte, len(p.acc))
	copy(body, p.acc)
	p.reset()

	raw, err := wire.COBSDecode(body, proto.MaxRawFrameSize)
	if err != nil {
		return Frame{}, OutcomeError, mapCOBSErr(err)
	}

	f, err := validate(raw)
	if err != nil {
		return Frame{}, OutcomeError, err
	}

	return f, OutcomeFrame, nil
}

func (p *Parser) reset() {
	p.acc = p.acc[:0]
}

func mapCOBSErr(err error) error {
	switch err {
	case wire.ErrCOBSOverflow:
		return ErrOverflow
	default:
		return wrapf(KindMalformed, ErrMalformed, err)
	}
}

// validate checks the decoded raw frame against spec.md §4.2's rules and
// returns the parsed Frame, or a typed error on the first failing check.
func validate(raw []byte) (Frame, error) {
	if len(raw) < proto.MinRawFrameSize {
		return Frame{}, ErrMalformed
	}
	if raw[0] != proto.ProtoVersion {
		return Frame{}, ErrMalformed
	}

	payloadLen := int(wire.Uint16(raw[1:3]))
	if payloadLen > proto.MaxPayloadSize {
		return Frame{}, ErrMalformed
	}
	if proto.HeaderSize+payloadLen+proto.CRCSize != len(raw) {
		return Frame{}, ErrMalformed
	}

	cmd := proto.CommandID(wire.Uint16(raw[3:5]))
	payload := raw[5 : 5+payloadLen]
	wantCRC := wire.Uint32(raw[5+payloadLen:])
	gotCRC := wire.CRC32(raw[:5+payloadLen])
	if gotCRC != wantCRC {
		return Frame{}, ErrCRCMismatch
	}

	payloadCopy := make([]byte, payloadLen)
	copy(payloadCopy, payload)

	return Frame{
		Version:   raw[0],
		CommandID: cmd,
		Payload:   payloadCopy,
		CRC:       gotCRC,
	}, nil
}
