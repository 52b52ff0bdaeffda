// Package ber implements the definite-length BER element splitter
// (spec.md ss4.7), the central algorithm of the decoder: given an
// accumulated byte buffer, pull out one complete element at a time and
// report how much of the buffer remains unconsumed.
//
// This package does not interpret element contents; full ASN.1/LDAP
// decode is the concern of internal/ldapmsg.
package ber

import (
	"errors"
	"fmt"
)

// MaxElementSize is the hard cap on how many bytes a buffer may hold while
// still waiting for its first element to complete, chosen conservatively
// to reject denial-of-service and runaway-parse conditions (spec.md ss4.7).
// It is checked only on the needs-more paths: an element that is already
// complete in buf is returned whatever its size.
const MaxElementSize = 20 * 1024 * 1024

// sequenceTag is the only tag byte accepted at the start of a buffer
// (universal constructed SEQUENCE, 0x30).
const sequenceTag = 0x30

// Sentinel errors.
var (
	// ErrNonLdapStart indicates the buffer's first byte is not the
	// SEQUENCE tag; the caller must reset the flow (spec.md ss4.7 guard 1).
	ErrNonLdapStart = errors.New("ber: buffer does not start with a SEQUENCE tag")

	// ErrIndefiniteLength indicates the length octet was 0x80 (indefinite)
	// or 0xFF (reserved); the caller must reset the flow (guard 2).
	ErrIndefiniteLength = errors.New("ber: indefinite or reserved length form")

	// ErrOversized indicates the buffer exceeded MaxElementSize while
	// waiting for a complete element; the caller must drop the buffer
	// (guard 4).
	ErrOversized = errors.New("ber: element exceeds maximum size")

	// errNeedsMore is returned internally to signal "not enough bytes
	// yet"; Split translates it into (Element{}, false, nil).
	errNeedsMore = errors.New("ber: incomplete element")
)

// Element is one decoded definite-length BER TLV (spec.md ss3).
type Element struct {
	Tag    byte
	Length uint32
	Value  []byte

	// Raw is the complete encoded element (tag octet, length octets, and
	// value), as it appeared in the capture. LdapMessageParser decodes
	// from this rather than re-deriving the length encoding.
	Raw []byte
}

// Split attempts to extract exactly one complete Element from the front
// of buf. It returns:
//
//   - (element, true, remainder, nil) on success: remainder is the
//     unconsumed tail of buf after the element.
//   - (Element{}, false, buf, nil) if buf does not yet hold a complete
//     element (guard 3) — the caller should append more bytes and retry.
//   - (Element{}, false, nil, err) on a guard failure (guards 1, 2, 4);
//     the caller must reset the flow's buffer entirely.
func Split(buf []byte) (elem Element, ok bool, remainder []byte, err error) {
	if len(buf) == 0 {
		return Element{}, false, buf, nil
	}

	if buf[0] != sequenceTag {
		return Element{}, false, nil, fmt.Errorf("ber: first byte %#02x: %w", buf[0], ErrNonLdapStart)
	}

	length, prefixLen, err := parseLength(buf)
	if err != nil {
		if errors.Is(err, errNeedsMore) {
			if len(buf) > MaxElementSize {
				return Element{}, false, nil, fmt.Errorf("ber: %d bytes pending length: %w", len(buf), ErrOversized)
			}
			return Element{}, false, buf, nil
		}
		return Element{}, false, nil, err
	}

	total := 1 + prefixLen + int(length)
	if total > len(buf) {
		if len(buf) > MaxElementSize {
			return Element{}, false, nil, fmt.Errorf("ber: %d bytes accumulated: %w", len(buf), ErrOversized)
		}
		return Element{}, false, buf, nil
	}

	value := buf[1+prefixLen : total]
	return Element{Tag: buf[0], Length: length, Value: value, Raw: buf[:total]}, true, buf[total:], nil
}

// parseLength reads the BER length octets following the tag byte at
// buf[0]. It returns the decoded length and the number of bytes the
// length field itself occupies (1 for short form, 1+N for long form).
func parseLength(buf []byte) (length uint32, prefixLen int, err error) {
	if len(buf) < 2 {
		return 0, 0, errNeedsMore
	}

	first := buf[1]
	if first < 0x80 {
		return uint32(first), 1, nil
	}

	if first == 0x80 || first == 0xFF {
		return 0, 0, fmt.Errorf("ber: length octet %#02x: %w", first, ErrIndefiniteLength)
	}

	numBytes := int(first & 0x7F)
	if len(buf) < 2+numBytes {
		return 0, 0, errNeedsMore
	}

	var v uint32
	for i := 0; i < numBytes; i++ {
		v = v<<8 | uint32(buf[2+i])
	}
	return v, 1 + numBytes, nil
}
