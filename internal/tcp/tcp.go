// Package tcp decodes the TCP segment header (spec.md ss4.5).
package tcp

import (
	"errors"
	"fmt"

	"github.com/dantte-lp/ldapdecode/internal/byteio"
)

// MinHeaderSize is the minimum TCP header length (5 words x 4 bytes).
const MinHeaderSize = 20

// Flag bits within the 13th header byte (spec.md ss3).
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
	FlagURG uint8 = 1 << 5
)

// Sentinel errors.
var (
	// ErrTooShort indicates fewer than MinHeaderSize bytes are available,
	// or fewer than header_words*4 once that's known.
	ErrTooShort = errors.New("tcp: segment shorter than declared header length")

	// ErrHeaderWordsTooSmall indicates header_words < 5.
	ErrHeaderWordsTooSmall = errors.New("tcp: header_words below minimum of 5")
)

// Header is a decoded TCP segment header (spec.md ss3).
type Header struct {
	SrcPort     uint16
	DstPort     uint16
	Seq         uint32
	Ack         uint32
	HeaderWords uint8
	Flags       uint8
	Window      uint16
	Checksum    uint16
	Urgent      uint16
	Options     []byte

	// PayloadOffset is offset plus this header's own byte length
	// (header_words*4).
	PayloadOffset int
}

// HasFlag reports whether all bits in mask are set in Flags.
func (h Header) HasFlag(mask uint8) bool {
	return h.Flags&mask == mask
}

// Decode parses a TCP header from buf starting at offset.
func Decode(buf []byte, offset int) (Header, error) {
	if len(buf)-offset < MinHeaderSize {
		return Header{}, fmt.Errorf("tcp: need %d bytes at offset %d, have %d: %w",
			MinHeaderSize, offset, len(buf)-offset, ErrTooShort)
	}

	headerWords := buf[offset+12] >> 4
	if headerWords < 5 {
		return Header{}, fmt.Errorf("tcp: header_words %d: %w", headerWords, ErrHeaderWordsTooSmall)
	}

	headerLen := int(headerWords) * 4
	if len(buf)-offset < headerLen {
		return Header{}, fmt.Errorf("tcp: need %d bytes at offset %d for full header, have %d: %w",
			headerLen, offset, len(buf)-offset, ErrTooShort)
	}

	h := Header{
		SrcPort:     byteio.Uint16BE(buf, offset),
		DstPort:     byteio.Uint16BE(buf, offset+2),
		Seq:         byteio.Uint32BE(buf, offset+4),
		Ack:         byteio.Uint32BE(buf, offset+8),
		HeaderWords: headerWords,
		Flags:       buf[offset+13] & 0x3F,
		Window:      byteio.Uint16BE(buf, offset+14),
		Checksum:    byteio.Uint16BE(buf, offset+16),
		Urgent:      byteio.Uint16BE(buf, offset+18),
	}

	if headerLen > MinHeaderSize {
		h.Options = buf[offset+MinHeaderSize : offset+headerLen]
	}
	h.PayloadOffset = offset + headerLen

	return h, nil
}
