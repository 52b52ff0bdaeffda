// Package ipv4 decodes the IPv4 header (spec.md ss4.4).
//
// The fragmentation-flag decoding deliberately preserves the reference
// tool's negated bit senses (DF clear => MayFragment, MF clear =>
// LastFragment) -- spec.md ss4.4 calls this out explicitly as a
// bit-compatibility requirement, not a bug to fix.
package ipv4

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/dantte-lp/ldapdecode/internal/byteio"
)

// MinHeaderSize is the minimum IPv4 header length (5 words x 4 bytes,
// spec.md ss3).
const MinHeaderSize = 20

// ProtocolTCP is the only IP protocol number this decoder's caller
// processes further (spec.md ss4.4).
const ProtocolTCP uint8 = 6

// Bit masks for the 16-bit flags+fragment-offset word at byte 6
// (spec.md ss3/ss4.4).
const (
	flagDF        = 0x4000
	flagMF        = 0x2000
	fragOffsetMask = 0x1FFF
)

// Sentinel errors.
var (
	// ErrTooShort indicates fewer than MinHeaderSize bytes are available
	// from offset, or fewer than header_words*4 once that's known.
	ErrTooShort = errors.New("ipv4: header shorter than declared length")

	// ErrNotVersion4 indicates the version nibble isn't 4.
	ErrNotVersion4 = errors.New("ipv4: version field is not 4")

	// ErrHeaderWordsTooSmall indicates header_words < 5 (spec.md ss3).
	ErrHeaderWordsTooSmall = errors.New("ipv4: header_words below minimum of 5")
)

// Header is a decoded IPv4 header (spec.md ss3).
type Header struct {
	Version      uint8
	HeaderWords  uint8
	TOS          uint8
	TotalLength  uint16
	ID           uint16

	// MayFragment and LastFragment use the reference tool's negated
	// bit senses: MayFragment is true when DF is CLEAR, LastFragment is
	// true when MF is CLEAR (spec.md ss4.4).
	MayFragment  bool
	LastFragment bool
	FragmentOffset uint16

	TTL      uint8
	Protocol uint8
	Checksum uint16
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Options  []byte

	// PayloadOffset is offset (the caller-supplied start of the IPv4
	// header within the frame) plus the header's own byte length.
	PayloadOffset int
}

// Decode parses an IPv4 header from buf starting at offset.
func Decode(buf []byte, offset int) (Header, error) {
	if len(buf)-offset < MinHeaderSize {
		return Header{}, fmt.Errorf("ipv4: need %d bytes at offset %d, have %d: %w",
			MinHeaderSize, offset, len(buf)-offset, ErrTooShort)
	}

	b0 := buf[offset]
	version := b0 >> 4
	headerWords := b0 & 0x0F

	if version != 4 {
		return Header{}, fmt.Errorf("ipv4: version %d: %w", version, ErrNotVersion4)
	}
	if headerWords < 5 {
		return Header{}, fmt.Errorf("ipv4: header_words %d: %w", headerWords, ErrHeaderWordsTooSmall)
	}

	headerLen := int(headerWords) * 4
	if len(buf)-offset < headerLen {
		return Header{}, fmt.Errorf("ipv4: need %d bytes at offset %d for full header, have %d: %w",
			headerLen, offset, len(buf)-offset, ErrTooShort)
	}

	fragWord := byteio.Uint16BE(buf, offset+6)

	h := Header{
		Version:      version,
		HeaderWords:  headerWords,
		TOS:          buf[offset+1],
		TotalLength:  byteio.Uint16BE(buf, offset+2),
		ID:           byteio.Uint16BE(buf, offset+4),
		MayFragment:  fragWord&flagDF == 0,
		LastFragment: fragWord&flagMF == 0,
		FragmentOffset: fragWord & fragOffsetMask,
		TTL:      buf[offset+8],
		Protocol: buf[offset+9],
		Checksum: byteio.Uint16BE(buf, offset+10),
		SrcIP:    addrFromBytes(buf[offset+12 : offset+16]),
		DstIP:    addrFromBytes(buf[offset+16 : offset+20]),
	}

	if headerLen > MinHeaderSize {
		h.Options = buf[offset+MinHeaderSize : offset+headerLen]
	}
	h.PayloadOffset = offset + headerLen

	return h, nil
}

// IsFragmented reports whether the header describes a fragment other than
// a complete, unfragmented datagram: a nonzero fragment offset, or the
// "more fragments" indication (LastFragment == false). spec.md ss9 flags
// this as an open question the driver should warn on rather than silently
// mis-decode.
func (h Header) IsFragmented() bool {
	return h.FragmentOffset != 0 || !h.LastFragment
}

func addrFromBytes(b []byte) netip.Addr {
	var a [4]byte
	copy(a[:], b)
	return netip.AddrFrom4(a)
}
