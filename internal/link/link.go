// Package link decodes the Ethernet frame header (spec.md ss4.3).
//
// No VLAN tagging is recognized; a packet carrying one is rejected so the
// caller can skip it with a notice, matching spec.md ss3's EthernetHeader
// definition of a fixed 14-byte header.
package link

import (
	"errors"
	"fmt"

	"github.com/dantte-lp/ldapdecode/internal/byteio"
)

// HeaderSize is the fixed Ethernet header length in bytes (spec.md ss3).
const HeaderSize = 14

// EtherTypeIPv4 is the only EtherType this decoder's caller accepts for
// further processing (spec.md ss4.3).
const EtherTypeIPv4 uint16 = 0x0800

// etherTypeVLAN is the 802.1Q tag EtherType; its presence causes the
// packet to be rejected (spec.md ss3: "presence of a VLAN tag causes the
// packet to be skipped with a notice").
const etherTypeVLAN uint16 = 0x8100

// ErrTooShort indicates fewer than HeaderSize bytes are available.
var ErrTooShort = errors.New("link: frame shorter than ethernet header")

// ErrVLANTagged indicates the frame carries an 802.1Q tag, which this
// decoder does not recognize.
var ErrVLANTagged = errors.New("link: vlan-tagged frame not supported")

// Header is a decoded Ethernet frame header (spec.md ss3).
type Header struct {
	DstMAC   [6]byte
	SrcMAC   [6]byte
	EtherType uint16

	// PayloadOffset is the byte offset of the frame's payload, always
	// HeaderSize for this decoder (no VLAN support).
	PayloadOffset int
}

// Decode parses an Ethernet header from the start of buf.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("link: need %d bytes, got %d: %w", HeaderSize, len(buf), ErrTooShort)
	}

	var h Header
	copy(h.DstMAC[:], buf[0:6])
	copy(h.SrcMAC[:], buf[6:12])
	h.EtherType = byteio.Uint16BE(buf, 12)
	h.PayloadOffset = HeaderSize

	if h.EtherType == etherTypeVLAN {
		return Header{}, fmt.Errorf("link: ethertype %#04x: %w", h.EtherType, ErrVLANTagged)
	}

	return h, nil
}
