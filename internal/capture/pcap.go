package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/dantte-lp/ldapdecode/internal/byteio"
)

// pcapHeaderSize is the fixed 24-byte pcap-like file header (spec.md ss6).
const pcapHeaderSize = 24

// pcapRecordHeaderSize is the fixed 16-byte pcap-like record header.
const pcapRecordHeaderSize = 16

// pcapSupportedMajorVersion is the only accepted pcap-like major version.
const pcapSupportedMajorVersion = 2

// pcapLinkTypeEthernet is the only pcap-like link-type processed.
const pcapLinkTypeEthernet = 1

// pcap-like magic words (spec.md ss6): big-endian 0xA1B2C3D4 selects
// big-endian records, little-endian byte-swapped 0xD4C3B2A1 selects
// little-endian records.
const (
	pcapMagicBE = 0xA1B2C3D4
	pcapMagicLE = 0xD4C3B2A1
)

// pcapReader decodes the pcap-like container (spec.md ss4.2, ss6).
type pcapReader struct {
	r      *bufio.Reader
	endian byteio.Endian
}

func openPcapLike(br *bufio.Reader) (Reader, error) {
	header, err := byteio.ReadExact(br, pcapHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("capture: pcap-like header: %w", translateEOF(err))
	}

	magicBE := byteio.Uint32BE(header, 0)

	var endian byteio.Endian
	switch magicBE {
	case pcapMagicBE:
		endian = byteio.BigEndian
	case pcapMagicLE:
		endian = byteio.LittleEndian
	default:
		return nil, fmt.Errorf("capture: pcap-like magic %#x: %w", magicBE, ErrBadMagic)
	}

	major := byteio.Uint16(header, 4, endian)
	if major != pcapSupportedMajorVersion {
		return nil, fmt.Errorf("capture: pcap-like major version %d: %w", major, ErrUnsupportedVersion)
	}
	// minor version (bytes 6..8) is advisory and unchecked (spec.md ss4.2).
	// thiszone (8..12) and sigfigs (12..16) are ignored.

	snaplen := byteio.Uint32(header, 16, endian)
	if snaplen == 0 {
		return nil, fmt.Errorf("capture: %w", ErrZeroSnaplen)
	}

	linkType := byteio.Uint32(header, 20, endian)
	if linkType != pcapLinkTypeEthernet {
		return nil, fmt.Errorf("capture: pcap-like link type %d: %w", linkType, ErrUnsupportedLinkType)
	}

	return &pcapReader{r: br, endian: endian}, nil
}

func (p *pcapReader) Next() (PacketRecord, error) {
	header, err := byteio.ReadExact(p.r, pcapRecordHeaderSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return PacketRecord{}, io.EOF
		}
		return PacketRecord{}, fmt.Errorf("capture: pcap-like record header: %w", err)
	}

	tsSeconds := byteio.Uint32(header, 0, p.endian)
	tsMicros := byteio.Uint32(header, 4, p.endian)
	includedLen := byteio.Uint32(header, 8, p.endian)
	originalLen := byteio.Uint32(header, 12, p.endian)

	payload, err := byteio.ReadExact(p.r, int(includedLen))
	if err != nil {
		return PacketRecord{}, fmt.Errorf("capture: pcap-like record payload: %w", translateEOF(err))
	}

	return PacketRecord{
		CapturedBytes:         payload,
		OriginalLength:        originalLen,
		TimestampSeconds:      uint64(tsSeconds),
		TimestampMicroseconds: tsMicros,
		Truncated:             uint32(len(payload)) < originalLen,
	}, nil
}
