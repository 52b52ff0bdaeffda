package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/dantte-lp/ldapdecode/internal/byteio"
)

// snoopMagic is the fixed 8-byte literal that opens a snoop-like file
// (spec.md ss6: bytes 73 6E 6F 6F 70 00 00 00).
const snoopMagic = "snoop\x00\x00\x00"

// snoopRecordHeaderSize is the fixed 24-byte record header (spec.md ss6).
const snoopRecordHeaderSize = 24

// snoopSupportedVersion is the only accepted snoop-like version field.
const snoopSupportedVersion = 2

// snoopLinkTypeEthernet is the only snoop-like link-type this decoder
// processes (spec.md ss4.2: "only 4 = Ethernet is processed"). Link-types
// 0..9 are recognized at open; anything outside that range fails open
// entirely, and recognized-but-non-Ethernet types fail with
// ErrUnsupportedLinkType.
const snoopLinkTypeEthernet = 4

const snoopMaxRecognizedLinkType = 9

// snoopReader decodes the snoop-like container (spec.md ss4.2, ss6).
type snoopReader struct {
	r *bufio.Reader
}

func openSnoopLike(br *bufio.Reader) (Reader, error) {
	header, err := byteio.ReadExact(br, 16)
	if err != nil {
		return nil, fmt.Errorf("capture: snoop-like header: %w", translateEOF(err))
	}

	if string(header[0:8]) != snoopMagic {
		return nil, fmt.Errorf("capture: snoop-like magic %q: %w", header[0:8], ErrBadMagic)
	}

	version := byteio.Uint32BE(header, 8)
	if version != snoopSupportedVersion {
		return nil, fmt.Errorf("capture: snoop-like version %d: %w", version, ErrUnsupportedVersion)
	}

	linkType := byteio.Uint32BE(header, 12)
	if linkType > snoopMaxRecognizedLinkType {
		return nil, fmt.Errorf("capture: snoop-like link type %d: %w", linkType, ErrUnsupportedLinkType)
	}
	if linkType != snoopLinkTypeEthernet {
		return nil, fmt.Errorf("capture: snoop-like link type %d (not Ethernet): %w", linkType, ErrUnsupportedLinkType)
	}

	return &snoopReader{r: br}, nil
}

func (s *snoopReader) Next() (PacketRecord, error) {
	header, err := byteio.ReadExact(s.r, snoopRecordHeaderSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return PacketRecord{}, io.EOF
		}
		return PacketRecord{}, fmt.Errorf("capture: snoop-like record header: %w", err)
	}

	originalLen := byteio.Uint32BE(header, 0)
	includedLen := byteio.Uint32BE(header, 4)
	recordLen := byteio.Uint32BE(header, 8)
	cumulativeDrops := byteio.Uint32BE(header, 12)
	tsSeconds := byteio.Uint32BE(header, 16)
	tsMicros := byteio.Uint32BE(header, 20)

	minRecordLen := snoopRecordHeaderSize + includedLen
	if recordLen < minRecordLen {
		return PacketRecord{}, fmt.Errorf(
			"capture: record_len %d < 24+included_len %d: %w", recordLen, minRecordLen, ErrBadRecordLength)
	}

	payload, err := byteio.ReadExact(s.r, int(includedLen))
	if err != nil {
		return PacketRecord{}, fmt.Errorf("capture: snoop-like record payload: %w", translateEOF(err))
	}

	padLen := int(recordLen) - snoopRecordHeaderSize - int(includedLen)
	if padLen > 0 {
		if _, err := byteio.ReadExact(s.r, padLen); err != nil {
			return PacketRecord{}, fmt.Errorf("capture: snoop-like record padding: %w", translateEOF(err))
		}
	}

	return PacketRecord{
		CapturedBytes:         payload,
		OriginalLength:        originalLen,
		TimestampSeconds:      uint64(tsSeconds),
		TimestampMicroseconds: tsMicros,
		Truncated:             uint32(len(payload)) < originalLen,
		CumulativeDrops:       cumulativeDrops,
		HasCumulativeDrops:    true,
	}, nil
}

// translateEOF turns an io.EOF reached mid-record into ErrContainerTruncated
// (spec.md ss7: "a None from the underlying stream in the middle of a
// record is a truncated-capture fatal error"), while leaving a short-read
// (ErrShortRead) error as-is since it already carries that meaning.
func translateEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, byteio.ErrShortRead) {
		return fmt.Errorf("%w: %w", ErrContainerTruncated, err)
	}
	return err
}
