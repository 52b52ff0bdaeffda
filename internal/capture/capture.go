// Package capture opens a packet-capture file, auto-detects its container
// format and endianness, and exposes a lazy sequence of PacketRecord
// values (spec.md ss4.2, ss6).
//
// Two container formats are accepted: a fixed big-endian "snoop-like"
// container, and a magic-number-driven "pcap-like" container that may be
// either big- or little-endian. Both are read from scratch here rather
// than through a general-purpose pcap library (see DESIGN.md C2) because
// the snoop-like variant has no real-world library support and the exact
// field layout in spec.md ss6 must be honored bit-for-bit.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Sentinel errors for container-level failures (spec.md ss7: these are all
// "fatal -- abort driver").
var (
	// ErrUnknownContainer indicates the first byte of the stream matches
	// neither the snoop-like nor pcap-like magic.
	ErrUnknownContainer = errors.New("capture: unknown container format")

	// ErrBadMagic indicates the snoop-like literal or pcap-like magic
	// word didn't match after the first byte was recognized.
	ErrBadMagic = errors.New("capture: bad container magic")

	// ErrUnsupportedVersion indicates a container version field outside
	// what spec.md ss4.2 requires (snoop-like version must be 2;
	// pcap-like major version must be 2).
	ErrUnsupportedVersion = errors.New("capture: unsupported container version")

	// ErrUnsupportedLinkType indicates a link-type other than Ethernet.
	ErrUnsupportedLinkType = errors.New("capture: unsupported link type")

	// ErrZeroSnaplen indicates a pcap-like header with snaplen == 0.
	ErrZeroSnaplen = errors.New("capture: zero snaplen")

	// ErrContainerTruncated indicates a short read while decoding a
	// file header or a record header/body (spec.md ss7).
	ErrContainerTruncated = errors.New("capture: truncated container")

	// ErrBadRecordLength indicates a snoop-like record whose record_len
	// is smaller than 24+included_len (spec.md ss4.2).
	ErrBadRecordLength = errors.New("capture: record length inconsistent with included length")
)

// PacketRecord is one captured frame (spec.md ss3).
type PacketRecord struct {
	// CapturedBytes is the raw frame data actually stored in the
	// capture (may be shorter than OriginalLength if the capture tool
	// truncated at the snaplen).
	CapturedBytes []byte

	// OriginalLength is the frame's length on the wire.
	OriginalLength uint32

	// TimestampSeconds and TimestampMicroseconds are the record's
	// capture timestamp.
	TimestampSeconds      uint64
	TimestampMicroseconds uint32

	// Truncated is true iff len(CapturedBytes) < OriginalLength.
	Truncated bool

	// CumulativeDrops is only meaningful for the snoop-like container;
	// HasCumulativeDrops reports whether it was populated.
	CumulativeDrops    uint32
	HasCumulativeDrops bool
}

// Reader produces PacketRecord values in capture order. Next returns
// io.EOF at clean end of input.
type Reader interface {
	// Next reads and returns the next record, or io.EOF at clean EOF.
	Next() (PacketRecord, error)
}

// Open peeks the first byte of r to auto-detect the container format
// (spec.md ss4.2 table), validates the fixed file header, and returns a
// Reader positioned at the first record.
func Open(r io.Reader) (Reader, error) {
	br := bufio.NewReader(r)

	first, err := br.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("capture: %w", ErrContainerTruncated)
		}
		return nil, fmt.Errorf("capture: peek first byte: %w", err)
	}

	switch first[0] {
	case 's':
		return openSnoopLike(br)
	case 0xA1, 0xD4:
		return openPcapLike(br)
	default:
		return nil, fmt.Errorf("capture: first byte %#x: %w", first[0], ErrUnknownContainer)
	}
}
