package tcp_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/ldapdecode/internal/tcp"
)

func tcpSegment(t *testing.T, flags uint8, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, tcp.MinHeaderSize+len(payload))
	buf[0], buf[1] = 0x01, 0xBB // src port 443
	buf[2], buf[3] = 0x00, 0x35 // dst port 53
	buf[4], buf[5], buf[6], buf[7] = 0, 0, 0, 1 // seq
	buf[8], buf[9], buf[10], buf[11] = 0, 0, 0, 2 // ack
	buf[12] = 5 << 4                             // header_words = 5
	buf[13] = flags
	buf[14], buf[15] = 0xFF, 0xFF // window
	copy(buf[20:], payload)
	return buf
}

func TestDecodeBasic(t *testing.T) {
	buf := tcpSegment(t, tcp.FlagSYN|tcp.FlagACK, []byte("ldap-payload"))
	h, err := tcp.Decode(buf, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if h.SrcPort != 443 || h.DstPort != 53 {
		t.Fatalf("ports = %d,%d", h.SrcPort, h.DstPort)
	}
	if !h.HasFlag(tcp.FlagSYN) || !h.HasFlag(tcp.FlagACK) {
		t.Fatalf("flags = %08b", h.Flags)
	}
	if h.HasFlag(tcp.FlagRST) {
		t.Fatal("unexpected RST flag")
	}
	if h.PayloadOffset != tcp.MinHeaderSize {
		t.Fatalf("PayloadOffset = %d", h.PayloadOffset)
	}
}

func TestDecodeHeaderWordsTooSmall(t *testing.T) {
	buf := tcpSegment(t, 0, nil)
	buf[12] = 4 << 4
	_, err := tcp.Decode(buf, 0)
	if !errors.Is(err, tcp.ErrHeaderWordsTooSmall) {
		t.Fatalf("Decode = %v, want ErrHeaderWordsTooSmall", err)
	}
}

func TestDecodeTooShort(t *testing.T) {
	_, err := tcp.Decode(make([]byte, 10), 0)
	if !errors.Is(err, tcp.ErrTooShort) {
		t.Fatalf("Decode = %v, want ErrTooShort", err)
	}
}

func TestDecodeWithOptions(t *testing.T) {
	buf := tcpSegment(t, tcp.FlagACK, []byte("z"))
	withOpts := make([]byte, 0, len(buf)+4)
	withOpts = append(withOpts, buf[:20]...)
	withOpts = append(withOpts, []byte{1, 2, 3, 4}...)
	withOpts = append(withOpts, buf[20:]...)
	withOpts[12] = 6 << 4 // header_words = 6

	h, err := tcp.Decode(withOpts, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(h.Options) != 4 {
		t.Fatalf("Options = %v", h.Options)
	}
	if h.PayloadOffset != 24 {
		t.Fatalf("PayloadOffset = %d", h.PayloadOffset)
	}
}

func TestDecodeReservedBitsMasked(t *testing.T) {
	buf := tcpSegment(t, tcp.FlagACK, nil)
	buf[13] |= 0xC0 // set the two reserved/ECN high bits
	h, err := tcp.Decode(buf, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if h.Flags&0xC0 != 0 {
		t.Fatalf("Flags = %08b, reserved bits should be masked off", h.Flags)
	}
}
