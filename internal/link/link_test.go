package link_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/ldapdecode/internal/link"
)

func ethFrame(etherType uint16, payload []byte) []byte {
	buf := make([]byte, link.HeaderSize+len(payload))
	copy(buf[0:6], []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})
	copy(buf[6:12], []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	buf[12] = byte(etherType >> 8)
	buf[13] = byte(etherType)
	copy(buf[14:], payload)
	return buf
}

func TestDecodeIPv4(t *testing.T) {
	buf := ethFrame(link.EtherTypeIPv4, []byte("payload"))
	h, err := link.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if h.EtherType != link.EtherTypeIPv4 {
		t.Fatalf("EtherType = %#x", h.EtherType)
	}
	if h.PayloadOffset != link.HeaderSize {
		t.Fatalf("PayloadOffset = %d", h.PayloadOffset)
	}
	if h.DstMAC != [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF} {
		t.Fatalf("DstMAC = %v", h.DstMAC)
	}
}

func TestDecodeTooShort(t *testing.T) {
	_, err := link.Decode(make([]byte, 10))
	if !errors.Is(err, link.ErrTooShort) {
		t.Fatalf("Decode = %v, want ErrTooShort", err)
	}
}

func TestDecodeVLANTagged(t *testing.T) {
	buf := ethFrame(0x8100, []byte("payload"))
	_, err := link.Decode(buf)
	if !errors.Is(err, link.ErrVLANTagged) {
		t.Fatalf("Decode = %v, want ErrVLANTagged", err)
	}
}

func TestDecodeNonIPv4(t *testing.T) {
	buf := ethFrame(0x86DD, []byte("payload")) // IPv6
	h, err := link.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if h.EtherType == link.EtherTypeIPv4 {
		t.Fatal("expected non-IPv4 ethertype")
	}
}
