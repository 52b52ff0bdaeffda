package ldapmsg_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/ldapdecode/internal/ber"
	"github.com/dantte-lp/ldapdecode/internal/ldapmsg"
)

// bindRequestBytes is a hand-built minimal LDAP BindRequest envelope:
//
//	SEQUENCE {
//	  INTEGER messageID (1)
//	  [APPLICATION 0] BindRequest SEQUENCE {
//	    INTEGER version (3)
//	    OCTET STRING name ("")
//	    [0] simple authentication ("")
//	  }
//	}
func bindRequestBytes() []byte {
	return []byte{
		0x30, 0x0C,
		0x02, 0x01, 0x01, // messageID = 1
		0x60, 0x07, // [APPLICATION 0] BindRequest, len 7
		0x02, 0x01, 0x03, // version = 3
		0x04, 0x00, // name = ""
		0x80, 0x00, // simple = ""
	}
}

func splitAsElement(t *testing.T, raw []byte) ber.Element {
	t.Helper()
	elem, ok, _, err := ber.Split(raw)
	if err != nil || !ok {
		t.Fatalf("ber.Split: ok=%v err=%v", ok, err)
	}
	return elem
}

func TestParseBindRequest(t *testing.T) {
	elem := splitAsElement(t, bindRequestBytes())

	msg, err := ldapmsg.Parse(elem)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.MessageID != 1 {
		t.Fatalf("MessageID = %d", msg.MessageID)
	}
	if msg.ProtocolOp != 0 {
		t.Fatalf("ProtocolOp = %d, want 0 (BindRequest)", msg.ProtocolOp)
	}
	if msg.OpName == "" {
		t.Fatal("expected a non-empty protocol-op name")
	}
}

func TestParseMalformedPacket(t *testing.T) {
	// A SEQUENCE whose declared length exceeds its content, which
	// ber.Split would normally reject -- construct the packet instead by
	// feeding asn1-ber bytes that parse structurally but contain a
	// malformed nested TLV.
	elem := ber.Element{Tag: 0x30, Raw: []byte{0x30, 0x02, 0x02, 0x05}}

	_, err := ldapmsg.Parse(elem)
	if err == nil {
		t.Fatal("expected error for malformed nested TLV")
	}
}

func TestParseTooFewChildren(t *testing.T) {
	raw := []byte{0x30, 0x03, 0x02, 0x01, 0x01} // only messageID, no protocol-op
	elem := splitAsElement(t, raw)

	_, err := ldapmsg.Parse(elem)
	if !errors.Is(err, ldapmsg.ErrTooFewChildren) {
		t.Fatalf("err = %v, want ErrTooFewChildren", err)
	}
}

func TestParseUnknownProtocolOp(t *testing.T) {
	raw := []byte{
		0x30, 0x06,
		0x02, 0x01, 0x01, // messageID = 1
		0x7F, 0x1F, 0x00, // application tag 31 (high-tag-number form), unrecognized
	}
	elem := splitAsElement(t, raw)

	_, err := ldapmsg.Parse(elem)
	if !errors.Is(err, ldapmsg.ErrUnknownProtocolOp) {
		t.Fatalf("err = %v, want ErrUnknownProtocolOp", err)
	}
}
