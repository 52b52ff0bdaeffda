// Package ldapmsg is the entry point into LDAP message decoding
// (spec.md ss4.8). It decodes a raw BER element into an asn1-ber packet
// tree and dispatches on the protocol-op tag to identify the message.
// The operation's own LDAP grammar is not validated; go-ldap/ldap/v3
// supplies only the protocol-op name table.
package ldapmsg

import (
	"errors"
	"fmt"

	asn1ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"

	"github.com/dantte-lp/ldapdecode/internal/ber"
)

// Sentinel errors. These are per-message failures: the caller must not
// reset or poison the owning flow on account of them (spec.md ss4.8).
var (
	// ErrMalformedPacket indicates the BER element does not decode into
	// a well-formed asn1-ber packet tree.
	ErrMalformedPacket = errors.New("ldapmsg: malformed BER packet")

	// ErrTooFewChildren indicates the outer SEQUENCE has fewer than the
	// two required children (message ID, protocol op).
	ErrTooFewChildren = errors.New("ldapmsg: envelope missing message-id or protocol-op")

	// ErrUnknownProtocolOp indicates the protocol-op tag is not one this
	// parser recognizes.
	ErrUnknownProtocolOp = errors.New("ldapmsg: unrecognized protocol-op tag")
)

// Message is the decoded envelope (spec.md ss3's LdapMessage): a message
// ID, the protocol-op application tag and its name, and the decoded
// packet tree for the operation itself.
type Message struct {
	MessageID   uint64
	ProtocolOp  uint8
	OpName      string
	Packet      *asn1ber.Packet
	Controls    []*asn1ber.Packet
}

// Parse decodes elem into a Message. Any error returned is scoped to
// this single element; the caller's flow buffer is unaffected.
func Parse(elem ber.Element) (Message, error) {
	packet, err := asn1ber.DecodePacket(elem.Raw)
	if err != nil {
		return Message{}, fmt.Errorf("ldapmsg: decode: %w: %w", err, ErrMalformedPacket)
	}
	if packet == nil || len(packet.Children) < 2 {
		return Message{}, fmt.Errorf("ldapmsg: %d children: %w", len(packet.Children), ErrTooFewChildren)
	}

	msgIDPacket := packet.Children[0]
	opPacket := packet.Children[1]

	msgID, ok := msgIDPacket.Value.(int64)
	if !ok {
		if v, ok2 := msgIDPacket.Value.(uint64); ok2 {
			msgID = int64(v)
		} else {
			return Message{}, fmt.Errorf("ldapmsg: message-id is %T, not an integer: %w", msgIDPacket.Value, ErrMalformedPacket)
		}
	}

	opTag := uint8(opPacket.Tag)
	opName, known := ldap.ApplicationMap[opTag]
	if !known {
		return Message{}, fmt.Errorf("ldapmsg: tag %d: %w", opTag, ErrUnknownProtocolOp)
	}

	msg := Message{
		MessageID:  uint64(msgID),
		ProtocolOp: opTag,
		OpName:     opName,
		Packet:     opPacket,
	}

	if len(packet.Children) > 2 {
		msg.Controls = packet.Children[2].Children
	}

	return msg, nil
}
