package capture_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/dantte-lp/ldapdecode/internal/capture"
)

// buildSnoop builds a minimal snoop-like capture with the given record
// payloads (spec.md ss6).
func buildSnoop(t *testing.T, payloads ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("snoop\x00\x00\x00")
	writeU32BE(&buf, 2) // version
	writeU32BE(&buf, 4) // link type = ethernet

	for _, p := range payloads {
		recordLen := 24 + len(p)
		writeU32BE(&buf, uint32(len(p))) // original_length
		writeU32BE(&buf, uint32(len(p))) // included_length
		writeU32BE(&buf, uint32(recordLen))
		writeU32BE(&buf, 0) // cumulative_drops
		writeU32BE(&buf, 0) // ts_seconds
		writeU32BE(&buf, 0) // ts_micros
		buf.Write(p)
	}
	return buf.Bytes()
}

// buildPcap builds a minimal pcap-like capture in the requested endianness.
func buildPcap(t *testing.T, bigEndian bool, payloads ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	order := binary.ByteOrder(binary.LittleEndian)
	if bigEndian {
		order = binary.BigEndian
	}

	put32 := func(v uint32) {
		var b [4]byte
		order.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	put16 := func(v uint16) {
		var b [2]byte
		order.PutUint16(b[:], v)
		buf.Write(b[:])
	}

	if bigEndian {
		buf.Write([]byte{0xA1, 0xB2, 0xC3, 0xD4})
	} else {
		buf.Write([]byte{0xD4, 0xC3, 0xB2, 0xA1})
	}
	put16(2) // major
	put16(4) // minor
	put32(0) // thiszone
	put32(0) // sigfigs
	put32(65535) // snaplen
	put32(1)      // link type = ethernet

	for _, p := range payloads {
		put32(0) // ts_seconds
		put32(0) // ts_micros
		put32(uint32(len(p)))
		put32(uint32(len(p)))
		buf.Write(p)
	}
	return buf.Bytes()
}

func writeU32BE(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readAll(t *testing.T, r capture.Reader) []capture.PacketRecord {
	t.Helper()
	var out []capture.PacketRecord
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, rec)
	}
}

func TestAutoDetectSnoopLike(t *testing.T) {
	data := buildSnoop(t, []byte("hello"))
	r, err := capture.Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	recs := readAll(t, r)
	if len(recs) != 1 || string(recs[0].CapturedBytes) != "hello" {
		t.Fatalf("recs = %+v", recs)
	}
	if !recs[0].HasCumulativeDrops {
		t.Fatal("expected HasCumulativeDrops for snoop-like container")
	}
}

func TestAutoDetectPcapLikeBothEndians(t *testing.T) {
	payload := []byte("ldap-bind-request")

	for _, be := range []bool{true, false} {
		data := buildPcap(t, be, payload)
		r, err := capture.Open(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Open(bigEndian=%v): %v", be, err)
		}
		recs := readAll(t, r)
		if len(recs) != 1 || string(recs[0].CapturedBytes) != string(payload) {
			t.Fatalf("bigEndian=%v recs = %+v", be, recs)
		}
	}
}

// I5: a pcap-like file and its byte-swapped-header counterpart produce
// identical decoded output.
func TestEndianSymmetry(t *testing.T) {
	payload := []byte("identical-payload")
	be := buildPcap(t, true, payload)
	le := buildPcap(t, false, payload)

	rBE, err := capture.Open(bytes.NewReader(be))
	if err != nil {
		t.Fatalf("Open BE: %v", err)
	}
	rLE, err := capture.Open(bytes.NewReader(le))
	if err != nil {
		t.Fatalf("Open LE: %v", err)
	}

	recsBE := readAll(t, rBE)
	recsLE := readAll(t, rLE)

	if len(recsBE) != len(recsLE) {
		t.Fatalf("record count mismatch: %d vs %d", len(recsBE), len(recsLE))
	}
	for i := range recsBE {
		if string(recsBE[i].CapturedBytes) != string(recsLE[i].CapturedBytes) {
			t.Fatalf("record %d payload mismatch", i)
		}
		if recsBE[i].OriginalLength != recsLE[i].OriginalLength {
			t.Fatalf("record %d original length mismatch", i)
		}
	}
}

func TestUnknownContainer(t *testing.T) {
	_, err := capture.Open(bytes.NewReader([]byte{0x00, 0x01, 0x02}))
	if !errors.Is(err, capture.ErrUnknownContainer) {
		t.Fatalf("Open = %v, want ErrUnknownContainer", err)
	}
}

func TestSnoopBadRecordLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("snoop\x00\x00\x00")
	writeU32BE(&buf, 2)
	writeU32BE(&buf, 4)
	// record_len smaller than 24 + included_len(=4)
	writeU32BE(&buf, 4) // original_length
	writeU32BE(&buf, 4) // included_length
	writeU32BE(&buf, 10) // record_length -- too small
	writeU32BE(&buf, 0)
	writeU32BE(&buf, 0)
	writeU32BE(&buf, 0)
	buf.Write([]byte{1, 2, 3, 4})

	r, err := capture.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = r.Next()
	if !errors.Is(err, capture.ErrBadRecordLength) {
		t.Fatalf("Next = %v, want ErrBadRecordLength", err)
	}
}

func TestPcapZeroSnaplen(t *testing.T) {
	data := buildPcap(t, true)
	// zero out snaplen field (offset 16..20).
	binary.BigEndian.PutUint32(data[16:20], 0)
	_, err := capture.Open(bytes.NewReader(data))
	if !errors.Is(err, capture.ErrZeroSnaplen) {
		t.Fatalf("Open = %v, want ErrZeroSnaplen", err)
	}
}

func TestTruncatedMidRecord(t *testing.T) {
	data := buildSnoop(t, []byte("full-payload-here"))
	truncated := data[:len(data)-5]
	r, err := capture.Open(bytes.NewReader(truncated))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = r.Next()
	if !errors.Is(err, capture.ErrContainerTruncated) {
		t.Fatalf("Next = %v, want ErrContainerTruncated", err)
	}
}
