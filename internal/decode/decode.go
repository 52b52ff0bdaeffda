// Package decode implements the top-level decode loop (spec.md ss4.9):
// pull a packet from the capture, peel Ethernet/IPv4/TCP headers, filter
// by optional server endpoint, hand the TCP payload to the FlowAssembler,
// drain any complete BER elements, and parse each into an LdapMessage.
package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"

	"github.com/dantte-lp/ldapdecode/internal/ber"
	"github.com/dantte-lp/ldapdecode/internal/capture"
	"github.com/dantte-lp/ldapdecode/internal/flow"
	"github.com/dantte-lp/ldapdecode/internal/ipv4"
	"github.com/dantte-lp/ldapdecode/internal/ldapmsg"
	"github.com/dantte-lp/ldapdecode/internal/link"
	ldapmetrics "github.com/dantte-lp/ldapdecode/internal/metrics"
	"github.com/dantte-lp/ldapdecode/internal/tcp"
)

// Filter restricts processing to packets touching a given server
// endpoint (spec.md ss4.9 step 5). A zero-value Filter matches
// everything.
type Filter struct {
	ServerAddr netip.Addr
	ServerPort uint16
}

func (f Filter) matches(key flow.Key) bool {
	if f.ServerAddr.IsValid() && f.ServerAddr != key.SrcIP && f.ServerAddr != key.DstIP {
		return false
	}
	if f.ServerPort != 0 && f.ServerPort != key.SrcPort && f.ServerPort != key.DstPort {
		return false
	}
	return true
}

// Sink receives parsed LDAP messages together with their flow's 4-tuple
// and the containing packet's capture timestamp (spec.md ss4.8).
type Sink interface {
	Message(key flow.Key, tsSeconds uint64, tsMicros uint32, msg ldapmsg.Message)
}

// Stats aggregates the per-category counters spec.md ss4.9 step 8
// requires.
type Stats struct {
	Total            uint64
	LdapMessages     uint64
	SkippedTruncated uint64
	SkippedNonIPv4   uint64
	SkippedNonTCP    uint64
	SkippedFiltered  uint64
	SkippedNonLdap   uint64
	SkippedEmpty     uint64
	OversizedFlows   uint64
	Errors           uint64
}

// Driver runs the top-level decode loop over a single capture stream.
type Driver struct {
	log       *slog.Logger
	filter    Filter
	sink      Sink
	assembler *flow.Assembler

	collector *ldapmetrics.Collector
	source    string

	lastCumulativeDrops uint32
	sawCumulativeDrops  bool
}

// New returns a Driver. maxIdleFlows is forwarded to flow.New (0 disables
// idle-flow eviction). collector may be nil, in which case no metrics are
// recorded; source labels every metric this Driver emits (typically the
// capture file path).
func New(log *slog.Logger, filter Filter, sink Sink, maxIdleFlows int, collector *ldapmetrics.Collector, source string) *Driver {
	if log == nil {
		log = slog.Default()
	}
	d := &Driver{
		log:       log,
		filter:    filter,
		sink:      sink,
		collector: collector,
		source:    source,
	}
	d.assembler = flow.New(maxIdleFlows, func(key flow.Key) {
		collector.ObserveEvictedFlow(source)
		log.Debug("evicted idle flow", slog.String("flow", key.String()))
	})
	return d
}

// Run drives r to completion, returning aggregate Stats. Only EOF from r
// ends the loop cleanly; any other error is returned immediately
// (truncated-capture fatal error, spec.md ss4.2).
func (d *Driver) Run(ctx context.Context, r capture.Reader) (Stats, error) {
	var stats Stats

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("decode: read packet: %w", err)
		}

		stats.Total++
		d.processRecord(rec, &stats)
	}
}

func (d *Driver) processRecord(rec capture.PacketRecord, stats *Stats) {
	d.collector.ObservePacket(d.source)

	if rec.Truncated {
		stats.SkippedTruncated++
		d.collector.ObserveSkippedTruncated(d.source)
		return
	}

	if rec.HasCumulativeDrops {
		if d.sawCumulativeDrops && rec.CumulativeDrops != d.lastCumulativeDrops {
			d.log.Warn("capture reported packet drops",
				slog.Uint64("previous", uint64(d.lastCumulativeDrops)),
				slog.Uint64("current", uint64(rec.CumulativeDrops)))
		}
		d.lastCumulativeDrops = rec.CumulativeDrops
		d.sawCumulativeDrops = true
	}

	ethHeader, err := link.Decode(rec.CapturedBytes)
	if err != nil {
		stats.SkippedNonIPv4++
		d.collector.ObserveSkippedNonIPv4(d.source)
		return
	}
	if ethHeader.EtherType != link.EtherTypeIPv4 {
		stats.SkippedNonIPv4++
		d.collector.ObserveSkippedNonIPv4(d.source)
		return
	}

	ip4Header, err := ipv4.Decode(rec.CapturedBytes, ethHeader.PayloadOffset)
	if err != nil {
		stats.SkippedNonIPv4++
		d.collector.ObserveSkippedNonIPv4(d.source)
		return
	}
	if ip4Header.Protocol != ipv4.ProtocolTCP {
		stats.SkippedNonTCP++
		d.collector.ObserveSkippedNonTCP(d.source)
		return
	}
	if ip4Header.IsFragmented() {
		d.log.Warn("fragmented IPv4 datagram passed through unreassembled",
			slog.String("src", ip4Header.SrcIP.String()),
			slog.String("dst", ip4Header.DstIP.String()),
			slog.Int("fragment_offset", int(ip4Header.FragmentOffset)))
	}

	tcpHeader, err := tcp.Decode(rec.CapturedBytes, ip4Header.PayloadOffset)
	if err != nil {
		stats.SkippedNonTCP++
		d.collector.ObserveSkippedNonTCP(d.source)
		return
	}

	key := flow.Key{
		SrcIP:   ip4Header.SrcIP,
		SrcPort: tcpHeader.SrcPort,
		DstIP:   ip4Header.DstIP,
		DstPort: tcpHeader.DstPort,
	}

	if !d.filter.matches(key) {
		stats.SkippedFiltered++
		d.collector.ObserveSkippedFiltered(d.source)
		return
	}

	payload := rec.CapturedBytes[tcpHeader.PayloadOffset:]
	if len(payload) == 0 {
		stats.SkippedEmpty++
		return
	}

	d.assembler.Append(key, payload)
	elems, err := d.assembler.Drain(key)
	for _, elem := range elems {
		d.deliver(key, rec, elem, stats)
	}
	d.collector.SetFlowBufferBytes(d.source, d.assembler.TotalBufferedBytes())
	if err != nil {
		switch {
		case errors.Is(err, ber.ErrNonLdapStart):
			stats.SkippedNonLdap++
			d.collector.ObserveSkippedNonLdap(d.source)
			d.log.Info("non-LDAP-looking payload, flow reset", slog.String("flow", key.String()))
		case errors.Is(err, ber.ErrOversized):
			stats.OversizedFlows++
			d.collector.ObserveOversizedFlow(d.source)
			d.log.Warn("flow exceeded maximum element size, flow reset", slog.String("flow", key.String()))
		default:
			stats.Errors++
			d.collector.ObserveError(d.source)
			d.log.Warn("BER split error, flow reset", slog.String("flow", key.String()), slog.Any("error", err))
		}
	}
}

func (d *Driver) deliver(key flow.Key, rec capture.PacketRecord, elem ber.Element, stats *Stats) {
	msg, err := ldapmsg.Parse(elem)
	if err != nil {
		stats.Errors++
		d.collector.ObserveError(d.source)
		d.log.Warn("LDAP message decode error", slog.String("flow", key.String()), slog.Any("error", err))
		return
	}

	stats.LdapMessages++
	d.collector.ObserveLdapMessage(d.source)
	if d.sink != nil {
		d.sink.Message(key, rec.TimestampSeconds, rec.TimestampMicroseconds, msg)
	}
}
