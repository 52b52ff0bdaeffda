// Package flow groups per-packet TCP payload bytes by the 4-tuple flow
// key and drains complete BER elements from each flow's carry-over
// buffer (spec.md ss4.6).
package flow

import (
	"fmt"
	"net/netip"

	"github.com/golang/groupcache/lru"

	"github.com/dantte-lp/ldapdecode/internal/ber"
)

// Key is the ordered 4-tuple flow key (spec.md ss3). Forward and reverse
// traffic for a single TCP connection are distinct keys by design: each
// direction is parsed independently.
type Key struct {
	SrcIP   netip.Addr
	SrcPort uint16
	DstIP   netip.Addr
	DstPort uint16
}

// String renders the key for logging.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort)
}

// buffer is the per-flow carry-over state: bytes that arrived but could
// not yet form a complete BER element.
type buffer struct {
	data []byte
}

// Assembler maintains a FlowKey -> buffer map and drains definite-length
// BER elements from each flow in capture order (spec.md ss4.6).
//
// Assembler is single-writer: the decode driver is its only caller, and
// the ordering guarantees of spec.md ss5 depend on that.
type Assembler struct {
	flows map[Key]*buffer

	// idle holds the same keys in least-recently-touched order so that
	// MaxIdleFlows can be enforced without an unbounded flow map on
	// long-running captures (spec.md ss5's "a production implementation
	// should add a LRU eviction of idle flows").
	idle *lru.Cache

	evicted int
	onEvict func(Key)
}

// New returns an Assembler that evicts the least recently touched flow
// once more than maxIdleFlows flows are live (maxIdleFlows <= 0
// disables the LRU entirely, matching a strict reading of spec.md ss4.6
// where flow lifetime is otherwise unbounded). onEvict, if non-nil, is
// called with the evicted flow's key every time the LRU drops one, so a
// caller can log it or feed a metric; it may be nil.
func New(maxIdleFlows int, onEvict func(Key)) *Assembler {
	a := &Assembler{flows: make(map[Key]*buffer), onEvict: onEvict}
	if maxIdleFlows > 0 {
		a.idle = lru.New(maxIdleFlows)
		a.idle.OnEvicted = func(key lru.Key, _ interface{}) {
			fk := key.(Key)
			if _, live := a.flows[fk]; !live {
				// Reset already dropped this flow; not an idle eviction.
				return
			}
			delete(a.flows, fk)
			a.evicted++
			if a.onEvict != nil {
				a.onEvict(fk)
			}
		}
	}
	return a
}

// Evicted returns the number of flows dropped by idle-flow LRU eviction.
func (a *Assembler) Evicted() int {
	return a.evicted
}

// TotalBufferedBytes reports the sum of carry-over bytes held across
// every live flow, for periodic gauge sampling.
func (a *Assembler) TotalBufferedBytes() int {
	total := 0
	for _, buf := range a.flows {
		total += len(buf.data)
	}
	return total
}

// Append adds bytes to the flow's buffer, creating the buffer on first
// sight of key.
func (a *Assembler) Append(key Key, payload []byte) {
	buf, ok := a.flows[key]
	if !ok {
		buf = &buffer{}
		a.flows[key] = buf
	}
	buf.data = append(buf.data, payload...)
	a.touch(key)
}

// Drain repeatedly splits the flow's buffer and returns every complete
// BerElement available, in byte order, replacing the buffer with
// whatever remains. If a guard failure occurs (non-LDAP start, bad
// length form, or oversize), the flow's buffer is reset and the error is
// returned alongside whatever elements were already drained.
func (a *Assembler) Drain(key Key) ([]ber.Element, error) {
	buf, ok := a.flows[key]
	if !ok {
		return nil, nil
	}

	var elems []ber.Element
	for {
		elem, complete, remainder, err := ber.Split(buf.data)
		if err != nil {
			a.Reset(key)
			return elems, fmt.Errorf("flow %s: %w", key, err)
		}
		if !complete {
			buf.data = remainder
			return elems, nil
		}
		elems = append(elems, elem)
		buf.data = remainder
	}
}

// Reset discards the flow's buffer entirely (used on guard failure,
// spec.md ss4.7).
func (a *Assembler) Reset(key Key) {
	delete(a.flows, key)
	if a.idle != nil {
		a.idle.Remove(key)
	}
}

// BufferedBytes reports the number of carry-over bytes currently held
// for key, for metrics/diagnostics.
func (a *Assembler) BufferedBytes(key Key) int {
	if buf, ok := a.flows[key]; ok {
		return len(buf.data)
	}
	return 0
}

// LiveFlows reports the number of flows with an active buffer.
func (a *Assembler) LiveFlows() int {
	return len(a.flows)
}

func (a *Assembler) touch(key Key) {
	if a.idle == nil {
		return
	}
	a.idle.Add(key, struct{}{})
}
