// Package sink provides a reference MessageSink (spec.md ss4.8): a
// colorized per-message console line plus an optional end-of-run
// tabular summary, grouped by flow and protocol-op.
package sink

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/dantte-lp/ldapdecode/internal/flow"
	"github.com/dantte-lp/ldapdecode/internal/ldapmsg"
)

// opColor maps a few common protocol-op names to a distinguishing color,
// so a scroll of mixed traffic is easy to scan. Unlisted ops fall back
// to the default terminal color.
var opColor = map[string]*color.Color{
	"Bind Request":        color.New(color.FgCyan),
	"Bind Response":       color.New(color.FgCyan, color.Faint),
	"Search Request":      color.New(color.FgGreen),
	"Search Result Entry": color.New(color.FgGreen, color.Faint),
	"Search Result Done":  color.New(color.FgGreen, color.Faint),
	"Unbind Request":      color.New(color.FgYellow),
	"Extended Request":    color.New(color.FgMagenta),
	"Extended Response":   color.New(color.FgMagenta, color.Faint),
}

type summaryRow struct {
	flow  string
	op    string
	count int
}

// ConsoleSink is the reference MessageSink implementation. It is not
// safe for concurrent use (spec.md ss5: "MessageSink is assumed
// single-threaded").
type ConsoleSink struct {
	w       io.Writer
	color   bool
	summary bool

	counts map[[2]string]int
	order  []summaryRow
	mu     sync.Mutex
}

// New returns a ConsoleSink writing per-message lines to w. If
// enableColor is false, ANSI color codes are suppressed regardless of
// terminal detection. If enableSummary is true, Summary() aggregates a
// per-flow, per-op count table.
func New(w io.Writer, enableColor, enableSummary bool) *ConsoleSink {
	return &ConsoleSink{
		w:       w,
		color:   enableColor,
		summary: enableSummary,
		counts:  make(map[[2]string]int),
	}
}

// Message implements decode.Sink.
func (s *ConsoleSink) Message(key flow.Key, tsSeconds uint64, tsMicros uint32, msg ldapmsg.Message) {
	ts := time.Unix(int64(tsSeconds), int64(tsMicros)*1000).UTC().Format("15:04:05.000000")

	line := fmt.Sprintf("[%s] %s  msgid=%d  %s", ts, key, msg.MessageID, msg.OpName)
	if s.color {
		if c, ok := opColor[msg.OpName]; ok {
			line = c.Sprint(line)
		}
	}
	fmt.Fprintln(s.w, line)

	if !s.summary {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rowKey := [2]string{key.String(), msg.OpName}
	if _, seen := s.counts[rowKey]; !seen {
		s.order = append(s.order, summaryRow{flow: key.String(), op: msg.OpName})
	}
	s.counts[rowKey]++
}

// Summary renders the accumulated per-flow, per-op message counts as a
// table. It is a no-op if the sink was constructed with enableSummary
// false.
func (s *ConsoleSink) Summary() {
	if !s.summary {
		return
	}

	s.mu.Lock()
	rows := make([]summaryRow, len(s.order))
	copy(rows, s.order)
	counts := make(map[[2]string]int, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].flow != rows[j].flow {
			return rows[i].flow < rows[j].flow
		}
		return rows[i].op < rows[j].op
	})

	table := tablewriter.NewWriter(s.w)
	table.SetHeader([]string{"Flow", "Protocol Op", "Count"})
	for _, r := range rows {
		count := counts[[2]string{r.flow, r.op}]
		table.Append([]string{r.flow, r.op, fmt.Sprintf("%d", count)})
	}
	table.Render()
}
