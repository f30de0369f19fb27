package stats

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Print writes a human readable table of s to w.
func (s *Stats) Print(w io.Writer) error {
	snap := s.Snapshot()
	p := message.NewPrinter(language.English)

	if _, err := p.Fprintf(w, "%-12s %12s %12s %12s %12s\n", "heap stats:", "peak", "total", "freed", "current"); err != nil {
		return err
	}
	for _, c := range snap.Counters() {
		v := c.Counter
		if _, err := p.Fprintf(w, "  %-10s %12s %12s %12s %12s\n", c.Name+":",
			amount(p, v.Peak, c.Bytes), amount(p, v.Allocated, c.Bytes),
			amount(p, v.Freed, c.Bytes), amount(p, v.Current, c.Bytes)); err != nil {
			return err
		}
	}
	for _, t := range snap.Tallies() {
		v := t.Tally.Load()
		if _, err := p.Fprintf(w, "  %-10s %12d %12s\n", t.Name+":", v.Count, avg(v)); err != nil {
			return err
		}
	}
	_, err := p.Fprintf(w, "  %-10s %12.3f s\n", "elapsed:", s.Elapsed().Seconds())
	return err
}

// amount formats n as a grouped count, or as a binary-unit size when bytes is set.
func amount(p *message.Printer, n int64, bytes bool) string {
	if !bytes {
		return p.Sprintf("%d", n)
	}
	const unit = 1024
	neg := n < 0
	if neg {
		n = -n
	}
	sign := ""
	if neg {
		sign = "-"
	}
	if n < unit {
		return fmt.Sprintf("%s%d B", sign, n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%s%.1f %ciB", sign, float64(n)/float64(div), "KMGTP"[exp])
}

func avg(t Tally) string {
	if t.Count == 0 {
		return "-"
	}
	return fmt.Sprintf("avg %.1f", float64(t.Total)/float64(t.Count))
}
