// Copyright 2023 The rtedbg Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"fmt"
	"os"
	"path/filepath"

	"go-hep.org/x/hep/csvutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/rtedbg/rtemsg/format"
)

// topMessages is the length of the frequency and buffer usage
// leaderboards in the main statistics report.
const topMessages = 10

// WriteReports writes the statistics files into dir after a run. The
// per-restart counters are folded into the totals first, so a decoder
// cannot be resumed after reporting.
func (d *Decoder) WriteReports(dir string) error {
	d.resetStatistics()

	var grp errgroup.Group

	grp.Go(func() error { return d.writeMainStats(dir) })
	if d.msgStats {
		grp.Go(func() error { return d.writeMsgCounters(dir) })
	}
	if d.valueStats && d.msgCnt > 0 {
		grp.Go(func() error { return d.writeValueStats(dir) })
	}

	return grp.Wait()
}

type topMsg struct {
	plan  *format.Plan
	count uint64
}

// topPlans builds a descending leaderboard over all plans, ranked by
// the given metric. Plans where the metric is zero do not appear.
func (d *Decoder) topPlans(metric func(p *format.Plan) uint64) []topMsg {
	var top []topMsg
	d.plans.Plans(func(p *format.Plan) {
		v := metric(p)
		if v == 0 {
			return
		}
		if len(top) >= topMessages && v <= top[len(top)-1].count {
			return
		}
		pos := 0
		for pos < len(top) && top[pos].count >= v {
			pos++
		}
		top = append(top, topMsg{})
		copy(top[pos+1:], top[pos:])
		top[pos] = topMsg{plan: p, count: v}
		if len(top) > topMessages {
			top = top[:topMessages]
		}
	})
	return top
}

func writeTop(w *os.File, title string, top []topMsg) {
	if len(top) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s", title)
	for i, t := range top {
		fmt.Fprintf(w, "\n%2d %6d %s", i+1, t.count, t.plan.Name)
	}
	fmt.Fprintln(w)
}

// writeMainStats writes Stat_main.log: message and problem totals,
// the share of format ids in use and the two leaderboards.
func (d *Decoder) writeMainStats(dir string) error {
	fname := filepath.Join(dir, "Stat_main.log")
	f, err := os.Create(fname)
	if err != nil {
		return xerrors.Errorf("decode: could not create %q: %w", fname, err)
	}
	defer f.Close()

	if d.msgCnt == 0 {
		fmt.Fprintf(f, "no messages decoded\n")
		return f.Close()
	}

	fmt.Fprintf(f, "%d messages decoded\n", d.msgCnt)
	if d.totalBadWords > 0 {
		fmt.Fprintf(f, "%d words with no valid format definition\n", d.totalBadWords)
	}
	if d.totalUnfinished > 0 {
		fmt.Fprintf(f, "%d words of unfinished or erased messages\n", d.totalUnfinished)
	}
	if d.multiLogging > 1 {
		fmt.Fprintf(f, "%d separate logging sessions assembled\n", d.multiLogging)
	}

	used := 0
	limit := d.plans.Defined()
	if top := d.plans.Topmost(); limit > top {
		limit = top
	}
	for fid := uint32(0); fid < limit; fid++ {
		if d.plans.At(fid) != nil {
			used++
		}
	}
	topmost := d.plans.Topmost()
	fmt.Fprintf(f, "%d of %d format ids in use (%.1f%%)\n",
		used, topmost, 100*float64(used)/float64(topmost))

	if d.msgCnt > 1 {
		writeTop(f, "messages with the highest frequency:",
			d.topPlans(func(p *format.Plan) uint64 { return p.CounterTotal }))
		writeTop(f, "messages with the highest buffer usage (bytes):",
			d.topPlans(func(p *format.Plan) uint64 { return p.TotalWords * 4 }))
	}

	return f.Close()
}

// writeMsgCounters writes the per-plan instance counts: plans seen at
// least once into Stat_msgs_found.txt, the rest into
// Stat_msgs_missing.txt.
func (d *Decoder) writeMsgCounters(dir string) error {
	found, err := os.Create(filepath.Join(dir, "Stat_msgs_found.txt"))
	if err != nil {
		return xerrors.Errorf("decode: could not create message counters: %w", err)
	}
	defer found.Close()

	missing, err := os.Create(filepath.Join(dir, "Stat_msgs_missing.txt"))
	if err != nil {
		return xerrors.Errorf("decode: could not create missing messages: %w", err)
	}
	defer missing.Close()

	d.plans.Plans(func(p *format.Plan) {
		if p.CounterTotal == 0 {
			fmt.Fprintf(missing, "%s\n", p.Name)
		} else {
			fmt.Fprintf(found, "%5d - %s\n", p.CounterTotal, p.Name)
		}
	})

	if err := found.Close(); err != nil {
		return xerrors.Errorf("decode: could not close message counters: %w", err)
	}
	return missing.Close()
}

// statRow renders the extrema of one statistics-enabled slot as five
// semicolon separated lines.
func statRow(tbl *csvutil.Table, name string, p *format.Plan, st *format.Stats) error {
	if name == "" {
		name = undefinedText
	}

	max := make([]interface{}, 0, 1+len(st.Max))
	max = append(max, "largest values of "+name)
	for _, v := range st.Max {
		max = append(max, v.Value)
	}

	maxNo := make([]interface{}, 0, 1+len(st.Max))
	maxNo = append(maxNo, "in message ("+p.Name+")")
	for _, v := range st.Max {
		maxNo = append(maxNo, v.MsgNo)
	}

	min := make([]interface{}, 0, 1+len(st.Min))
	min = append(min, "smallest values")
	for _, v := range st.Min {
		min = append(min, v.Value)
	}

	minNo := make([]interface{}, 0, 1+len(st.Min))
	minNo = append(minNo, "in message")
	for _, v := range st.Min {
		minNo = append(minNo, v.MsgNo)
	}

	rows := [][]interface{}{
		max, maxNo, min, minNo,
		{"average", st.Sum / float64(st.Count), "count", st.Count},
	}
	for _, r := range rows {
		if err := tbl.WriteRow(r...); err != nil {
			return err
		}
	}
	return nil
}

// writeValueStats dumps every statistics-enabled slot with at least
// one recorded value to Statistics.csv.
func (d *Decoder) writeValueStats(dir string) error {
	fname := filepath.Join(dir, "Statistics.csv")
	tbl, err := csvutil.Create(fname)
	if err != nil {
		return xerrors.Errorf("decode: could not create %q: %w", fname, err)
	}
	defer tbl.Close()
	tbl.Writer.Comma = ';'

	n := 0
	var werr error
	d.plans.Plans(func(p *format.Plan) {
		if werr != nil {
			return
		}
		for i := range p.Slots {
			s := &p.Slots[i]
			if s.Stats == nil || s.Stats.Count == 0 {
				continue
			}
			if werr = statRow(tbl, s.Stats.Name, p, s.Stats); werr != nil {
				return
			}
			n++
		}
	})
	if werr != nil {
		return xerrors.Errorf("decode: could not write %q: %w", fname, werr)
	}

	if n == 0 {
		if err := tbl.WriteRow("no value statistics collected"); err != nil {
			return xerrors.Errorf("decode: could not write %q: %w", fname, err)
		}
	}
	return tbl.Close()
}
