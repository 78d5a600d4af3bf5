// Package releaselog maintains the per-release area log: each release adds a
// column of current totals plus the change against the previous release.
package releaselog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

const (
	diffColumn    = "diff"
	pctDiffColumn = "pct_diff"
)

// Frame is a CSV table held as strings.
type Frame struct {
	Header []string
	Rows   [][]string
}

// Index returns the position of column name, or -1.
func (f *Frame) Index(name string) int {
	return slices.Index(f.Header, name)
}

// ReadCSV reads a headered CSV. Header cells are trimmed and a leading BOM
// is dropped; data cells are trimmed.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	f := &Frame{Header: make([]string, len(hdr))}
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		f.Header[i] = h
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return f, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv read: %w", err)
		}
		row := make([]string, len(f.Header))
		for i := range row {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
			}
		}
		f.Rows = append(f.Rows, row)
	}
}

// WriteCSV writes the header and rows.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(f.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// Options describe the log layout.
type Options struct {
	// Key joins log rows to summary rows, e.g. harvest_restriction_class_rank.
	Key string
	// Categories are descriptive log columns carried through unchanged.
	Categories []string
	// Tag names the new release column.
	Tag string
	// Value is the summary column holding current totals; default area_ha.
	Value string
}

// Compare outer-joins the prior log to the current summary on Key and
// appends a Tag column with current totals, then diff and pct_diff against
// the latest prior release. Missing numbers are 0. Rows are sorted by key.
func Compare(prior, current *Frame, opts Options) (*Frame, error) {
	if opts.Key == "" || opts.Tag == "" {
		return nil, errors.New("releaselog: key and tag are required")
	}
	if opts.Value == "" {
		opts.Value = "area_ha"
	}

	keyAt := prior.Index(opts.Key)
	if keyAt < 0 {
		return nil, fmt.Errorf("releaselog: log has no %q column", opts.Key)
	}
	catAt := make([]int, len(opts.Categories))
	for i, c := range opts.Categories {
		if catAt[i] = prior.Index(c); catAt[i] < 0 {
			return nil, fmt.Errorf("releaselog: log has no %q column", c)
		}
	}
	releases := releaseColumns(prior.Header, opts)
	if slices.Contains(releases, opts.Tag) {
		return nil, fmt.Errorf("releaselog: release %q is already in the log", opts.Tag)
	}
	relAt := make([]int, len(releases))
	for i, r := range releases {
		relAt[i] = prior.Index(r)
	}

	curKeyAt, curValAt := current.Index(opts.Key), current.Index(opts.Value)
	if curKeyAt < 0 || curValAt < 0 {
		return nil, fmt.Errorf("releaselog: summary needs %q and %q columns", opts.Key, opts.Value)
	}

	type entry struct {
		key     string
		cats    []string
		rels    []string
		current float64
	}
	byKey := map[string]*entry{}
	var keys []string
	get := func(k string) *entry {
		e, ok := byKey[k]
		if !ok {
			e = &entry{key: k, cats: make([]string, len(catAt)), rels: make([]string, len(relAt))}
			for i := range e.rels {
				e.rels[i] = "0"
			}
			byKey[k] = e
			keys = append(keys, k)
		}
		return e
	}

	for _, row := range prior.Rows {
		e := get(normalizeKey(row[keyAt]))
		for i, at := range catAt {
			e.cats[i] = row[at]
		}
		for i, at := range relAt {
			if row[at] != "" {
				e.rels[i] = row[at]
			}
		}
	}
	for n, row := range current.Rows {
		v, err := parseNumber(row[curValAt])
		if err != nil {
			return nil, fmt.Errorf("releaselog: summary row %d %s: %w", n+1, opts.Value, err)
		}
		get(normalizeKey(row[curKeyAt])).current += v
	}

	latest := -1
	if len(releases) > 0 {
		latest = slices.Index(releases, slices.Max(releases))
	}

	out := &Frame{Header: []string{opts.Key}}
	out.Header = append(out.Header, opts.Categories...)
	out.Header = append(out.Header, releases...)
	out.Header = append(out.Header, opts.Tag, diffColumn, pctDiffColumn)

	slices.SortFunc(keys, compareKeys)
	for _, k := range keys {
		e := byKey[k]
		var prev float64
		if latest >= 0 {
			p, err := parseNumber(e.rels[latest])
			if err != nil {
				return nil, fmt.Errorf("releaselog: key %s release %s: %w", k, releases[latest], err)
			}
			prev = p
		}
		diff := e.current - prev
		pct := 0.0
		if prev != 0 {
			pct = diff / prev * 100
		}

		row := append([]string{e.key}, e.cats...)
		row = append(row, e.rels...)
		row = append(row, round(e.current, 0), round(diff, 0), round(pct, 2))
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// releaseColumns are the prior log columns that are neither the key, a
// category nor a derived diff column, in log order.
func releaseColumns(header []string, opts Options) []string {
	skip := map[string]bool{opts.Key: true, diffColumn: true, pctDiffColumn: true}
	for _, c := range opts.Categories {
		skip[c] = true
	}
	var out []string
	for _, h := range header {
		if !skip[h] {
			out = append(out, h)
		}
	}
	return out
}

func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// normalizeKey makes "3" and "3.0" join.
func normalizeKey(s string) string {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return s
}

// compareKeys orders numeric keys numerically, before any text keys.
func compareKeys(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// round rounds half to even at the given number of decimals.
func round(v float64, decimals int) string {
	p := math.Pow10(decimals)
	r := math.RoundToEven(v*p) / p
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
