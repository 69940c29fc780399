package storage

import (
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/sigreer/ssm/internal/backend"
)

// Column is one column of a listing.
type Column struct {
	Header string
	Key    string
	// Size columns are humanized and right-aligned.
	Size bool
}

// Schema is the column layout of a collection listing.
type Schema []Column

var (
	poolSchema = Schema{
		{Header: "Pool", Key: backend.AttrPoolName},
		{Header: "Type", Key: backend.AttrType},
		{Header: "Devices", Key: backend.AttrDevCount},
		{Header: "Free", Key: backend.AttrPoolFree, Size: true},
		{Header: "Used", Key: backend.AttrPoolUsed, Size: true},
		{Header: "Total", Key: backend.AttrPoolSize, Size: true},
	}
	deviceSchema = Schema{
		{Header: "Device", Key: backend.AttrDevName},
		{Header: "Free", Key: backend.AttrDevFree, Size: true},
		{Header: "Used", Key: backend.AttrDevUsed, Size: true},
		{Header: "Total", Key: backend.AttrDevSize, Size: true},
		{Header: "Pool", Key: backend.AttrPoolName},
		{Header: "Mount point", Key: backend.AttrMount},
	}
	volumeSchema = Schema{
		{Header: "Volume", Key: backend.AttrDevName},
		{Header: "Pool", Key: backend.AttrPoolName},
		{Header: "Volume size", Key: backend.AttrVolSize, Size: true},
		{Header: "FS", Key: backend.AttrFSType},
		{Header: "FS size", Key: backend.AttrFSSize, Size: true},
		{Header: "Free", Key: backend.AttrFSFree, Size: true},
		{Header: "Type", Key: backend.AttrType},
		{Header: "Mount point", Key: backend.AttrMount},
	}
	snapshotSchema = Schema{
		{Header: "Snapshot", Key: backend.AttrSnapName},
		{Header: "Origin", Key: backend.AttrOrigin},
		{Header: "Volume size", Key: backend.AttrVolSize, Size: true},
		{Header: "Size", Key: backend.AttrSnapSize, Size: true},
		{Header: "Type", Key: backend.AttrType},
		{Header: "Mount point", Key: backend.AttrMount},
	}
)

// HumanizeKiB formats a KiB size for listings.
func HumanizeKiB(kb float64) string {
	if kb < 0 {
		kb = 0
	}
	return humanize.IBytes(uint64(kb * 1024))
}

func (c *Collection) cell(it Item, col Column) string {
	if col.Size {
		n, ok := it.Number(col.Key)
		if !ok {
			return ""
		}
		return HumanizeKiB(n)
	}
	rec := it.Record()
	if rec == nil {
		return ""
	}
	// Text populates filesystem attributes on demand.
	v := it.Text(col.Key)
	if shown, ok := rec.Display[col.Key]; ok {
		v = shown
	}
	return v
}

// Render prints the collection followed by extra items as a table.
func (c *Collection) Render(w io.Writer, extra ...iter.Seq[Item]) error {
	return c.RenderWhere(w, nil, c.All(), extra...)
}

// RenderWhere prints the items of rows and extra accepted by keep.
// Hidden records are never printed, columns empty on every row are
// dropped, and nothing is printed when no row remains.
func (c *Collection) RenderWhere(w io.Writer, keep func(Item) bool, rows iter.Seq[Item], extra ...iter.Seq[Item]) error {
	widths := make([]int, len(c.schema))
	for i, col := range c.schema {
		widths[i] = len(col.Header)
	}
	used := make([]bool, len(c.schema))

	var lines [][]string
	add := func(it Item) {
		rec := it.Record()
		if rec == nil || rec.Hidden || (keep != nil && !keep(it)) {
			return
		}
		line := make([]string, len(c.schema))
		for i, col := range c.schema {
			v := c.cell(it, col)
			line[i] = v
			widths[i] = max(widths[i], len(v))
			if v != "" {
				used[i] = true
			}
		}
		lines = append(lines, line)
	}
	for it := range rows {
		add(it)
	}
	for _, seq := range extra {
		for it := range seq {
			add(it)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	header := make([]string, len(c.schema))
	total := 0
	for i, col := range c.schema {
		header[i] = col.Header
		if used[i] {
			total += widths[i] + 2
		}
	}
	sep := strings.Repeat("-", max(total-2, 0))

	format := func(line []string) string {
		var b strings.Builder
		for i, col := range c.schema {
			if !used[i] {
				continue
			}
			if col.Size {
				fmt.Fprintf(&b, "%*s  ", widths[i], line[i])
			} else {
				fmt.Fprintf(&b, "%-*s  ", widths[i], line[i])
			}
		}
		return strings.TrimRight(b.String(), " ")
	}

	var out strings.Builder
	fmt.Fprintln(&out, sep)
	fmt.Fprintln(&out, format(header))
	fmt.Fprintln(&out, sep)
	for _, line := range lines {
		fmt.Fprintln(&out, format(line))
	}
	fmt.Fprintln(&out, sep)
	_, err := io.WriteString(w, out.String())
	return err
}
