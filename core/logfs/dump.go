package logfs

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sushant-115/logfs/core/logfs/marker"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
)

// Dump writes one line per managed page: marker, rolling number and, for
// FILE pages, the file entry. It decodes raw bytes only and never
// quarantines, so it is safe to run on a damaged medium.
func (fs *FS) Dump(w io.Writer) error {
	// Every row holds cells, so tabwriter buffers it until Flush, which
	// reports any write error.
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tMARKER\tRN\tDETAIL\tNOTES")

	for i := 0; i < fs.geo.pages; i++ {
		p := fs.geo.add(fs.geo.first, i)
		raw, err := fs.read(p, 0, marker.HeaderSize+marker.FileEntrySize)
		if err != nil {
			return err
		}
		m := marker.Marker(raw[0])
		rn, detail := "-", ""
		h, herr := marker.DecodePageHeader(raw)
		switch {
		case herr != nil:
			detail = herr.Error()
		case m == marker.File:
			rn = fmt.Sprint(h.RollingNumber)
			if e, err := marker.DecodeFileEntry(raw[marker.HeaderSize:]); err != nil {
				detail = err.Error()
			} else {
				detail = fmt.Sprintf("start=%d created=%s", e.StartPage, e.Created.Time().Format("2006-01-02T15:04:05"))
			}
		case m == marker.Record:
			rn = fmt.Sprint(h.RollingNumber)
			used, err := fs.countSlots(p)
			if err != nil {
				return err
			}
			detail = fmt.Sprintf("records=%d/%d", used, fs.geo.slots)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", p, m, rn, detail, strings.Join(fs.notes(p), ","))
	}
	return tw.Flush()
}

// countSlots counts slots that are no longer FREE.
func (fs *FS) countSlots(p flash.PageID) (int, error) {
	n := 0
	for i := 0; i < fs.geo.slots; i++ {
		b, err := fs.read(p, fs.geo.slotOffset(i), 1)
		if err != nil {
			return 0, err
		}
		if marker.Marker(b[0]) != marker.Free {
			n++
		}
	}
	return n, nil
}

func (fs *FS) notes(p flash.PageID) []string {
	var notes []string
	if fs.files.any {
		if p == fs.files.first {
			notes = append(notes, "first-file")
		}
		if p == fs.files.last {
			notes = append(notes, "last-file")
		}
	}
	o := fs.cur
	if o == nil {
		return notes
	}
	if p == o.file.Page {
		notes = append(notes, "open")
	}
	if o.hasData && p == o.first {
		notes = append(notes, "first-record")
	}
	if o.hasData && p == o.last {
		notes = append(notes, "last-record")
	}
	if p == o.write.page {
		notes = append(notes, fmt.Sprintf("write@%d", o.write.offset))
	}
	if o.reading && p == o.read.page {
		notes = append(notes, fmt.Sprintf("read@%d", o.read.offset))
	}
	return notes
}
