package xref

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/docforge/pdfnamer/object"
	"github.com/docforge/pdfnamer/recovery"
	"github.com/docforge/pdfnamer/scanner"
)

// Repair rebuilds a cross-reference table by scanning the whole file for
// object headers. Later definitions of the same object number win, matching
// how incremental updates append replacements.
func Repair(ctx context.Context, r io.ReaderAt, size int64) (*Table, error) {
	data := make([]byte, size)
	if _, err := r.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	table := &Table{entries: make(map[int]Entry), Repaired: true}

	needle := []byte("obj")
	for i := 0; i+3 <= len(data); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := bytes.Index(data[i:], needle)
		if idx < 0 {
			break
		}
		pos := i + idx
		i = pos + 3
		// Reject endobj and require a delimiter after the keyword.
		if pos > 0 && isRegular(data[pos-1]) {
			continue
		}
		if pos+3 < len(data) && isRegular(data[pos+3]) {
			continue
		}
		num, gen, start, ok := headerBefore(data, pos)
		if !ok {
			continue
		}
		table.entries[num] = Entry{Type: InFile, Offset: start, Gen: gen}
	}
	if len(table.entries) == 0 {
		return nil, errors.New("no objects found while scanning")
	}
	table.Trailer = findTrailer(data)
	return table, nil
}

// headerBefore walks backwards from the obj keyword to read "num gen".
func headerBefore(data []byte, objPos int) (num, gen int, start int64, ok bool) {
	p := objPos - 1
	genVal, genStart, ok := digitsBefore(data, p)
	if !ok {
		return 0, 0, 0, false
	}
	numVal, numStart, ok := digitsBefore(data, genStart-1)
	if !ok {
		return 0, 0, 0, false
	}
	return numVal, genVal, int64(numStart), true
}

// digitsBefore skips whitespace ending at p, then reads a decimal run.
func digitsBefore(data []byte, p int) (val, start int, ok bool) {
	for p >= 0 && (data[p] == ' ' || data[p] == '\t' || data[p] == '\r' || data[p] == '\n') {
		p--
	}
	end := p
	for p >= 0 && data[p] >= '0' && data[p] <= '9' {
		p--
	}
	if p == end {
		return 0, 0, false
	}
	v := 0
	for i := p + 1; i <= end; i++ {
		v = v*10 + int(data[i]-'0')
		if v > 1<<30 {
			return 0, 0, false
		}
	}
	return v, p + 1, true
}

func isRegular(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

// findTrailer parses the last trailer dictionary in the file, if any. Files
// rebuilt without one leave the caller to locate the catalog by type.
func findTrailer(data []byte) *object.Dict {
	for searchEnd := len(data); searchEnd > 0; {
		idx := bytes.LastIndex(data[:searchEnd], []byte("trailer"))
		if idx < 0 {
			return nil
		}
		searchEnd = idx
		sc := scanner.New(bytes.NewReader(data), scanner.Config{Recovery: recovery.NewLenient()})
		if err := sc.SeekTo(int64(idx + len("trailer"))); err != nil {
			continue
		}
		obj, err := scanner.ParseObject(scanner.NewTokenReader(sc))
		if err != nil {
			continue
		}
		if d, ok := obj.(*object.Dict); ok {
			if _, hasRoot := d.Get("Root"); hasRoot {
				return d
			}
		}
	}
	return nil
}
