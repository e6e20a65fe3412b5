// Package xref locates indirect objects. It reads classic cross-reference
// tables and cross-reference streams, follows /Prev chains across incremental
// updates, and falls back to a full-file repair scan when the table is
// missing or broken.
package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/docforge/pdfnamer/filters"
	"github.com/docforge/pdfnamer/object"
	"github.com/docforge/pdfnamer/observability"
	"github.com/docforge/pdfnamer/recovery"
	"github.com/docforge/pdfnamer/scanner"
)

// EntryType discriminates how an object is stored.
type EntryType int

const (
	// Free marks a deleted object slot.
	Free EntryType = iota
	// InFile is a regular object at a byte offset.
	InFile
	// InStream is an object compressed inside an object stream.
	InStream
)

// Entry locates one indirect object.
type Entry struct {
	Type      EntryType
	Offset    int64 // InFile: byte offset of the object header
	Gen       int
	StreamNum int // InStream: object number of the containing stream
	StreamIdx int // InStream: index within the stream
}

// Table maps object numbers to their locations. Incremental updates are
// merged newest-first, so the first entry seen for a number wins.
type Table struct {
	entries  map[int]Entry
	Trailer  *object.Dict
	Repaired bool
}

// Lookup returns the entry for an object number.
func (t *Table) Lookup(num int) (Entry, bool) {
	e, ok := t.entries[num]
	return e, ok
}

// Objects returns every known object number, free slots excluded.
func (t *Table) Objects() []int {
	nums := make([]int, 0, len(t.entries))
	for n, e := range t.entries {
		if e.Type != Free {
			nums = append(nums, n)
		}
	}
	return nums
}

func (t *Table) add(num int, e Entry) {
	if _, seen := t.entries[num]; !seen {
		t.entries[num] = e
	}
}

// Config carries the collaborators the reader needs.
type Config struct {
	Recovery recovery.Strategy
	Logger   observability.Logger
	Pipeline *filters.Pipeline
	// MaxSections caps the /Prev chain length.
	MaxSections int
}

func (c *Config) fill() {
	if c.Recovery == nil {
		c.Recovery = recovery.NewStrict()
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger{}
	}
	if c.Pipeline == nil {
		c.Pipeline = filters.NewDefaultPipeline(filters.Limits{})
	}
	if c.MaxSections == 0 {
		c.MaxSections = 128
	}
}

// Load reads the complete cross-reference table of a file. A broken or
// missing table triggers the repair scan unless recovery is strict.
func Load(ctx context.Context, r io.ReaderAt, size int64, cfg Config) (*Table, error) {
	cfg.fill()
	table := &Table{entries: make(map[int]Entry)}

	offset, err := findStartXref(r, size)
	if err == nil {
		err = loadChain(ctx, r, size, offset, table, cfg)
	}
	if err == nil && len(table.entries) > 0 {
		return table, nil
	}

	loc := recovery.Location{Component: "xref"}
	if cfg.Recovery.OnError(fmt.Errorf("cross-reference unusable: %w", err), loc) == recovery.ActionFail {
		return nil, err
	}
	cfg.Logger.Warn("rebuilding cross-reference by scanning",
		observability.Error(err))
	return Repair(ctx, r, size)
}

// findStartXref locates the startxref pointer in the file tail.
func findStartXref(r io.ReaderAt, size int64) (int64, error) {
	const tailLen = 2048
	n := int64(tailLen)
	if n > size {
		n = size
	}
	tail := make([]byte, n)
	if _, err := r.ReadAt(tail, size-n); err != nil && err != io.EOF {
		return 0, err
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	rest := tail[idx+len("startxref"):]
	fields := bytes.Fields(rest)
	if len(fields) == 0 {
		return 0, errors.New("startxref missing offset")
	}
	off, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("startxref offset: %w", err)
	}
	if off < 0 || off >= size {
		return 0, fmt.Errorf("startxref offset %d outside file", off)
	}
	return off, nil
}

// loadChain walks sections newest to oldest via /Prev.
func loadChain(ctx context.Context, r io.ReaderAt, size, offset int64, table *Table, cfg Config) error {
	visited := make(map[int64]bool)
	for sections := 0; ; sections++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sections >= cfg.MaxSections {
			return errors.New("too many cross-reference sections")
		}
		if visited[offset] {
			return errors.New("cross-reference /Prev cycle")
		}
		visited[offset] = true

		trailer, err := loadSection(ctx, r, size, offset, table, cfg)
		if err != nil {
			return err
		}
		if table.Trailer == nil {
			table.Trailer = trailer
		}
		prev, ok := trailer.Int("Prev")
		if !ok {
			return nil
		}
		if prev < 0 || prev >= size {
			return fmt.Errorf("/Prev offset %d outside file", prev)
		}
		offset = prev
	}
}

// loadSection reads one section, classic or stream, and merges its entries.
func loadSection(ctx context.Context, r io.ReaderAt, size, offset int64, table *Table, cfg Config) (*object.Dict, error) {
	sc := scanner.New(r, scanner.Config{Recovery: cfg.Recovery})
	if err := sc.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := scanner.NewTokenReader(sc)
	tok, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("section at %d: %w", offset, err)
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		trailer, err := parseClassic(tr, table)
		if err != nil {
			return nil, err
		}
		// Hybrid files keep compressed-object entries in a parallel stream;
		// those win over the classic free markers, so merge them first is not
		// possible here. The stream is merged immediately after, and add()
		// keeps existing entries, so re-add stream entries over classic free
		// slots explicitly.
		if xs, ok := trailer.Int("XRefStm"); ok && xs >= 0 && xs < size {
			if err := mergeHybridStream(ctx, r, xs, table, cfg); err != nil {
				cfg.Logger.Warn("hybrid cross-reference stream unreadable",
					observability.Error(err))
			}
		}
		return trailer, nil
	}
	tr.Unread(tok)
	return parseStreamSection(ctx, tr, table, cfg)
}

// parseClassic reads the subsections of a classic table and its trailer dict.
func parseClassic(tr *scanner.TokenReader, table *Table) (*object.Dict, error) {
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := scanner.ParseObject(tr)
			if err != nil {
				return nil, fmt.Errorf("trailer: %w", err)
			}
			d, ok := obj.(*object.Dict)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			return d, nil
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("expected subsection header, got %q", tok.Str)
		}
		start := int(tok.Int)
		tok, err = tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, errors.New("subsection header missing count")
		}
		count := int(tok.Int)
		for i := 0; i < count; i++ {
			off, gen, kind, err := classicEntry(tr)
			if err != nil {
				return nil, fmt.Errorf("entry %d+%d: %w", start, i, err)
			}
			switch kind {
			case "n":
				table.add(start+i, Entry{Type: InFile, Offset: off, Gen: gen})
			case "f":
				table.add(start+i, Entry{Type: Free, Gen: gen})
			default:
				return nil, fmt.Errorf("bad entry type %q", kind)
			}
		}
	}
}

func classicEntry(tr *scanner.TokenReader) (int64, int, string, error) {
	off, err := tr.Next()
	if err != nil {
		return 0, 0, "", err
	}
	gen, err := tr.Next()
	if err != nil {
		return 0, 0, "", err
	}
	kind, err := tr.Next()
	if err != nil {
		return 0, 0, "", err
	}
	if off.Type != scanner.TokenNumber || gen.Type != scanner.TokenNumber || kind.Type != scanner.TokenKeyword {
		return 0, 0, "", errors.New("malformed 20-byte entry")
	}
	return off.Int, int(gen.Int), kind.Str, nil
}

// mergeHybridStream folds an /XRefStm stream into the table, overriding the
// free markers the classic section uses for compressed objects.
func mergeHybridStream(ctx context.Context, r io.ReaderAt, offset int64, table *Table, cfg Config) error {
	sub := &Table{entries: make(map[int]Entry)}
	sc := scanner.New(r, scanner.Config{Recovery: cfg.Recovery})
	if err := sc.SeekTo(offset); err != nil {
		return err
	}
	if _, err := parseStreamSection(ctx, scanner.NewTokenReader(sc), sub, cfg); err != nil {
		return err
	}
	for num, e := range sub.entries {
		if cur, ok := table.entries[num]; ok && cur.Type == Free && e.Type != Free {
			table.entries[num] = e
			continue
		}
		table.add(num, e)
	}
	return nil
}

// parseStreamSection reads a cross-reference stream object.
func parseStreamSection(ctx context.Context, tr *scanner.TokenReader, table *Table, cfg Config) (*object.Dict, error) {
	// Object header: num gen obj.
	for i := 0; i < 2; i++ {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type != scanner.TokenNumber {
			return nil, fmt.Errorf("cross-reference stream header: unexpected %q", tok.Str)
		}
	}
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type != scanner.TokenKeyword || tok.Str != "obj" {
		return nil, errors.New("cross-reference stream missing obj keyword")
	}
	obj, err := scanner.ParseObject(tr)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*object.Dict)
	if !ok {
		return nil, errors.New("cross-reference stream missing dictionary")
	}
	if typ, _ := dict.Name("Type"); typ != "XRef" {
		return nil, fmt.Errorf("unexpected stream type %q", typ)
	}
	// /Length in a cross-reference stream must be direct.
	if l, ok := dict.Int("Length"); ok {
		tr.SetStreamLengthHint(l)
	}
	tok, err = tr.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type != scanner.TokenStream {
		return nil, errors.New("cross-reference stream missing data")
	}
	names, params := filters.ExtractFilters(dict)
	data, err := cfg.Pipeline.Decode(ctx, tok.Bytes, names, params)
	if err != nil {
		return nil, fmt.Errorf("decode cross-reference stream: %w", err)
	}
	if err := parseStreamEntries(dict, data, table); err != nil {
		return nil, err
	}
	return dict, nil
}

// parseStreamEntries decodes the packed /W entries against the /Index ranges.
func parseStreamEntries(dict *object.Dict, data []byte, table *Table) error {
	widths, err := streamWidths(dict)
	if err != nil {
		return err
	}
	rowLen := widths[0] + widths[1] + widths[2]
	if rowLen <= 0 {
		return errors.New("/W describes empty rows")
	}
	ranges, err := streamIndex(dict)
	if err != nil {
		return err
	}
	pos := 0
	for _, rg := range ranges {
		for i := 0; i < rg[1]; i++ {
			if pos+rowLen > len(data) {
				return errors.New("cross-reference stream truncated")
			}
			f0 := readField(data[pos:pos+widths[0]], 1) // type defaults to 1
			f1 := readField(data[pos+widths[0]:pos+widths[0]+widths[1]], 0)
			f2 := readField(data[pos+widths[0]+widths[1]:pos+rowLen], 0)
			pos += rowLen
			num := rg[0] + i
			switch f0 {
			case 0:
				table.add(num, Entry{Type: Free, Gen: int(f2)})
			case 1:
				table.add(num, Entry{Type: InFile, Offset: f1, Gen: int(f2)})
			case 2:
				table.add(num, Entry{Type: InStream, StreamNum: int(f1), StreamIdx: int(f2)})
			default:
				// Unknown types are reserved; treat as free per spec fallback.
				table.add(num, Entry{Type: Free})
			}
		}
	}
	return nil
}

func streamWidths(dict *object.Dict) ([3]int, error) {
	var widths [3]int
	v, _ := dict.Get("W")
	arr, ok := v.(*object.Array)
	if !ok || arr.Len() < 3 {
		return widths, errors.New("missing or short /W")
	}
	for i := 0; i < 3; i++ {
		n, ok := arr.At(i).(object.Number)
		if !ok || n.Int() < 0 || n.Int() > 8 {
			return widths, errors.New("bad /W width")
		}
		widths[i] = int(n.Int())
	}
	return widths, nil
}

func streamIndex(dict *object.Dict) ([][2]int, error) {
	if v, ok := dict.Get("Index"); ok {
		arr, ok := v.(*object.Array)
		if !ok || arr.Len()%2 != 0 {
			return nil, errors.New("bad /Index")
		}
		out := make([][2]int, 0, arr.Len()/2)
		for i := 0; i+1 < arr.Len(); i += 2 {
			a, okA := arr.At(i).(object.Number)
			b, okB := arr.At(i + 1).(object.Number)
			if !okA || !okB {
				return nil, errors.New("bad /Index value")
			}
			out = append(out, [2]int{int(a.Int()), int(b.Int())})
		}
		return out, nil
	}
	size, ok := dict.Int("Size")
	if !ok {
		return nil, errors.New("missing /Size")
	}
	return [][2]int{{0, int(size)}}, nil
}

// readField reads a big-endian field; a zero-width field yields def.
func readField(b []byte, def int64) int64 {
	if len(b) == 0 {
		return def
	}
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
