package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docforge/pdfnamer/filters"
	"github.com/docforge/pdfnamer/object"
	"github.com/docforge/pdfnamer/observability"
	"github.com/docforge/pdfnamer/recovery"
	"github.com/docforge/pdfnamer/scanner"
	"github.com/docforge/pdfnamer/security"
	"github.com/docforge/pdfnamer/xref"
)

// loader materializes indirect objects through the cross-reference table,
// inflating object streams and decrypting along the way.
type loader struct {
	r        io.ReaderAt
	size     int64
	table    *xref.Table
	pipeline *filters.Pipeline
	rec      recovery.Strategy
	log      observability.Logger

	crypt      *security.Handler
	encryptNum int

	cache   map[int]object.Object
	loading map[int]bool
	objStms map[int]*objStm
}

type objStm struct {
	data    []byte
	first   int64
	offsets []objStmEntry
}

type objStmEntry struct {
	num    int
	offset int64
}

func newLoader(r io.ReaderAt, size int64, table *xref.Table, pipeline *filters.Pipeline, rec recovery.Strategy, log observability.Logger) *loader {
	return &loader{
		r: r, size: size, table: table, pipeline: pipeline, rec: rec, log: log,
		cache:   make(map[int]object.Object),
		loading: make(map[int]bool),
		objStms: make(map[int]*objStm),
	}
}

// load returns the object with the given number, from cache when possible.
func (l *loader) load(ctx context.Context, num int) (object.Object, error) {
	if obj, ok := l.cache[num]; ok {
		return obj, nil
	}
	if l.loading[num] {
		return nil, fmt.Errorf("object %d: load cycle", num)
	}
	l.loading[num] = true
	defer delete(l.loading, num)

	entry, ok := l.table.Lookup(num)
	if !ok {
		return object.Null{}, nil
	}
	var obj object.Object
	var err error
	switch entry.Type {
	case xref.Free:
		obj = object.Null{}
	case xref.InFile:
		obj, err = l.loadAt(ctx, entry.Offset, num, entry.Gen)
	case xref.InStream:
		obj, err = l.loadFromObjStm(ctx, entry.StreamNum, entry.StreamIdx, num)
	}
	if err != nil {
		loc := recovery.Location{ByteOffset: entry.Offset, ObjectNum: num, ObjectGen: entry.Gen, Component: "loader"}
		if l.rec.OnError(err, loc) == recovery.ActionFail {
			return nil, err
		}
		l.log.Warn("skipping unreadable object",
			observability.Int("object", num), observability.Error(err))
		obj = object.Null{}
	}
	l.cache[num] = obj
	return obj, nil
}

// loadAt parses one indirect object at a byte offset.
func (l *loader) loadAt(ctx context.Context, offset int64, num, gen int) (object.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || offset >= l.size {
		return nil, fmt.Errorf("offset %d outside file", offset)
	}
	sc := scanner.New(l.r, scanner.Config{Recovery: l.rec})
	if err := sc.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := scanner.NewTokenReader(sc)

	hdrNum, hdrGen, err := objectHeader(tr)
	if err != nil {
		return nil, err
	}
	if hdrNum != num {
		loc := recovery.Location{ByteOffset: offset, ObjectNum: num, Component: "loader"}
		if l.rec.OnError(fmt.Errorf("header says object %d, table says %d", hdrNum, num), loc) == recovery.ActionFail {
			return nil, fmt.Errorf("object %d: header mismatch (%d)", num, hdrNum)
		}
	}
	obj, err := scanner.ParseObject(tr)
	if err != nil {
		return nil, err
	}
	dict, isDict := obj.(*object.Dict)
	if isDict {
		// A stream may follow. Resolve /Length, possibly indirect, before the
		// scanner reaches the stream keyword.
		length, hasLength := l.resolveLength(ctx, dict)
		if hasLength {
			tr.SetStreamLengthHint(length)
		}
		tok, err := tr.Next()
		if err == nil && tok.Type == scanner.TokenStream {
			data := tok.Bytes
			if l.crypt != nil && l.shouldDecrypt(num, dict) {
				ref := object.Ref{Num: num, Gen: hdrGen}
				l.decryptStrings(ref, dict)
				data, err = l.crypt.DecryptStream(ref, data)
				if err != nil {
					return nil, fmt.Errorf("decrypt stream %d: %w", num, err)
				}
			}
			return object.NewStream(dict, data), nil
		}
		if hasLength {
			tr.SetStreamLengthHint(-1)
		}
	}
	if l.crypt != nil && num != l.encryptNum {
		l.decryptStrings(object.Ref{Num: num, Gen: hdrGen}, obj)
	}
	return obj, nil
}

func (l *loader) shouldDecrypt(num int, dict *object.Dict) bool {
	if num == l.encryptNum {
		return false
	}
	if typ, _ := dict.Name("Type"); typ == "XRef" {
		return false
	}
	return true
}

// resolveLength reads /Length, loading it when indirect.
func (l *loader) resolveLength(ctx context.Context, dict *object.Dict) (int64, bool) {
	v, ok := dict.Get("Length")
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case object.Number:
		return n.Int(), true
	case object.Ref:
		obj, err := l.load(ctx, n.Num)
		if err != nil {
			return 0, false
		}
		if num, ok := obj.(object.Number); ok {
			// Inline the resolved value so later readers see it directly.
			dict.Set("Length", num)
			return num.Int(), true
		}
	}
	return 0, false
}

// decryptStrings rewrites every string inside obj in place.
func (l *loader) decryptStrings(ref object.Ref, obj object.Object) {
	switch v := obj.(type) {
	case *object.Array:
		for i, item := range v.Items {
			if s, ok := item.(object.String); ok {
				if dec, err := l.crypt.DecryptString(ref, s.Data); err == nil {
					v.Items[i] = object.String{Data: dec, Hex: s.Hex}
				}
				continue
			}
			l.decryptStrings(ref, item)
		}
	case *object.Dict:
		for k, item := range v.KV {
			if s, ok := item.(object.String); ok {
				if dec, err := l.crypt.DecryptString(ref, s.Data); err == nil {
					v.KV[k] = object.String{Data: dec, Hex: s.Hex}
				}
				continue
			}
			l.decryptStrings(ref, item)
		}
	}
}

// loadFromObjStm returns one object out of a compressed object stream.
func (l *loader) loadFromObjStm(ctx context.Context, streamNum, idx, wantNum int) (object.Object, error) {
	stm, err := l.objStm(ctx, streamNum)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(stm.offsets) {
		return nil, fmt.Errorf("object stream %d: index %d out of range", streamNum, idx)
	}
	ent := stm.offsets[idx]
	if ent.num != wantNum {
		// Some writers shuffle indices; fall back to a number match.
		found := false
		for _, e := range stm.offsets {
			if e.num == wantNum {
				ent, found = e, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("object %d not in object stream %d", wantNum, streamNum)
		}
	}
	sc := scanner.New(bytes.NewReader(stm.data), scanner.Config{Recovery: l.rec})
	if err := sc.SeekTo(stm.first + ent.offset); err != nil {
		return nil, err
	}
	return scanner.ParseObject(scanner.NewTokenReader(sc))
}

// objStm loads, decodes and indexes an object stream container.
func (l *loader) objStm(ctx context.Context, num int) (*objStm, error) {
	if stm, ok := l.objStms[num]; ok {
		return stm, nil
	}
	obj, err := l.load(ctx, num)
	if err != nil {
		return nil, err
	}
	container, ok := obj.(*object.Stream)
	if !ok {
		return nil, fmt.Errorf("object %d is not a stream", num)
	}
	names, params := filters.ExtractFilters(container.Dict)
	data, err := l.pipeline.Decode(ctx, container.Data, names, params)
	if err != nil {
		return nil, fmt.Errorf("decode object stream %d: %w", num, err)
	}
	n, _ := container.Dict.Int("N")
	first, _ := container.Dict.Int("First")
	if n <= 0 || first <= 0 || first > int64(len(data)) {
		return nil, fmt.Errorf("object stream %d: bad /N or /First", num)
	}
	stm := &objStm{data: data, first: first}

	sc := scanner.New(bytes.NewReader(data[:first]), scanner.Config{Recovery: l.rec})
	tr := scanner.NewTokenReader(sc)
	for i := int64(0); i < n; i++ {
		numTok, err := tr.Next()
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", num, err)
		}
		offTok, err := tr.Next()
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", num, err)
		}
		if numTok.Type != scanner.TokenNumber || offTok.Type != scanner.TokenNumber {
			return nil, fmt.Errorf("object stream %d: malformed header pair", num)
		}
		stm.offsets = append(stm.offsets, objStmEntry{num: int(numTok.Int), offset: offTok.Int})
	}
	l.objStms[num] = stm
	return stm, nil
}

// objectHeader consumes "num gen obj".
func objectHeader(tr *scanner.TokenReader) (int, int, error) {
	numTok, err := tr.Next()
	if err != nil {
		return 0, 0, err
	}
	genTok, err := tr.Next()
	if err != nil {
		return 0, 0, err
	}
	objTok, err := tr.Next()
	if err != nil {
		return 0, 0, err
	}
	if numTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber {
		return 0, 0, errors.New("object header missing numbers")
	}
	if objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return 0, 0, errors.New("object header missing obj keyword")
	}
	return int(numTok.Int), int(genTok.Int), nil
}
