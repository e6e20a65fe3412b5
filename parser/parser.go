// Package parser turns a PDF file into a loaded object.Document. It reads
// the header version, the cross-reference table, every reachable indirect
// object, and authenticates encrypted files with the standard handler.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docforge/pdfnamer/filters"
	"github.com/docforge/pdfnamer/object"
	"github.com/docforge/pdfnamer/observability"
	"github.com/docforge/pdfnamer/recovery"
	"github.com/docforge/pdfnamer/security"
	"github.com/docforge/pdfnamer/xref"
)

// ErrEncrypted wraps authentication failures so callers can skip the file.
var ErrEncrypted = errors.New("encrypted document")

// Config controls parsing behavior.
type Config struct {
	Recovery   recovery.Strategy
	Logger     observability.Logger
	Limits     filters.Limits
	Password   string
	MaxObjects int
}

// Parser loads documents. Safe for reuse across files.
type Parser struct {
	cfg      Config
	pipeline *filters.Pipeline
}

// New builds a parser. Zero-value config means lenient recovery, no logging
// and a 256 MiB decompression cap.
func New(cfg Config) *Parser {
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewLenient()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Limits.MaxDecompressedSize == 0 {
		cfg.Limits.MaxDecompressedSize = 256 << 20
	}
	if cfg.Limits.MaxDecodeTime == 0 {
		cfg.Limits.MaxDecodeTime = 30 * time.Second
	}
	if cfg.MaxObjects == 0 {
		cfg.MaxObjects = 1 << 20
	}
	return &Parser{cfg: cfg, pipeline: filters.NewDefaultPipeline(cfg.Limits)}
}

// Pipeline exposes the filter pipeline for downstream stream decoding.
func (p *Parser) Pipeline() *filters.Pipeline { return p.pipeline }

// ParseFile opens and parses one file.
func (p *Parser) ParseFile(ctx context.Context, path string) (*object.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, f, st.Size())
}

// Parse loads a document from a random-access reader.
func (p *Parser) Parse(ctx context.Context, r io.ReaderAt, size int64) (*object.Document, error) {
	version, err := headerVersion(r, size)
	if err != nil {
		loc := recovery.Location{Component: "header"}
		if p.cfg.Recovery.OnError(err, loc) == recovery.ActionFail {
			return nil, err
		}
	}

	table, err := xref.Load(ctx, r, size, xref.Config{
		Recovery: p.cfg.Recovery,
		Logger:   p.cfg.Logger,
		Pipeline: p.pipeline,
	})
	if err != nil {
		return nil, fmt.Errorf("cross-reference: %w", err)
	}

	l := newLoader(r, size, table, p.pipeline, p.cfg.Recovery, p.cfg.Logger)
	doc := &object.Document{
		Objects: make(map[object.Ref]object.Object),
		Trailer: table.Trailer,
		Version: version,
	}

	if err := p.setupEncryption(ctx, l, table, doc); err != nil {
		return nil, err
	}

	nums := table.Objects()
	if len(nums) > p.cfg.MaxObjects {
		return nil, fmt.Errorf("%d objects exceeds limit", len(nums))
	}
	for _, num := range nums {
		obj, err := l.load(ctx, num)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", num, err)
		}
		entry, _ := table.Lookup(num)
		gen := entry.Gen
		if entry.Type == xref.InStream {
			gen = 0
		}
		doc.Objects[object.Ref{Num: num, Gen: gen}] = obj
	}

	if doc.Trailer == nil || !hasRoot(doc) {
		if err := synthesizeTrailer(doc); err != nil {
			return nil, err
		}
	}
	p.populateInfo(doc)
	if !doc.Encrypted {
		doc.Permissions = object.AllPermissions()
	}
	return doc, nil
}

// setupEncryption authenticates when the trailer carries /Encrypt.
func (p *Parser) setupEncryption(ctx context.Context, l *loader, table *xref.Table, doc *object.Document) error {
	if table.Trailer == nil {
		return nil
	}
	encObj, ok := table.Trailer.Get("Encrypt")
	if !ok {
		return nil
	}
	doc.Encrypted = true
	var encDict *object.Dict
	encRef := object.Ref{}
	switch v := encObj.(type) {
	case object.Ref:
		encRef = v
		l.encryptNum = v.Num
		loaded, err := l.load(ctx, v.Num)
		if err != nil {
			return fmt.Errorf("%w: load /Encrypt: %v", ErrEncrypted, err)
		}
		encDict, _ = loaded.(*object.Dict)
	case *object.Dict:
		encDict = v
	}
	if encDict == nil {
		return fmt.Errorf("%w: /Encrypt is not a dictionary", ErrEncrypted)
	}
	handler, err := security.Open(encDict, encRef, fileID(table.Trailer), p.cfg.Password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncrypted, err)
	}
	l.crypt = handler
	doc.Permissions = handler.Permissions()
	p.cfg.Logger.Info("authenticated encrypted document",
		observability.Bool("owner", doc.Permissions == object.AllPermissions()))
	return nil
}

// fileID returns the first element of the trailer /ID.
func fileID(trailer *object.Dict) []byte {
	v, ok := trailer.Get("ID")
	if !ok {
		return nil
	}
	arr, ok := v.(*object.Array)
	if !ok || arr.Len() == 0 {
		return nil
	}
	s, ok := arr.At(0).(object.String)
	if !ok {
		return nil
	}
	return s.Data
}

func hasRoot(doc *object.Document) bool {
	if doc.Trailer == nil {
		return false
	}
	root, ok := doc.Trailer.Get("Root")
	return ok && doc.ResolveDict(root) != nil
}

// synthesizeTrailer finds the catalog by type when the trailer is missing or
// points nowhere, which happens after a repair scan.
func synthesizeTrailer(doc *object.Document) error {
	for ref, obj := range doc.Objects {
		d, ok := obj.(*object.Dict)
		if !ok {
			continue
		}
		if typ, _ := d.Name("Type"); typ == "Catalog" {
			if doc.Trailer == nil {
				doc.Trailer = object.NewDict()
			}
			doc.Trailer.Set("Root", ref)
			doc.Trailer.Set("Size", object.Integer(int64(len(doc.Objects)+1)))
			return nil
		}
	}
	return errors.New("no document catalog found")
}

// populateInfo copies the information dictionary into doc.Info.
func (p *Parser) populateInfo(doc *object.Document) {
	if doc.Trailer == nil {
		return
	}
	infoObj, ok := doc.Trailer.Get("Info")
	if !ok {
		return
	}
	d := doc.ResolveDict(infoObj)
	if d == nil {
		return
	}
	get := func(key string) string {
		raw, ok := d.Bytes(key)
		if !ok {
			return ""
		}
		return DecodeTextString(raw)
	}
	doc.Info = object.Info{
		Title:    get("Title"),
		Author:   get("Author"),
		Subject:  get("Subject"),
		Creator:  get("Creator"),
		Producer: get("Producer"),
	}
	if kw := get("Keywords"); kw != "" {
		for _, part := range strings.FieldsFunc(kw, func(r rune) bool { return r == ',' || r == ';' }) {
			if s := strings.TrimSpace(part); s != "" {
				doc.Info.Keywords = append(doc.Info.Keywords, s)
			}
		}
	}
}

// DecodeTextString converts a PDF text string to UTF-8. UTF-16 is detected
// by BOM; everything else is treated as Latin-1, a close-enough stand-in for
// PDFDocEncoding.
func DecodeTextString(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		return decodeUTF16BE(raw[2:])
	}
	if len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF {
		return string(raw[3:])
	}
	var b strings.Builder
	for _, c := range raw {
		b.WriteRune(rune(c))
	}
	return b.String()
}

func decodeUTF16BE(raw []byte) string {
	var b strings.Builder
	for i := 0; i+1 < len(raw); i += 2 {
		u := rune(raw[i])<<8 | rune(raw[i+1])
		if u >= 0xD800 && u <= 0xDBFF && i+3 < len(raw) {
			lo := rune(raw[i+2])<<8 | rune(raw[i+3])
			if lo >= 0xDC00 && lo <= 0xDFFF {
				b.WriteRune(((u - 0xD800) << 10) + (lo - 0xDC00) + 0x10000)
				i += 2
				continue
			}
		}
		b.WriteRune(u)
	}
	return b.String()
}

// headerVersion reads the %PDF-x.y marker near the start of the file.
func headerVersion(r io.ReaderAt, size int64) (string, error) {
	n := int64(1024)
	if n > size {
		n = size
	}
	head := make([]byte, n)
	if _, err := r.ReadAt(head, 0); err != nil && err != io.EOF {
		return "", err
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return "", errors.New("missing %PDF header")
	}
	rest := head[idx+5:]
	end := 0
	for end < len(rest) && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return "", errors.New("malformed %PDF header")
	}
	return string(rest[:end]), nil
}
