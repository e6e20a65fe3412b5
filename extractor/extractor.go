// Package extractor pulls text and images out of a loaded document. Text
// comes from content-stream show operators mapped through ToUnicode CMaps;
// images come from XObject resources and feed the OCR fallback for scanned
// files.
package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/docforge/pdfnamer/filters"
	"github.com/docforge/pdfnamer/object"
	"github.com/docforge/pdfnamer/observability"
	"github.com/docforge/pdfnamer/recovery"
)

const maxPageTreeDepth = 64

// Page is one leaf of the page tree with its inherited resources applied.
type Page struct {
	Number    int // 1-based
	Dict      *object.Dict
	Resources *object.Dict
}

// Config carries the extractor's collaborators.
type Config struct {
	Pipeline *filters.Pipeline
	Recovery recovery.Strategy
	Logger   observability.Logger
}

// Extractor reads pages of one document. Not safe for concurrent use.
type Extractor struct {
	doc      *object.Document
	pipeline *filters.Pipeline
	rec      recovery.Strategy
	log      observability.Logger

	pages []*Page
	cmaps map[object.Ref]*cmap
}

// New builds an extractor over a parsed document.
func New(doc *object.Document, cfg Config) (*Extractor, error) {
	if cfg.Pipeline == nil {
		cfg.Pipeline = filters.NewDefaultPipeline(filters.Limits{})
	}
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewLenient()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	e := &Extractor{
		doc:      doc,
		pipeline: cfg.Pipeline,
		rec:      cfg.Recovery,
		log:      cfg.Logger,
		cmaps:    make(map[object.Ref]*cmap),
	}
	if err := e.collectPages(); err != nil {
		return nil, err
	}
	return e, nil
}

// Pages returns the document pages in order.
func (e *Extractor) Pages() []*Page { return e.pages }

// PageCount reports the number of leaf pages found.
func (e *Extractor) PageCount() int { return len(e.pages) }

// collectPages walks the page tree, carrying inherited /Resources down.
func (e *Extractor) collectPages() error {
	catalog := e.doc.Catalog()
	if catalog == nil {
		return fmt.Errorf("document has no catalog")
	}
	rootObj, ok := catalog.Get("Pages")
	if !ok {
		return fmt.Errorf("catalog has no page tree")
	}
	visited := make(map[object.Ref]bool)
	e.walkPages(rootObj, nil, visited, 0)
	if len(e.pages) == 0 {
		return fmt.Errorf("page tree has no pages")
	}
	return nil
}

func (e *Extractor) walkPages(node object.Object, inherited *object.Dict, visited map[object.Ref]bool, depth int) {
	if depth > maxPageTreeDepth {
		return
	}
	if ref, ok := node.(object.Ref); ok {
		if visited[ref] {
			return
		}
		visited[ref] = true
	}
	d := e.doc.ResolveDict(node)
	if d == nil {
		return
	}
	res := inherited
	if r, ok := d.Get("Resources"); ok {
		if rd := e.doc.ResolveDict(r); rd != nil {
			res = rd
		}
	}
	typ, _ := d.Name("Type")
	kids, hasKids := d.Get("Kids")
	if typ == "Pages" || (typ == "" && hasKids) {
		arr := e.doc.ResolveArray(kids)
		if arr == nil {
			return
		}
		for _, kid := range arr.Items {
			e.walkPages(kid, res, visited, depth+1)
		}
		return
	}
	if typ == "Page" || typ == "" {
		e.pages = append(e.pages, &Page{Number: len(e.pages) + 1, Dict: d, Resources: res})
	}
}

// contents returns the decoded content of a page, streams concatenated.
func (e *Extractor) contents(ctx context.Context, page *Page) ([]byte, error) {
	v, ok := page.Dict.Get("Contents")
	if !ok {
		return nil, nil
	}
	var parts []*object.Stream
	switch resolved := e.doc.Resolve(v).(type) {
	case *object.Stream:
		parts = append(parts, resolved)
	case *object.Array:
		for _, item := range resolved.Items {
			if s := e.doc.ResolveStream(item); s != nil {
				parts = append(parts, s)
			}
		}
	}
	var out []byte
	for _, s := range parts {
		data, err := e.decodeStream(ctx, s)
		if err != nil {
			loc := recovery.Location{Component: "contents"}
			if e.rec.OnError(err, loc) == recovery.ActionFail {
				return nil, err
			}
			e.log.Warn("skipping unreadable content stream",
				observability.Int("page", page.Number), observability.Error(err))
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, data...)
	}
	return out, nil
}

func (e *Extractor) decodeStream(ctx context.Context, s *object.Stream) ([]byte, error) {
	names, params := filters.ExtractFilters(s.Dict)
	return e.pipeline.Decode(ctx, s.Data, names, params)
}

// Text extracts text from the first maxPages pages; zero means all pages.
func (e *Extractor) Text(ctx context.Context, maxPages int) (string, error) {
	n := len(e.pages)
	if maxPages > 0 && maxPages < n {
		n = maxPages
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		txt, err := e.PageText(ctx, i)
		if err != nil {
			return "", err
		}
		if txt != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(txt)
		}
	}
	return b.String(), nil
}

// PageText extracts the text of one page by index.
func (e *Extractor) PageText(ctx context.Context, index int) (string, error) {
	if index < 0 || index >= len(e.pages) {
		return "", fmt.Errorf("page index %d out of range", index)
	}
	page := e.pages[index]
	content, err := e.contents(ctx, page)
	if err != nil {
		return "", err
	}
	if len(content) == 0 {
		return "", nil
	}
	return e.runContent(ctx, content, page.Resources, 0)
}
