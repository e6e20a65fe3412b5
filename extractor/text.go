package extractor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/docforge/pdfnamer/object"
	"github.com/docforge/pdfnamer/scanner"
)

const maxFormDepth = 8

// runContent interprets the text operators of one content stream.
func (e *Extractor) runContent(ctx context.Context, content []byte, resources *object.Dict, depth int) (string, error) {
	if depth > maxFormDepth {
		return "", nil
	}
	sc := scanner.New(bytes.NewReader(content), scanner.Config{Recovery: e.rec})
	tr := scanner.NewTokenReader(sc)

	var out strings.Builder
	var operands []object.Object
	var font *cmap

	atLineStart := true
	appendText := func(s string) {
		if s != "" {
			out.WriteString(s)
			atLineStart = strings.HasSuffix(s, "\n")
		}
	}
	newline := func() {
		if out.Len() > 0 && !atLineStart {
			out.WriteByte('\n')
			atLineStart = true
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		tok, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Content stream damage past this point loses the tail only.
			break
		}
		switch tok.Type {
		case scanner.TokenInlineImage:
			operands = operands[:0]
			continue
		case scanner.TokenKeyword:
		default:
			tr.Unread(tok)
			obj, err := scanner.ParseObject(tr)
			if err != nil {
				operands = operands[:0]
				continue
			}
			operands = append(operands, obj)
			continue
		}

		switch tok.Str {
		case "Tf":
			font = e.fontFor(ctx, operands, resources)
		case "Tj":
			appendText(e.showString(lastString(operands), font))
		case "'":
			newline()
			appendText(e.showString(lastString(operands), font))
		case "\"":
			newline()
			appendText(e.showString(lastString(operands), font))
		case "TJ":
			if len(operands) > 0 {
				if arr, ok := operands[len(operands)-1].(*object.Array); ok {
					for _, item := range arr.Items {
						if s, ok := item.(object.String); ok {
							appendText(e.showString(s.Data, font))
						}
					}
				}
			}
		case "Td", "TD", "T*", "Tm":
			newline()
		case "ET":
			newline()
		case "Do":
			if s := e.runForm(ctx, operands, resources, depth); s != "" {
				newline()
				appendText(s)
				newline()
			}
		}
		operands = operands[:0]
	}
	return out.String(), nil
}

func lastString(operands []object.Object) []byte {
	if len(operands) == 0 {
		return nil
	}
	s, _ := operands[len(operands)-1].(object.String)
	return s.Data
}

// showString maps raw string bytes to text using the current font's CMap.
func (e *Extractor) showString(raw []byte, font *cmap) string {
	if len(raw) == 0 {
		return ""
	}
	if font != nil {
		return font.decode(raw)
	}
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		return utf16BEString(raw[2:])
	}
	var b strings.Builder
	for _, c := range raw {
		if c == 0 {
			continue
		}
		b.WriteRune(rune(c))
	}
	return b.String()
}

// fontFor resolves the Tf font operand to its ToUnicode CMap, if any.
func (e *Extractor) fontFor(ctx context.Context, operands []object.Object, resources *object.Dict) *cmap {
	if len(operands) < 2 || resources == nil {
		return nil
	}
	name, ok := operands[len(operands)-2].(object.Name)
	if !ok {
		return nil
	}
	fontsObj, ok := resources.Get("Font")
	if !ok {
		return nil
	}
	fonts := e.doc.ResolveDict(fontsObj)
	if fonts == nil {
		return nil
	}
	fontObj, ok := fonts.Get(string(name))
	if !ok {
		return nil
	}
	ref, isRef := fontObj.(object.Ref)
	if isRef {
		if c, cached := e.cmaps[ref]; cached {
			return c
		}
	}
	fontDict := e.doc.ResolveDict(fontObj)
	if fontDict == nil {
		return nil
	}
	var c *cmap
	if tu, ok := fontDict.Get("ToUnicode"); ok {
		if s := e.doc.ResolveStream(tu); s != nil {
			if data, err := e.decodeStream(ctx, s); err == nil {
				c = parseCMap(data)
			}
		}
	}
	if isRef {
		e.cmaps[ref] = c
	}
	return c
}

// runForm recurses into a form XObject named by a Do operator.
func (e *Extractor) runForm(ctx context.Context, operands []object.Object, resources *object.Dict, depth int) string {
	if len(operands) == 0 || resources == nil {
		return ""
	}
	name, ok := operands[len(operands)-1].(object.Name)
	if !ok {
		return ""
	}
	xobjs := e.resolveXObjects(resources)
	if xobjs == nil {
		return ""
	}
	obj, ok := xobjs.Get(string(name))
	if !ok {
		return ""
	}
	s := e.doc.ResolveStream(obj)
	if s == nil {
		return ""
	}
	if sub, _ := s.Dict.Name("Subtype"); sub != "Form" {
		return ""
	}
	data, err := e.decodeStream(ctx, s)
	if err != nil {
		return ""
	}
	formRes := resources
	if r, ok := s.Dict.Get("Resources"); ok {
		if rd := e.doc.ResolveDict(r); rd != nil {
			formRes = rd
		}
	}
	text, _ := e.runContent(ctx, data, formRes, depth+1)
	return text
}

func (e *Extractor) resolveXObjects(resources *object.Dict) *object.Dict {
	v, ok := resources.Get("XObject")
	if !ok {
		return nil
	}
	return e.doc.ResolveDict(v)
}

func utf16BEString(raw []byte) string {
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
