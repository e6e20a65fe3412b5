package extractor

import (
	"bytes"
	"errors"
	"io"

	"github.com/docforge/pdfnamer/object"
	"github.com/docforge/pdfnamer/recovery"
	"github.com/docforge/pdfnamer/scanner"
)

// cmap maps character codes to Unicode strings, built from a ToUnicode
// stream. Codes are fixed-width; the width comes from the codespace ranges.
type cmap struct {
	codeLen int
	m       map[uint32]string
}

// parseCMap reads the bfchar and bfrange sections of a ToUnicode CMap.
func parseCMap(data []byte) *cmap {
	c := &cmap{codeLen: 1, m: make(map[uint32]string)}
	sc := scanner.New(bytes.NewReader(data), scanner.Config{Recovery: recovery.NewLenient()})
	tr := scanner.NewTokenReader(sc)

	for {
		tok, err := tr.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return c
			}
			break
		}
		if tok.Type != scanner.TokenKeyword {
			continue
		}
		switch tok.Str {
		case "begincodespacerange":
			c.readCodespace(tr)
		case "beginbfchar":
			c.readBFChar(tr)
		case "beginbfrange":
			c.readBFRange(tr)
		}
	}
	return c
}

func (c *cmap) readCodespace(tr *scanner.TokenReader) {
	for {
		tok, err := tr.Next()
		if err != nil || (tok.Type == scanner.TokenKeyword && tok.Str == "endcodespacerange") {
			return
		}
		if tok.Type == scanner.TokenString && len(tok.Bytes) > c.codeLen {
			c.codeLen = len(tok.Bytes)
			if c.codeLen > 4 {
				c.codeLen = 4
			}
		}
	}
}

func (c *cmap) readBFChar(tr *scanner.TokenReader) {
	for {
		src, err := tr.Next()
		if err != nil || (src.Type == scanner.TokenKeyword && src.Str == "endbfchar") {
			return
		}
		dst, err := tr.Next()
		if err != nil {
			return
		}
		if src.Type != scanner.TokenString || dst.Type != scanner.TokenString {
			continue
		}
		c.noteCodeLen(src.Bytes)
		c.m[codeValue(src.Bytes)] = utf16BEString(dst.Bytes)
	}
}

func (c *cmap) readBFRange(tr *scanner.TokenReader) {
	for {
		lo, err := tr.Next()
		if err != nil || (lo.Type == scanner.TokenKeyword && lo.Str == "endbfrange") {
			return
		}
		hi, err := tr.Next()
		if err != nil {
			return
		}
		if lo.Type != scanner.TokenString || hi.Type != scanner.TokenString {
			continue
		}
		c.noteCodeLen(lo.Bytes)
		loV, hiV := codeValue(lo.Bytes), codeValue(hi.Bytes)
		if hiV < loV || hiV-loV > 1<<16 {
			continue
		}
		dst, err := tr.Next()
		if err != nil {
			return
		}
		switch dst.Type {
		case scanner.TokenString:
			base := append([]byte(nil), dst.Bytes...)
			for v := loV; v <= hiV; v++ {
				c.m[v] = utf16BEString(base)
				incrementBE(base)
			}
		case scanner.TokenArray:
			tr.Unread(dst)
			obj, err := scanner.ParseObject(tr)
			if err != nil {
				return
			}
			arr, ok := obj.(*object.Array)
			if !ok {
				continue
			}
			for i, item := range arr.Items {
				s, ok := item.(object.String)
				if !ok || loV+uint32(i) > hiV {
					break
				}
				c.m[loV+uint32(i)] = utf16BEString(s.Data)
			}
		}
	}
}

func (c *cmap) noteCodeLen(src []byte) {
	if len(src) > c.codeLen && len(src) <= 4 {
		c.codeLen = len(src)
	}
}

// decode maps raw show-string bytes through the CMap. Unmapped codes fall
// back to their byte values so partial CMaps still yield usable text.
func (c *cmap) decode(raw []byte) string {
	var b bytes.Buffer
	step := c.codeLen
	if step < 1 {
		step = 1
	}
	for i := 0; i < len(raw); i += step {
		end := i + step
		if end > len(raw) {
			end = len(raw)
		}
		v := codeValue(raw[i:end])
		if s, ok := c.m[v]; ok {
			b.WriteString(s)
			continue
		}
		if step == 1 && v >= 0x20 && v < 0x7F {
			b.WriteByte(byte(v))
		}
	}
	return b.String()
}

func codeValue(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

// incrementBE bumps a big-endian byte string by one, for bfrange expansion.
func incrementBE(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}
