// Package filters decodes PDF stream filters. Image codecs (DCTDecode,
// JPXDecode) are deliberately passed through: their payloads are complete
// JPEG/JPEG2000 files that downstream consumers hand to image decoders or the
// OCR engine as-is.
package filters

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"compress/zlib"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docforge/pdfnamer/object"
)

// Decoder decodes a single filter stage.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *object.Dict) ([]byte, error)
}

// Limits bounds decode work for hostile inputs.
type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

// Pipeline applies a chain of named filters to stream data.
type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

// passthrough filters leave the payload encoded for downstream consumers.
var passthrough = map[string]bool{
	"DCTDecode": true,
	"JPXDecode": true,
}

// NewPipeline constructs a pipeline with the given decoders.
func NewPipeline(limits Limits, decoders ...Decoder) *Pipeline {
	m := make(map[string]Decoder, len(decoders))
	for _, d := range decoders {
		m[d.Name()] = d
	}
	return &Pipeline{decoders: m, limits: limits}
}

// NewDefaultPipeline returns a pipeline with every built-in decoder.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline(limits,
		FlateDecoder{}, LZWDecoder{}, ASCIIHexDecoder{}, ASCII85Decoder{}, RunLengthDecoder{})
}

// Decode runs data through the named filter chain. Unknown image filters are
// passed through; any other unknown filter is an error.
func (p *Pipeline) Decode(ctx context.Context, data []byte, names []string, params []*object.Dict) ([]byte, error) {
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if passthrough[name] {
			return data, nil
		}
		if name == "Crypt" {
			// Decryption happens in the loader; an explicit Identity crypt
			// filter is a no-op here.
			continue
		}
		dec, ok := p.decoders[name]
		if !ok {
			return nil, fmt.Errorf("unknown filter %q", name)
		}
		var param *object.Dict
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, fmt.Errorf("%s: decompressed size exceeds limit", name)
		}
		data = out
	}
	return data, nil
}

// ExtractFilters reads the /Filter and /DecodeParms entries of a stream dict.
func ExtractFilters(dict *object.Dict) ([]string, []*object.Dict) {
	if dict == nil {
		return nil, nil
	}
	var names []string
	switch v, _ := dict.Get("Filter"); f := v.(type) {
	case object.Name:
		names = []string{string(f)}
	case *object.Array:
		for _, it := range f.Items {
			if n, ok := it.(object.Name); ok {
				names = append(names, string(n))
			}
		}
	}
	var params []*object.Dict
	switch v, _ := dict.Get("DecodeParms"); p := v.(type) {
	case *object.Dict:
		params = []*object.Dict{p}
	case *object.Array:
		for _, it := range p.Items {
			d, _ := it.(*object.Dict)
			params = append(params, d) // keep positions aligned, nils allowed
		}
	}
	return names, params
}

// FlateDecoder implements FlateDecode. PDF flate data is zlib-wrapped, but
// some writers emit headerless deflate; both are accepted.
type FlateDecoder struct{}

func (FlateDecoder) Name() string { return "FlateDecode" }

func (FlateDecoder) Decode(ctx context.Context, in []byte, params *object.Dict) ([]byte, error) {
	var out bytes.Buffer
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err == nil {
		_, err = io.Copy(&out, zr)
		zr.Close()
	}
	if err != nil {
		out.Reset()
		fr := flate.NewReader(bytes.NewReader(in))
		defer fr.Close()
		if _, ferr := io.Copy(&out, fr); ferr != nil {
			// Salvage whatever inflated before truncation; damaged tails are
			// common in real files and partial content still classifies.
			if out.Len() == 0 {
				return nil, err
			}
		}
	}
	return applyPredictor(out.Bytes(), params)
}

// LZWDecoder implements LZWDecode (MSB-first, 8-bit literals).
type LZWDecoder struct{}

func (LZWDecoder) Name() string { return "LZWDecode" }

func (LZWDecoder) Decode(ctx context.Context, in []byte, params *object.Dict) ([]byte, error) {
	if params != nil {
		if early, ok := params.Int("EarlyChange"); ok && early == 0 {
			return nil, errors.New("EarlyChange=0 not supported")
		}
	}
	r := lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && out.Len() == 0 {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

// ASCIIHexDecoder implements ASCIIHexDecode.
type ASCIIHexDecoder struct{}

func (ASCIIHexDecoder) Name() string { return "ASCIIHexDecode" }

func (ASCIIHexDecoder) Decode(ctx context.Context, in []byte, params *object.Dict) ([]byte, error) {
	trimmed := make([]byte, 0, len(in))
	for _, c := range in {
		if c == '>' {
			break
		}
		if c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20 {
			continue
		}
		trimmed = append(trimmed, c)
	}
	if len(trimmed)%2 == 1 {
		trimmed = append(trimmed, '0')
	}
	out := make([]byte, hex.DecodedLen(len(trimmed)))
	n, err := hex.Decode(out, trimmed)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// ASCII85Decoder implements ASCII85Decode.
type ASCII85Decoder struct{}

func (ASCII85Decoder) Name() string { return "ASCII85Decode" }

func (ASCII85Decoder) Decode(ctx context.Context, in []byte, params *object.Dict) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	trimmed = bytes.TrimSuffix(trimmed, []byte("~>"))
	out := make([]byte, len(trimmed)*4/5+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// RunLengthDecoder implements RunLengthDecode.
type RunLengthDecoder struct{}

func (RunLengthDecoder) Name() string { return "RunLengthDecode" }

func (RunLengthDecoder) Decode(ctx context.Context, in []byte, params *object.Dict) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(in) {
		l := int(in[i])
		i++
		switch {
		case l == 128:
			return out.Bytes(), nil
		case l < 128:
			end := i + l + 1
			if end > len(in) {
				return nil, errors.New("literal run past end of data")
			}
			out.Write(in[i:end])
			i = end
		default:
			if i >= len(in) {
				return nil, errors.New("replicated run past end of data")
			}
			count := 257 - l
			for k := 0; k < count; k++ {
				out.WriteByte(in[i])
			}
			i++
		}
	}
	return out.Bytes(), nil
}
