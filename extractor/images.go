package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/docforge/pdfnamer/filters"
	"github.com/docforge/pdfnamer/object"
	"github.com/docforge/pdfnamer/observability"
)

// ImageFormat describes how ImageAsset.Data is encoded.
type ImageFormat int

const (
	// FormatRaw is decoded pixel data described by the asset's geometry.
	FormatRaw ImageFormat = iota
	// FormatJPEG is an intact JPEG file (DCTDecode passthrough).
	FormatJPEG
	// FormatJPEG2000 is an intact JPEG 2000 codestream (JPXDecode).
	FormatJPEG2000
)

// ImageAsset is one image XObject pulled from a page.
type ImageAsset struct {
	Name             string
	Page             int
	Width            int
	Height           int
	BitsPerComponent int
	ColorSpace       string
	Format           ImageFormat
	Data             []byte
}

// ToImage decodes the asset to a Go image. JPEG 2000 has no stdlib decoder
// and reports an error; callers hand those bytes to the OCR engine, which
// decodes them natively.
func (a *ImageAsset) ToImage() (image.Image, error) {
	switch a.Format {
	case FormatJPEG:
		return jpeg.Decode(bytes.NewReader(a.Data))
	case FormatJPEG2000:
		return nil, fmt.Errorf("image %s: no JPEG 2000 decoder", a.Name)
	}
	if a.Width <= 0 || a.Height <= 0 {
		return nil, fmt.Errorf("image %s: bad dimensions %dx%d", a.Name, a.Width, a.Height)
	}
	switch {
	case a.ColorSpace == "DeviceRGB" && a.BitsPerComponent == 8:
		if len(a.Data) < a.Width*a.Height*3 {
			return nil, fmt.Errorf("image %s: short RGB data", a.Name)
		}
		img := image.NewRGBA(image.Rect(0, 0, a.Width, a.Height))
		for y := 0; y < a.Height; y++ {
			for x := 0; x < a.Width; x++ {
				src := (y*a.Width + x) * 3
				dst := img.PixOffset(x, y)
				img.Pix[dst] = a.Data[src]
				img.Pix[dst+1] = a.Data[src+1]
				img.Pix[dst+2] = a.Data[src+2]
				img.Pix[dst+3] = 0xFF
			}
		}
		return img, nil
	case a.BitsPerComponent == 8:
		// DeviceGray and unrecognized single-component spaces.
		if len(a.Data) < a.Width*a.Height {
			return nil, fmt.Errorf("image %s: short gray data", a.Name)
		}
		img := image.NewGray(image.Rect(0, 0, a.Width, a.Height))
		copy(img.Pix, a.Data[:a.Width*a.Height])
		return img, nil
	case a.BitsPerComponent == 1:
		img := image.NewGray(image.Rect(0, 0, a.Width, a.Height))
		rowBytes := (a.Width + 7) / 8
		if len(a.Data) < rowBytes*a.Height {
			return nil, fmt.Errorf("image %s: short bilevel data", a.Name)
		}
		for y := 0; y < a.Height; y++ {
			for x := 0; x < a.Width; x++ {
				bit := a.Data[y*rowBytes+x/8] >> (7 - uint(x%8)) & 1
				img.Pix[y*img.Stride+x] = bit * 0xFF
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("image %s: unsupported %d-bit %s", a.Name, a.BitsPerComponent, a.ColorSpace)
}

// ToPNG encodes the asset as PNG for engines that want file bytes.
func (a *ImageAsset) ToPNG() ([]byte, error) {
	img, err := a.ToImage()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Images collects image XObjects from the first maxPages pages; zero means
// every page.
func (e *Extractor) Images(ctx context.Context, maxPages int) ([]ImageAsset, error) {
	n := len(e.pages)
	if maxPages > 0 && maxPages < n {
		n = maxPages
	}
	var out []ImageAsset
	for i := 0; i < n; i++ {
		assets, err := e.PageImages(ctx, i)
		if err != nil {
			return nil, err
		}
		out = append(out, assets...)
	}
	return out, nil
}

// PageImages collects the image XObjects reachable from one page.
func (e *Extractor) PageImages(ctx context.Context, index int) ([]ImageAsset, error) {
	if index < 0 || index >= len(e.pages) {
		return nil, fmt.Errorf("page index %d out of range", index)
	}
	page := e.pages[index]
	var out []ImageAsset
	e.collectImages(ctx, page.Resources, page.Number, make(map[object.Ref]bool), 0, &out)
	return out, nil
}

func (e *Extractor) collectImages(ctx context.Context, resources *object.Dict, pageNum int, visited map[object.Ref]bool, depth int, out *[]ImageAsset) {
	if resources == nil || depth > maxFormDepth {
		return
	}
	xobjs := e.resolveXObjects(resources)
	if xobjs == nil {
		return
	}
	for name, v := range xobjs.KV {
		if err := ctx.Err(); err != nil {
			return
		}
		if ref, ok := v.(object.Ref); ok {
			if visited[ref] {
				continue
			}
			visited[ref] = true
		}
		s := e.doc.ResolveStream(v)
		if s == nil {
			continue
		}
		switch sub, _ := s.Dict.Name("Subtype"); sub {
		case "Image":
			asset, err := e.imageAsset(ctx, name, pageNum, s)
			if err != nil {
				e.log.Warn("skipping unreadable image",
					observability.String("name", name), observability.Error(err))
				continue
			}
			*out = append(*out, asset)
		case "Form":
			formRes := resources
			if r, ok := s.Dict.Get("Resources"); ok {
				if rd := e.doc.ResolveDict(r); rd != nil {
					formRes = rd
				}
			}
			e.collectImages(ctx, formRes, pageNum, visited, depth+1, out)
		}
	}
}

// imageAsset decodes one image XObject into an asset. DCT and JPX payloads
// stay encoded; everything else is run through the filter pipeline.
func (e *Extractor) imageAsset(ctx context.Context, name string, pageNum int, s *object.Stream) (ImageAsset, error) {
	width, _ := resolveInt(e.doc, s.Dict, "Width")
	height, _ := resolveInt(e.doc, s.Dict, "Height")
	bpc, _ := resolveInt(e.doc, s.Dict, "BitsPerComponent")

	asset := ImageAsset{
		Name:             name,
		Page:             pageNum,
		Width:            int(width),
		Height:           int(height),
		BitsPerComponent: int(bpc),
		ColorSpace:       e.colorSpaceName(s.Dict),
	}
	names, params := filters.ExtractFilters(s.Dict)
	for _, fn := range names {
		switch fn {
		case "DCTDecode":
			asset.Format = FormatJPEG
		case "JPXDecode":
			asset.Format = FormatJPEG2000
		}
	}
	data, err := e.pipeline.Decode(ctx, s.Data, names, params)
	if err != nil {
		return ImageAsset{}, err
	}
	asset.Data = data
	return asset, nil
}

func (e *Extractor) colorSpaceName(dict *object.Dict) string {
	v, ok := dict.Get("ColorSpace")
	if !ok {
		return ""
	}
	switch cs := e.doc.Resolve(v).(type) {
	case object.Name:
		return string(cs)
	case *object.Array:
		if cs.Len() > 0 {
			if n, ok := cs.At(0).(object.Name); ok {
				return string(n)
			}
		}
	}
	return ""
}

func resolveInt(doc *object.Document, dict *object.Dict, key string) (int64, bool) {
	v, ok := dict.Get(key)
	if !ok {
		return 0, false
	}
	return doc.ResolveInt(v)
}
