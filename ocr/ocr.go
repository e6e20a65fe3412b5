// Package ocr defines the recognition engine abstraction and the bridge from
// extracted page images to recognized text. The production engine wraps
// Tesseract; tests substitute fakes.
package ocr

import (
	"context"
	"errors"
	"strings"

	"github.com/docforge/pdfnamer/extractor"
	"github.com/docforge/pdfnamer/observability"
)

// Input is one encoded image handed to an engine. PNG and JPEG are the
// formats every engine must accept.
type Input struct {
	Name string
	Data []byte
}

// Result is the recognized text of one input.
type Result struct {
	Text       string
	Confidence float64
}

// Engine recognizes text in a single image.
type Engine interface {
	Recognize(ctx context.Context, in Input) (Result, error)
	Close() error
}

// BatchEngine recognizes several images in one call; engines with per-call
// startup cost implement it.
type BatchEngine interface {
	Engine
	RecognizeBatch(ctx context.Context, ins []Input) ([]Result, error)
}

// Options tune recognition and preprocessing.
type Options struct {
	Languages []string
	// Upscale doubles image resolution before recognition.
	Upscale bool
	// MinWidth skips tiny images (logos, rules) below this pixel width.
	MinWidth int
	Logger   observability.Logger
}

func (o *Options) fill() {
	if len(o.Languages) == 0 {
		o.Languages = []string{"eng"}
	}
	if o.MinWidth == 0 {
		o.MinWidth = 32
	}
	if o.Logger == nil {
		o.Logger = observability.NopLogger{}
	}
}

// ErrNoImages reports that nothing was worth recognizing.
var ErrNoImages = errors.New("no recognizable images")

// RecognizeAssets runs the engine over page image assets and joins the
// recognized fragments. Assets that fail to convert or recognize are skipped;
// only a fully empty outcome is an error.
func RecognizeAssets(ctx context.Context, eng Engine, assets []extractor.ImageAsset, opts Options) (string, error) {
	opts.fill()
	inputs := make([]Input, 0, len(assets))
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if asset.Width > 0 && asset.Width < opts.MinWidth {
			continue
		}
		data, err := assetBytes(asset, opts)
		if err != nil {
			opts.Logger.Warn("asset not convertible for recognition",
				observability.String("name", asset.Name), observability.Error(err))
			continue
		}
		inputs = append(inputs, Input{Name: asset.Name, Data: data})
	}
	if len(inputs) == 0 {
		return "", ErrNoImages
	}

	var results []Result
	if batch, ok := eng.(BatchEngine); ok {
		rs, err := batch.RecognizeBatch(ctx, inputs)
		if err != nil {
			return "", err
		}
		results = rs
	} else {
		for _, in := range inputs {
			res, err := eng.Recognize(ctx, in)
			if err != nil {
				opts.Logger.Warn("recognition failed",
					observability.String("name", in.Name), observability.Error(err))
				continue
			}
			results = append(results, res)
		}
	}

	var b strings.Builder
	for _, res := range results {
		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// assetBytes converts an asset to engine-ready bytes. JPEG variants pass
// through unless upscaling is on; raw pixels are re-encoded as PNG.
func assetBytes(asset extractor.ImageAsset, opts Options) ([]byte, error) {
	if !opts.Upscale && (asset.Format == extractor.FormatJPEG || asset.Format == extractor.FormatJPEG2000) {
		return asset.Data, nil
	}
	if asset.Format == extractor.FormatJPEG2000 {
		// No decoder available for preprocessing; hand it over as-is.
		return asset.Data, nil
	}
	if !opts.Upscale {
		return asset.ToPNG()
	}
	img, err := asset.ToImage()
	if err != nil {
		return nil, err
	}
	return encodePNG(Upscale(img, 2))
}

// NopEngine recognizes nothing. Used when recognition is disabled.
type NopEngine struct{}

func (NopEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	return Result{}, nil
}

func (NopEngine) Close() error { return nil }
