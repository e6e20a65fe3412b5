package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/docforge/pdfnamer/extractor"
)

type fakeEngine struct {
	texts map[string]string
	calls []string
	fail  map[string]bool
}

func (f *fakeEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	f.calls = append(f.calls, in.Name)
	if f.fail[in.Name] {
		return Result{}, errors.New("engine crashed")
	}
	return Result{Text: f.texts[in.Name]}, nil
}

func (f *fakeEngine) Close() error { return nil }

func grayAsset(name string, width, height int) extractor.ImageAsset {
	return extractor.ImageAsset{
		Name: name, Width: width, Height: height,
		BitsPerComponent: 8, ColorSpace: "DeviceGray",
		Data: bytes.Repeat([]byte{0xCC}, width*height),
	}
}

func TestRecognizeAssetsJoinsText(t *testing.T) {
	eng := &fakeEngine{texts: map[string]string{
		"Im1": "ACME CORP\nInvoice 42",
		"Im2": "  Page total 99.00  ",
	}}
	got, err := RecognizeAssets(context.Background(), eng,
		[]extractor.ImageAsset{grayAsset("Im1", 64, 64), grayAsset("Im2", 64, 64)},
		Options{})
	if err != nil {
		t.Fatalf("RecognizeAssets: %v", err)
	}
	if got != "ACME CORP\nInvoice 42\nPage total 99.00" {
		t.Fatalf("text = %q", got)
	}
}

func TestRecognizeAssetsSkipsTinyImages(t *testing.T) {
	eng := &fakeEngine{texts: map[string]string{"Big": "content"}}
	got, err := RecognizeAssets(context.Background(), eng,
		[]extractor.ImageAsset{grayAsset("Logo", 16, 16), grayAsset("Big", 200, 200)},
		Options{})
	if err != nil {
		t.Fatalf("RecognizeAssets: %v", err)
	}
	if got != "content" {
		t.Fatalf("text = %q", got)
	}
	if len(eng.calls) != 1 || eng.calls[0] != "Big" {
		t.Fatalf("calls = %v", eng.calls)
	}
}

func TestRecognizeAssetsToleratesEngineFailures(t *testing.T) {
	eng := &fakeEngine{
		texts: map[string]string{"Good": "survivor"},
		fail:  map[string]bool{"Bad": true},
	}
	got, err := RecognizeAssets(context.Background(), eng,
		[]extractor.ImageAsset{grayAsset("Bad", 64, 64), grayAsset("Good", 64, 64)},
		Options{})
	if err != nil {
		t.Fatalf("RecognizeAssets: %v", err)
	}
	if got != "survivor" {
		t.Fatalf("text = %q", got)
	}
}

func TestRecognizeAssetsNoUsableImages(t *testing.T) {
	eng := &fakeEngine{}
	_, err := RecognizeAssets(context.Background(), eng, nil, Options{})
	if !errors.Is(err, ErrNoImages) {
		t.Fatalf("err = %v", err)
	}
}

func TestJPEGPassesThroughUntouched(t *testing.T) {
	jpegBytes := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	asset := extractor.ImageAsset{
		Name: "Scan", Width: 800, Height: 600,
		Format: extractor.FormatJPEG, Data: jpegBytes,
	}
	got, err := assetBytes(asset, Options{MinWidth: 32})
	if err != nil || !bytes.Equal(got, jpegBytes) {
		t.Fatalf("got %v err=%v", got, err)
	}
}

func TestUpscaleDoublesDimensions(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 10, 20))
	dst := Upscale(src, 2)
	if b := dst.Bounds(); b.Dx() != 20 || b.Dy() != 40 {
		t.Fatalf("bounds = %v", b)
	}
	if same := Upscale(src, 1); same != src {
		t.Fatal("factor 1 should be identity")
	}
}

func TestAssetBytesUpscaledPNG(t *testing.T) {
	asset := grayAsset("Im1", 40, 30)
	data, err := assetBytes(asset, Options{Upscale: true, MinWidth: 32})
	if err != nil {
		t.Fatalf("assetBytes: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 80 || b.Dy() != 60 {
		t.Fatalf("bounds = %v", b)
	}
}
