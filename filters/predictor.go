package filters

import (
	"errors"
	"fmt"

	"github.com/docforge/pdfnamer/object"
)

// applyPredictor reverses the TIFF or PNG predictor described by a
// /DecodeParms dict. Predictor 1 (or no parms) is the identity.
func applyPredictor(data []byte, params *object.Dict) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor, ok := params.Int("Predictor")
	if !ok || predictor <= 1 {
		return data, nil
	}
	colors := intOr(params, "Colors", 1)
	bpc := intOr(params, "BitsPerComponent", 8)
	columns := intOr(params, "Columns", 1)
	bpp := (colors*bpc + 7) / 8
	rowLen := (colors*bpc*columns + 7) / 8
	if bpp <= 0 || rowLen <= 0 {
		return nil, errors.New("predictor: invalid row geometry")
	}

	switch {
	case predictor == 2:
		return applyTIFFPredictor(data, colors, bpc, columns)
	case predictor >= 10 && predictor <= 15:
		return applyPNGPredictor(data, bpp, rowLen)
	default:
		return nil, fmt.Errorf("predictor %d not supported", predictor)
	}
}

func intOr(d *object.Dict, key string, def int64) int {
	if v, ok := d.Int(key); ok {
		return int(v)
	}
	return int(def)
}

// applyTIFFPredictor undoes horizontal differencing. Only the common 8-bit
// case is handled; sub-byte components are left as-is.
func applyTIFFPredictor(data []byte, colors, bpc, columns int) ([]byte, error) {
	if bpc != 8 {
		return data, nil
	}
	rowLen := colors * columns
	for r := 0; r+rowLen <= len(data); r += rowLen {
		for i := colors; i < rowLen; i++ {
			data[r+i] += data[r+i-colors]
		}
	}
	return data, nil
}

// applyPNGPredictor undoes per-row PNG filtering. Each row is prefixed with a
// filter-type byte; the type declared in /Predictor is advisory only.
func applyPNGPredictor(data []byte, bpp, rowLen int) ([]byte, error) {
	stride := rowLen + 1
	if len(data)%stride != 0 {
		// Tolerate a short final row from sloppy writers.
		data = data[:len(data)/stride*stride]
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		copy(cur, data[r*stride+1:(r+1)*stride])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				var left byte
				if i >= bpp {
					left = cur[i-bpp]
				}
				cur[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = cur[i-bpp]
					upLeft = prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("png predictor: bad filter type %d", ft)
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
