package segmentation

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoding for image.Decode below
	"image/png"
	"math"
	"strings"
)

// hsvRange is one hue/saturation/value band the keyword table maps a query
// onto. Red is the only color needing two disjoint hue bands (§4.4).
type hsvRange struct {
	hueLo, hueHi         float64
	hueLo2, hueHi2       float64
	hasSecondBand        bool
	satLo, satHi         float64
	valLo, valHi         float64
}

// colorKeywords is the domain-specific query->color table from §4.4.
// Matching is substring, case-insensitive, first-match-wins in the order
// listed so more specific phrases can be placed ahead of generic ones.
var colorKeywords = []struct {
	keywords []string
	band     hsvRange
}{
	{[]string{"strawberry", "草莓", "red", "ripe"}, hsvRange{
		hueLo: 0, hueHi: 10, hueLo2: 160, hueHi2: 180, hasSecondBand: true,
		satLo: 0.35, satHi: 1, valLo: 0.25, valHi: 1,
	}},
	{[]string{"leaf", "叶", "green", "healthy"}, hsvRange{
		hueLo: 35, hueHi: 85, satLo: 0.25, satHi: 1, valLo: 0.2, valHi: 1,
	}},
	{[]string{"yellow spot", "yellow", "黄斑", "chlorosis"}, hsvRange{
		hueLo: 20, hueHi: 34, satLo: 0.3, satHi: 1, valLo: 0.3, valHi: 1,
	}},
	{[]string{"brown", "lesion", "spot", "褐斑", "necrosis"}, hsvRange{
		hueLo: 10, hueHi: 25, satLo: 0.2, satHi: 0.85, valLo: 0.1, valHi: 0.6,
	}},
}

// defaultBand is used when no keyword matches: a broad band over every hue
// that excludes only low-saturation and very dark pixels, rather than a
// completely unconstrained mask.
var defaultBand = hsvRange{hueLo: 0, hueHi: 180, satLo: 0.2, satHi: 1, valLo: 0.15, valHi: 1}

func bandForQuery(query string) hsvRange {
	q := strings.ToLower(query)
	for _, entry := range colorKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(q, kw) {
				return entry.band
			}
		}
	}
	return defaultBand
}

// LocalFallback produces a binary mask by HSV color-thresholding when the
// remote segmentation service is unavailable or its retry chain is
// exhausted (§4.4). The mask is morphologically closed then opened with a
// 5x5 kernel to remove speckle noise and fill small holes. Metadata always
// carries method="local_fallback" so downstream consumers can label the
// result.
func LocalFallback(imageBytes []byte, query string) (Result, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return Result{}, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	band := bandForQuery(query)

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			hh, s, v := rgbToHSV(float64(r>>8), float64(g>>8), float64(b>>8))
			if inBand(hh, s, v, band) {
				mask.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	closed := morphClose(mask, 5)
	opened := morphOpen(closed, 5)

	var buf bytes.Buffer
	if err := png.Encode(&buf, opened); err != nil {
		return Result{}, err
	}

	return Result{
		Success:     true,
		MaskBase64:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Description: "local HSV threshold mask for query: " + query,
		Metadata:    map[string]interface{}{"method": "local_fallback", "band_hue_lo": band.hueLo, "band_hue_hi": band.hueHi},
	}, nil
}

// rgbToHSV converts 8-bit-per-channel RGB to hue in [0,180] (OpenCV's
// half-range convention, matching the 0-180/160-180 bands in §4.4) and
// saturation/value in [0,1].
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	r, g, b = r/255, g/255, b/255
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	v = maxC
	if maxC == 0 {
		s = 0
	} else {
		s = delta / maxC
	}

	if delta == 0 {
		h = 0
	} else {
		switch maxC {
		case r:
			h = 60 * math.Mod((g-b)/delta, 6)
		case g:
			h = 60 * ((b-r)/delta + 2)
		default:
			h = 60 * ((r-g)/delta + 4)
		}
	}
	if h < 0 {
		h += 360
	}
	return h / 2, s, v // half-range: degrees/2, matching 0-180
}

func inBand(h, s, v float64, band hsvRange) bool {
	if s < band.satLo || s > band.satHi || v < band.valLo || v > band.valHi {
		return false
	}
	if h >= band.hueLo && h <= band.hueHi {
		return true
	}
	if band.hasSecondBand && h >= band.hueLo2 && h <= band.hueHi2 {
		return true
	}
	return false
}

// morphDilate/morphErode implement a square kernel of the given odd size
// over a binary (0/255) gray mask.
func morphDilate(img *image.Gray, size int) *image.Gray {
	r := size / 2
	out := image.NewGray(img.Bounds())
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			found := false
			for dy := -r; dy <= r && !found; dy++ {
				for dx := -r; dx <= r && !found; dx++ {
					px, py := x+dx, y+dy
					if px < b.Min.X || py < b.Min.Y || px >= b.Max.X || py >= b.Max.Y {
						continue
					}
					if img.GrayAt(px, py).Y > 0 {
						found = true
					}
				}
			}
			if found {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

func morphErode(img *image.Gray, size int) *image.Gray {
	r := size / 2
	out := image.NewGray(img.Bounds())
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			all := true
			for dy := -r; dy <= r && all; dy++ {
				for dx := -r; dx <= r && all; dx++ {
					px, py := x+dx, y+dy
					if px < b.Min.X || py < b.Min.Y || px >= b.Max.X || py >= b.Max.Y {
						all = false
						continue
					}
					if img.GrayAt(px, py).Y == 0 {
						all = false
					}
				}
			}
			if all {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

// morphClose (dilate then erode) fills small holes inside the mask.
func morphClose(img *image.Gray, kernel int) *image.Gray {
	return morphErode(morphDilate(img, kernel), kernel)
}

// morphOpen (erode then dilate) removes isolated speckle noise.
func morphOpen(img *image.Gray, kernel int) *image.Gray {
	return morphDilate(morphErode(img, kernel), kernel)
}
