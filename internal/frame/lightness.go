package frame

import (
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when the pixel buffer cannot hold the
// requested number of pixels
var ErrShortBuffer = errors.New("pixel buffer too short")

// Weights of the quadratic luminance approximation. The controller's learned
// thresholds were recorded against these exact values.
const (
	weightR = 0.241
	weightG = 0.691
	weightB = 0.068
)

// PerceivedLightnessPercent averages the R, G and B channels of the first
// pixels pixels of an interleaved buffer (RGB, or RGBA when hasAlpha) and
// returns round(sqrt(0.241 R² + 0.691 G² + 0.068 B²) / 255 * 100).
func PerceivedLightnessPercent(rgbas []byte, hasAlpha bool, pixels int) (uint8, error) {
	channels := 3
	if hasAlpha {
		channels = 4
	}
	if pixels <= 0 {
		return 0, fmt.Errorf("%w: pixel count %d", ErrShortBuffer, pixels)
	}
	if len(rgbas) < channels*pixels {
		return 0, fmt.Errorf("%w: need %d bytes for %d pixels, have %d",
			ErrShortBuffer, channels*pixels, pixels, len(rgbas))
	}

	var rs, gs, bs uint64
	for i := 0; i < pixels; i++ {
		px := rgbas[i*channels:]
		rs += uint64(px[0])
		gs += uint64(px[1])
		bs += uint64(px[2])
	}

	n := float64(pixels)
	r, g, b := float64(rs)/n, float64(gs)/n, float64(bs)/n

	result := math.Sqrt(weightR*r*r+weightG*g*g+weightB*b*b) / 255.0 * 100.0
	return uint8(math.Min(math.Round(result), 100)), nil
}
