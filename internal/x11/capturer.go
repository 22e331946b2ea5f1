// Package x11 measures the luminance of RandR outputs on an X server by
// reading the root window.
package x11

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/lumad/internal/frame"
	"github.com/bryanchriswhite/lumad/internal/frame/capturer"
	"github.com/bryanchriswhite/lumad/internal/logger"
	"golang.org/x/image/draw"
)

// maxSampleWidth bounds the width of the image the lightness is computed on
const maxSampleWidth = 64

// ErrOutputNotFound means no enabled RandR output has the configured name
var ErrOutputNotFound = errors.New("output not found")

// Capturer reads output regions of the root window
type Capturer struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
	timing capturer.Timing
	mu     sync.Mutex
}

// NewCapturer connects to $DISPLAY and initializes RandR
func NewCapturer(timing capturer.Timing) (*Capturer, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	if err := randr.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("RandR extension not available: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	return &Capturer{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		timing: timing,
	}, nil
}

// Close closes the X11 connection
func (c *Capturer) Close() error {
	c.conn.Close()
	return nil
}

// OutputRect returns the root window region covered by the named output
func (c *Capturer) OutputRect(name string) (image.Rectangle, error) {
	resources, err := randr.GetScreenResourcesCurrent(c.conn, c.root).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to get screen resources: %w", err)
	}

	for _, out := range resources.Outputs {
		info, err := randr.GetOutputInfo(c.conn, out, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}
		if string(info.Name) != name || info.Crtc == 0 {
			continue
		}

		crtc, err := randr.GetCrtcInfo(c.conn, info.Crtc, resources.ConfigTimestamp).Reply()
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("failed to get crtc of %q: %w", name, err)
		}
		return image.Rect(
			int(crtc.X), int(crtc.Y),
			int(crtc.X)+int(crtc.Width), int(crtc.Y)+int(crtc.Height),
		), nil
	}

	return image.Rectangle{}, fmt.Errorf("%w: %q", ErrOutputNotFound, name)
}

// CaptureRegion captures a region of the root window
func (c *Capturer) CaptureRegion(r image.Rectangle) (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := xproto.GetImage(
		c.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(c.root),
		int16(r.Min.X), int16(r.Min.Y),
		uint16(r.Dx()), uint16(r.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	depth := c.screen.RootDepth
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported root depth %d", depth)
	}
	return convertImageData(reply.Data, r.Dx(), r.Dy()), nil
}

// LumaPercent captures the named output and returns its perceived lightness
func (c *Capturer) LumaPercent(name string) (uint8, error) {
	rect, err := c.OutputRect(name)
	if err != nil {
		return 0, err
	}
	img, err := c.CaptureRegion(rect)
	if err != nil {
		return 0, err
	}
	return lightness(downscale(img, maxSampleWidth))
}

// Run reports the luminance of output to controller until ctx is done.
// Failures are logged and retried after the failure delay.
func (c *Capturer) Run(ctx context.Context, output string, controller capturer.Controller) error {
	log := logger.WithOutput("x11", output)
	log.Debug().Msg("Starting")

	for {
		delay := c.timing.SuccessDelay
		luma, err := c.LumaPercent(output)
		if err != nil {
			log.Error().Err(err).Msg("Unable to compute luma percent, will try again")
			delay = c.timing.FailureDelay
		} else {
			log.Trace().Uint8("luma", luma).Msg("Frame processed")
			controller.Adjust(output, luma)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// convertImageData converts 32 bits per pixel BGRX data to RGBA
func convertImageData(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := min(len(data), len(img.Pix))
	for i := 0; i+3 < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return img
}

// downscale shrinks img to at most maxWidth pixels wide, keeping the aspect
func downscale(img *image.RGBA, maxWidth int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() <= maxWidth {
		return img
	}
	height := max(1, b.Dy()*maxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func lightness(img *image.RGBA) (uint8, error) {
	b := img.Bounds()
	return frame.PerceivedLightnessPercent(img.Pix, true, b.Dx()*b.Dy())
}
