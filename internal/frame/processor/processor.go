// Package processor turns a captured frame into a luminance percentage.
package processor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bryanchriswhite/lumad/internal/config"
	"github.com/bryanchriswhite/lumad/internal/frame"
)

var (
	// ErrInit marks construction failures (instance, device, queue,
	// no qualifying memory type). These are fatal for the daemon.
	ErrInit = errors.New("GPU initialization failure")

	// ErrNotImplemented is returned for backends that are recognised by the
	// configuration but have no implementation.
	ErrNotImplemented = errors.New("processor backend not implemented")
)

// Processor computes the perceived lightness of a complete frame.
type Processor interface {
	LumaPercent(f *frame.Object) (uint8, error)
	Close() error
}

// Stage names the step of the GPU pipeline that failed
type Stage string

const (
	StageImport   Stage = "import"
	StageAllocate Stage = "allocate"
	StageRecord   Stage = "record"
	StageSubmit   Stage = "submit"
	StageReadback Stage = "readback"
)

// FrameError is a per-frame failure. The caller may retry with the next frame.
type FrameError struct {
	Stage Stage
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Options are the tunables shared by GPU backends
type Options struct {
	// FinalMipLevels caps the mip chain length; deeper levels add blits
	// without improving the average.
	FinalMipLevels uint32
	// ReadbackBytes is the initial size of the host-visible readback buffer.
	ReadbackBytes uint64
	// FenceTimeout bounds the wait for one submission.
	FenceTimeout time.Duration
}

// DefaultOptions matches config.Defaults
func DefaultOptions() Options {
	return Options{
		FinalMipLevels: 4,
		ReadbackBytes:  500 * 4,
		FenceTimeout:   time.Second,
	}
}

// OptionsFromConfig extracts processor options from the daemon config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FinalMipLevels: cfg.GPU.FinalMipLevels,
		ReadbackBytes:  cfg.GPU.ReadbackBytes,
		FenceTimeout:   cfg.Timing.FenceTimeout,
	}
}

// Factory builds a processor for one backend
type Factory func(opts Options) (Processor, error)

var factories = map[config.Processor]Factory{
	config.ProcessorOpenGL: func(Options) (Processor, error) {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, config.ProcessorOpenGL)
	},
}

// Register installs the factory for a backend. Backends register from
// their package init.
func Register(kind config.Processor, f Factory) {
	factories[kind] = f
}

// New builds the processor selected by kind.
func New(kind config.Processor, opts Options) (Processor, error) {
	f, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotImplemented, kind)
	}
	return f(opts)
}

// ImageDimensions halves the captured resolution and returns the full mip
// chain length for it, floor(log2(max(w, h))) + 1, before any cap.
func ImageDimensions(width, height uint32) (w, h, mipLevels uint32) {
	w = max(width/2, 1)
	h = max(height/2, 1)
	mipLevels = uint32(math.Floor(math.Log2(float64(max(w, h))))) + 1
	return w, h, mipLevels
}

// MipLevels returns the number of levels actually generated: the full chain
// for the halved resolution, capped at FinalMipLevels.
func (o Options) MipLevels(width, height uint32) uint32 {
	_, _, levels := ImageDimensions(width, height)
	if o.FinalMipLevels > 0 && levels > o.FinalMipLevels {
		return o.FinalMipLevels
	}
	return levels
}

// MipExtent returns the size of mip level for a base extent
func MipExtent(width, height, level uint32) (uint32, uint32) {
	return max(width>>level, 1), max(height>>level, 1)
}

// MemoryType is a device memory type as reported by the driver
type MemoryType struct {
	PropertyFlags uint32
}

// FindMemoryTypeIndex returns the lowest index whose bit is set in typeBits
// and whose property flags include every bit of flags.
func FindMemoryTypeIndex(typeBits uint32, types []MemoryType, flags uint32) (uint32, bool) {
	for i, t := range types {
		if i >= 32 {
			break
		}
		if typeBits&(1<<uint(i)) != 0 && t.PropertyFlags&flags == flags {
			return uint32(i), true
		}
	}
	return 0, false
}
