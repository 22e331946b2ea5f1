package processor

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/bryanchriswhite/lumad/internal/config"
)

func TestImageDimensions(t *testing.T) {
	tests := []struct {
		width, height    uint32
		wantW, wantH     uint32
		wantLevels       uint32
		wantCappedLevels uint32
	}{
		{1920, 1080, 960, 540, 10, 4},
		{3840, 2160, 1920, 1080, 11, 4},
		{16, 16, 8, 8, 4, 4},
		{8, 4, 4, 2, 3, 3},
		{1, 1, 1, 1, 1, 1},
	}
	opts := DefaultOptions()
	for _, tt := range tests {
		w, h, levels := ImageDimensions(tt.width, tt.height)
		if w != tt.wantW || h != tt.wantH || levels != tt.wantLevels {
			t.Errorf("ImageDimensions(%d, %d) = %d, %d, %d; want %d, %d, %d",
				tt.width, tt.height, w, h, levels, tt.wantW, tt.wantH, tt.wantLevels)
		}
		if got := opts.MipLevels(tt.width, tt.height); got != tt.wantCappedLevels {
			t.Errorf("MipLevels(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.wantCappedLevels)
		}
		if got := opts.MipLevels(tt.width, tt.height); got > opts.FinalMipLevels {
			t.Errorf("MipLevels(%d, %d) = %d exceeds cap %d", tt.width, tt.height, got, opts.FinalMipLevels)
		}
	}
}

func TestMipExtent(t *testing.T) {
	w, h := MipExtent(960, 540, 3)
	if w != 120 || h != 67 {
		t.Errorf("MipExtent(960, 540, 3) = %d, %d; want 120, 67", w, h)
	}
	w, h = MipExtent(4, 2, 5)
	if w != 1 || h != 1 {
		t.Errorf("MipExtent clamps to 1, got %d, %d", w, h)
	}
}

func bruteForceMemoryType(typeBits uint32, types []MemoryType, flags uint32) (uint32, bool) {
	found := false
	var best uint32
	for i := len(types) - 1; i >= 0; i-- {
		if i >= 32 {
			continue
		}
		bitOK := (typeBits>>uint(i))&1 == 1
		flagsOK := true
		for bit := 0; bit < 32; bit++ {
			if (flags>>uint(bit))&1 == 1 && (types[i].PropertyFlags>>uint(bit))&1 == 0 {
				flagsOK = false
			}
		}
		if bitOK && flagsOK {
			best = uint32(i)
			found = true
		}
	}
	return best, found
}

func TestFindMemoryTypeIndexMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 2000; iter++ {
		n := rng.Intn(33)
		types := make([]MemoryType, n)
		for i := range types {
			types[i] = MemoryType{PropertyFlags: uint32(rng.Intn(32))}
		}
		typeBits := rng.Uint32()
		flags := uint32(rng.Intn(32))

		gotIdx, gotOK := FindMemoryTypeIndex(typeBits, types, flags)
		wantIdx, wantOK := bruteForceMemoryType(typeBits, types, flags)
		if gotOK != wantOK || (gotOK && gotIdx != wantIdx) {
			t.Fatalf("iter %d: FindMemoryTypeIndex(%#x, %v, %#x) = %d, %v; want %d, %v",
				iter, typeBits, types, flags, gotIdx, gotOK, wantIdx, wantOK)
		}
	}
}

func TestFindMemoryTypeIndexExamples(t *testing.T) {
	const (
		deviceLocal  = 0x1
		hostVisible  = 0x2
		hostCoherent = 0x4
	)
	types := []MemoryType{
		{PropertyFlags: deviceLocal},
		{PropertyFlags: hostVisible},
		{PropertyFlags: hostVisible | hostCoherent},
		{PropertyFlags: deviceLocal | hostVisible | hostCoherent},
	}

	if idx, ok := FindMemoryTypeIndex(0xf, types, hostVisible|hostCoherent); !ok || idx != 2 {
		t.Errorf("host visible coherent = %d, %v; want 2", idx, ok)
	}
	if idx, ok := FindMemoryTypeIndex(0x8, types, deviceLocal); !ok || idx != 3 {
		t.Errorf("masked device local = %d, %v; want 3", idx, ok)
	}
	if _, ok := FindMemoryTypeIndex(0x3, types, hostCoherent); ok {
		t.Error("expected no qualifying type")
	}
}

func TestNewOpenGLNotImplemented(t *testing.T) {
	_, err := New(config.ProcessorOpenGL, DefaultOptions())
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("New(opengl) err = %v, want ErrNotImplemented", err)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New("metal", DefaultOptions()); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("New(metal) err = %v, want ErrNotImplemented", err)
	}
}

func TestFrameErrorUnwrap(t *testing.T) {
	inner := errors.New("fence timeout")
	err := error(&FrameError{Stage: StageSubmit, Err: inner})
	if !errors.Is(err, inner) {
		t.Error("FrameError should unwrap to its cause")
	}
	if err.Error() != "submit: fence timeout" {
		t.Errorf("Error() = %q", err.Error())
	}
}
