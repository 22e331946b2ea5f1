package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
log_level: debug
processor: vulkan
timing:
  success_delay: 50ms
  failure_delay: 2s
  fence_timeout: 1s
  idle_interval: 200ms
output:
  backlight:
    - name: eDP-1
      path: /sys/class/backlight/intel_backlight
      capturer: wlroots
  ddcutil:
    - name: Dell Inc. DELL U2720Q
      capturer: none
keyboard:
  - name: keyboard-dell
    path: /sys/bus/platform/devices/dell-laptop/leds/dell::kbd_backlight
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Timing.SuccessDelay != 50*time.Millisecond {
		t.Errorf("SuccessDelay = %v, want 50ms", cfg.Timing.SuccessDelay)
	}
	if cfg.Timing.FailureDelay != 2*time.Second {
		t.Errorf("FailureDelay = %v, want 2s", cfg.Timing.FailureDelay)
	}
	if cfg.GPU.FinalMipLevels != 4 {
		t.Errorf("FinalMipLevels = %d, want default 4", cfg.GPU.FinalMipLevels)
	}

	outputs := cfg.Outputs()
	if len(outputs) != 3 {
		t.Fatalf("len(Outputs) = %d, want 3", len(outputs))
	}
	if outputs[0].Kind != OutputKindBacklight || outputs[0].Capturer != CapturerWlroots {
		t.Errorf("outputs[0] = %+v", outputs[0])
	}
	if outputs[2].Kind != OutputKindKeyboard || outputs[2].Capturer != CapturerNone {
		t.Errorf("keyboard should use the none capturer, got %+v", outputs[2])
	}
	if got := len(cfg.OutputsFor(CapturerWlroots)); got != 1 {
		t.Errorf("OutputsFor(wlroots) = %d, want 1", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Parse([]byte("keyboard:\n  - name: kbd\n    path: /sys/kbd\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Processor != ProcessorVulkan {
		t.Errorf("Processor = %q, want vulkan", cfg.Processor)
	}
	if len(cfg.Output.Backlight) != 0 {
		t.Errorf("default backlight should not leak into a parsed file")
	}
}

func TestValidateNoOutputs(t *testing.T) {
	cfg := Defaults()
	cfg.Output = OutputByType{}
	if err := cfg.Validate(); !errors.Is(err, ErrNoOutputs) {
		t.Fatalf("Validate = %v, want ErrNoOutputs", err)
	}
}

func TestValidateProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name: "duplicate names",
			mutate: func(c *Config) {
				c.Keyboard = []Keyboard{{Name: "eDP-1", Path: "/sys/kbd"}}
			},
			want: "unique",
		},
		{
			name: "unknown capturer",
			mutate: func(c *Config) {
				c.Output.Backlight[0].Capturer = "pipewire"
			},
			want: "unknown capturer",
		},
		{
			name: "unknown processor",
			mutate: func(c *Config) {
				c.Processor = "metal"
			},
			want: "unknown processor",
		},
		{
			name: "zero delay",
			mutate: func(c *Config) {
				c.Timing.FailureDelay = 0
			},
			want: "positive",
		},
		{
			name: "no mip levels",
			mutate: func(c *Config) {
				c.GPU.FinalMipLevels = 0
			},
			want: "final_mip_levels",
		},
		{
			name: "backlight without path",
			mutate: func(c *Config) {
				c.Output.Backlight[0].Path = ""
			},
			want: "path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate = %v, want *ValidationError", err)
			}
			if !strings.Contains(verr.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", verr.Error(), tt.want)
			}
		})
	}
}

func TestOpenGLIsAValidSelection(t *testing.T) {
	cfg := Defaults()
	cfg.Processor = ProcessorOpenGL
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumad", "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if m.GetConfigPath() != path {
		t.Errorf("GetConfigPath = %q, want %q", m.GetConfigPath(), path)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cfg := reloaded.Get()
	if len(cfg.Output.Backlight) != 1 || cfg.Output.Backlight[0].Name != "eDP-1" {
		t.Errorf("reloaded outputs = %+v", cfg.Output)
	}
	if cfg.Timing.SuccessDelay != 100*time.Millisecond {
		t.Errorf("reloaded SuccessDelay = %v", cfg.Timing.SuccessDelay)
	}
}

func TestManagerOverrides(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.SetLogLevel("debug")
	m.SetProcessor(ProcessorOpenGL)
	m.SetAPIPort(9000)

	cfg := m.Get()
	if cfg.LogLevel != "debug" || cfg.Processor != ProcessorOpenGL {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if !cfg.API.Enabled || cfg.API.Port != 9000 {
		t.Errorf("API = %+v, want enabled on 9000", cfg.API)
	}
}
