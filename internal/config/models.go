package config

import (
	"time"
)

// Capturer selects how frames are obtained for an output
type Capturer string

const (
	CapturerWlroots Capturer = "wlroots" // compositor-driven dma-buf export
	CapturerX11     Capturer = "x11"     // X11 root window GetImage
	CapturerNone    Capturer = "none"    // no screen contents, luminance is always 0
)

// Processor selects the frame processing backend
type Processor string

const (
	ProcessorVulkan Processor = "vulkan"
	ProcessorOpenGL Processor = "opengl"
)

// OutputKind tells which brightness target an output drives
type OutputKind string

const (
	OutputKindBacklight OutputKind = "backlight"
	OutputKindDdcUtil   OutputKind = "ddcutil"
	OutputKindKeyboard  OutputKind = "keyboard"
)

// BacklightOutput is a display driven through a sysfs backlight
type BacklightOutput struct {
	Name     string   `json:"name" yaml:"name"`
	Path     string   `json:"path" yaml:"path"`
	Capturer Capturer `json:"capturer" yaml:"capturer"`
}

// DdcUtilOutput is an external monitor driven over DDC/CI
type DdcUtilOutput struct {
	Name     string   `json:"name" yaml:"name"`
	Capturer Capturer `json:"capturer" yaml:"capturer"`
}

// Keyboard is a keyboard backlight; it never captures the screen
type Keyboard struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// OutputByType groups outputs the way they appear in the config file
type OutputByType struct {
	Backlight []BacklightOutput `json:"backlight" yaml:"backlight"`
	DdcUtil   []DdcUtilOutput   `json:"ddcutil" yaml:"ddcutil"`
}

// TimingConfig holds the capture cadence and GPU wait bounds
type TimingConfig struct {
	SuccessDelay time.Duration `json:"success_delay" yaml:"success_delay"`
	FailureDelay time.Duration `json:"failure_delay" yaml:"failure_delay"`
	FenceTimeout time.Duration `json:"fence_timeout" yaml:"fence_timeout"`
	IdleInterval time.Duration `json:"idle_interval" yaml:"idle_interval"`
}

// GPUConfig tunes the mipmap reduction
type GPUConfig struct {
	FinalMipLevels uint32 `json:"final_mip_levels" yaml:"final_mip_levels"`
	ReadbackBytes  uint64 `json:"readback_bytes" yaml:"readback_bytes"`
}

// APIConfig controls the HTTP status API
type APIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// DBusConfig controls the session bus emitter
type DBusConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Config represents the application configuration
type Config struct {
	LogLevel  string       `json:"log_level" yaml:"log_level"`
	PrettyLog bool         `json:"pretty_log" yaml:"pretty_log"`
	Processor Processor    `json:"processor" yaml:"processor"`
	Timing    TimingConfig `json:"timing" yaml:"timing"`
	GPU       GPUConfig    `json:"gpu" yaml:"gpu"`
	Output    OutputByType `json:"output" yaml:"output"`
	Keyboard  []Keyboard   `json:"keyboard" yaml:"keyboard"`
	API       APIConfig    `json:"api" yaml:"api"`
	DBus      DBusConfig   `json:"dbus" yaml:"dbus"`
}

// Output is the flattened view of every configured brightness target
type Output struct {
	Name     string     `json:"name"`
	Kind     OutputKind `json:"kind"`
	Path     string     `json:"path,omitempty"`
	Capturer Capturer   `json:"capturer"`
}

// Outputs flattens backlights, ddcutil monitors and keyboards in file order.
// Keyboards always use the none capturer.
func (c *Config) Outputs() []Output {
	outputs := make([]Output, 0, len(c.Output.Backlight)+len(c.Output.DdcUtil)+len(c.Keyboard))
	for _, o := range c.Output.Backlight {
		outputs = append(outputs, Output{Name: o.Name, Kind: OutputKindBacklight, Path: o.Path, Capturer: o.Capturer})
	}
	for _, o := range c.Output.DdcUtil {
		outputs = append(outputs, Output{Name: o.Name, Kind: OutputKindDdcUtil, Capturer: o.Capturer})
	}
	for _, k := range c.Keyboard {
		outputs = append(outputs, Output{Name: k.Name, Kind: OutputKindKeyboard, Path: k.Path, Capturer: CapturerNone})
	}
	return outputs
}

// OutputsFor returns the outputs using the given capturer
func (c *Config) OutputsFor(capturer Capturer) []Output {
	var outputs []Output
	for _, o := range c.Outputs() {
		if o.Capturer == capturer {
			outputs = append(outputs, o)
		}
	}
	return outputs
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		LogLevel:  "info",
		Processor: ProcessorVulkan,
		Timing: TimingConfig{
			SuccessDelay: 100 * time.Millisecond,
			FailureDelay: 1000 * time.Millisecond,
			FenceTimeout: 1 * time.Second,
			IdleInterval: 200 * time.Millisecond,
		},
		GPU: GPUConfig{
			FinalMipLevels: 4,
			ReadbackBytes:  500 * 4,
		},
		Output: OutputByType{
			Backlight: []BacklightOutput{
				{Name: "eDP-1", Path: "/sys/class/backlight/intel_backlight", Capturer: CapturerWlroots},
			},
			DdcUtil: []DdcUtilOutput{},
		},
		Keyboard: []Keyboard{},
		API: APIConfig{
			Enabled: false,
			Port:    8091,
		},
	}
}
