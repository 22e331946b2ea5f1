package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError collects every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// ErrNoOutputs is reported when neither outputs nor keyboards are configured
var ErrNoOutputs = errors.New("no output or keyboard configured")

// Validate checks the configuration and returns a *ValidationError
// (or ErrNoOutputs) when it cannot be used.
func (c *Config) Validate() error {
	outputs := c.Outputs()
	if len(outputs) == 0 {
		return ErrNoOutputs
	}

	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	seen := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		if strings.TrimSpace(o.Name) == "" {
			addf("%s output with empty name", o.Kind)
			continue
		}
		if seen[o.Name] {
			addf("names of all outputs and keyboards must be unique (%q repeated)", o.Name)
		}
		seen[o.Name] = true

		switch o.Capturer {
		case CapturerWlroots, CapturerX11, CapturerNone:
		case "":
			addf("output %q: capturer is required", o.Name)
		default:
			addf("output %q: unknown capturer %q", o.Name, o.Capturer)
		}
		if o.Kind != OutputKindDdcUtil && o.Path == "" {
			addf("output %q: path is required", o.Name)
		}
	}

	switch c.Processor {
	case ProcessorVulkan, ProcessorOpenGL:
	default:
		addf("unknown processor %q", c.Processor)
	}

	t := c.Timing
	if t.SuccessDelay <= 0 || t.FailureDelay <= 0 || t.FenceTimeout <= 0 || t.IdleInterval <= 0 {
		addf("timing values must be positive")
	}
	if c.GPU.FinalMipLevels < 1 {
		addf("gpu.final_mip_levels must be at least 1")
	}
	if c.GPU.ReadbackBytes < 4 {
		addf("gpu.readback_bytes must hold at least one pixel")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		addf("api.port %d out of range", c.API.Port)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
